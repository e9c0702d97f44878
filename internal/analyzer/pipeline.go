package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bdougie/vigil/internal/models"
)

// Speaker turns alert text into PCM audio.
type Speaker interface {
	Synthesize(ctx context.Context, text string) (*models.AlertAudio, error)
}

// PipelineOptions tunes a Pipeline.
type PipelineOptions struct {
	// DescribeTimeout bounds one description engine call. 0 means no bound.
	DescribeTimeout time.Duration
	// SynthesizeTimeout bounds one speech engine call. 0 means no bound.
	SynthesizeTimeout time.Duration
	Logger            *slog.Logger
}

// Pipeline classifies a frame and voices it when it is a threat. It keeps no
// state between calls.
type Pipeline struct {
	describer Describer
	speaker   Speaker
	opts      PipelineOptions
}

func NewPipeline(describer Describer, speaker Speaker, opts PipelineOptions) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pipeline{
		describer: describer,
		speaker:   speaker,
		opts:      opts,
	}
}

// Analyze runs one frame through the engines.
//
// Errors wrap models.ErrCapture for an empty frame and models.ErrAnalysis
// when the description engine fails or answers with something unparsable.
// When synthesis fails the returned result still carries the judgment, with
// no audio, alongside a *models.SynthesisError.
func (p *Pipeline) Analyze(ctx context.Context, frame models.Frame) (models.AnalysisResult, error) {
	if len(frame.Data) == 0 {
		return models.AnalysisResult{}, fmt.Errorf("%w: empty frame", models.ErrCapture)
	}

	judgment, err := p.describe(ctx, frame)
	if err != nil {
		return models.AnalysisResult{}, err
	}
	result := models.AnalysisResult{Judgment: judgment}

	if !judgment.IsThreat {
		return result, nil
	}

	audio, err := p.synthesize(ctx, AlertPhrase(judgment.Description))
	if err != nil {
		p.opts.Logger.Warn("pipeline: alert has no audio", "error", err)
		return result, &models.SynthesisError{Err: err}
	}
	result.Audio = audio
	return result, nil
}

func (p *Pipeline) describe(ctx context.Context, frame models.Frame) (models.FrameJudgment, error) {
	if p.opts.DescribeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.DescribeTimeout)
		defer cancel()
	}

	start := time.Now()
	text, err := p.describer.Describe(ctx, frame)
	if err != nil {
		return models.FrameJudgment{}, fmt.Errorf("%w: describe frame: %w", models.ErrAnalysis, err)
	}
	p.opts.Logger.Debug("pipeline: frame described", "duration", time.Since(start), "raw", text)

	return ParseJudgment(text)
}

func (p *Pipeline) synthesize(ctx context.Context, text string) (*models.AlertAudio, error) {
	if p.speaker == nil {
		return nil, errors.New("no speech engine configured")
	}
	if p.opts.SynthesizeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.SynthesizeTimeout)
		defer cancel()
	}

	audio, err := p.speaker.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}
	if audio == nil || len(audio.Samples) == 0 {
		return nil, errors.New("speech engine returned no samples")
	}
	return audio, nil
}
