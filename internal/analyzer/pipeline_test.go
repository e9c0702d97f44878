package analyzer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bdougie/vigil/internal/models"
)

type stubDescriber struct {
	reply string
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (d *stubDescriber) Describe(ctx context.Context, frame models.Frame) (string, error) {
	d.calls.Add(1)
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return d.reply, d.err
}

type stubSpeaker struct {
	audio *models.AlertAudio
	err   error
	calls atomic.Int32
	text  atomic.Value
}

func (s *stubSpeaker) Synthesize(ctx context.Context, text string) (*models.AlertAudio, error) {
	s.calls.Add(1)
	s.text.Store(text)
	return s.audio, s.err
}

func testFrame() models.Frame {
	return models.Frame{Data: []byte{0xff, 0xd8, 0xff}, MIME: "image/jpeg"}
}

func testPipeline(d Describer, s Speaker) *Pipeline {
	return NewPipeline(d, s, PipelineOptions{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
}

func TestPipelineSafeFrameSkipsSpeech(t *testing.T) {
	d := &stubDescriber{reply: `{"description": "a person reading a book", "is_threat": false}`}
	s := &stubSpeaker{audio: &models.AlertAudio{Samples: []float32{0.5}, SampleRate: 24000}}

	result, err := testPipeline(d, s).Analyze(context.Background(), testFrame())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if result.Judgment.IsThreat || result.Judgment.Description != "a person reading a book" {
		t.Fatalf("unexpected judgment %+v", result.Judgment)
	}
	if result.HasAudio() {
		t.Fatal("safe frame should carry no audio")
	}
	if s.calls.Load() != 0 {
		t.Fatalf("speech engine called %d times", s.calls.Load())
	}
}

func TestPipelineThreatProducesAudio(t *testing.T) {
	d := &stubDescriber{reply: `{"description": "a man holding a knife", "is_threat": true}`}
	clip := &models.AlertAudio{Samples: []float32{0.1, 0.2, 0.3}, SampleRate: 24000}
	s := &stubSpeaker{audio: clip}

	result, err := testPipeline(d, s).Analyze(context.Background(), testFrame())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !result.Judgment.IsThreat {
		t.Fatalf("expected threat, got %+v", result.Judgment)
	}
	if result.Audio != clip {
		t.Fatalf("expected synthesized clip, got %+v", result.Audio)
	}
	if s.calls.Load() != 1 {
		t.Fatalf("speech engine called %d times, want 1", s.calls.Load())
	}
	if got := s.text.Load().(string); got != "Warning! Threat detected. a man holding a knife" {
		t.Fatalf("unexpected alert text %q", got)
	}
}

func TestPipelineSynthesisFailureKeepsJudgment(t *testing.T) {
	d := &stubDescriber{reply: `{"description": "a man holding a knife", "is_threat": true}`}
	s := &stubSpeaker{err: errors.New("kokoro down")}

	result, err := testPipeline(d, s).Analyze(context.Background(), testFrame())
	var synthErr *models.SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("expected SynthesisError, got %v", err)
	}
	if !errors.Is(err, models.ErrSynthesis) {
		t.Fatalf("error %v does not wrap ErrSynthesis", err)
	}
	if !result.Judgment.IsThreat || result.Judgment.Description != "a man holding a knife" {
		t.Fatalf("judgment lost: %+v", result.Judgment)
	}
	if result.HasAudio() {
		t.Fatal("expected no audio")
	}
}

func TestPipelineEmptyAudioIsSynthesisFailure(t *testing.T) {
	d := &stubDescriber{reply: `{"description": "a fight", "is_threat": true}`}
	s := &stubSpeaker{audio: &models.AlertAudio{SampleRate: 24000}}

	_, err := testPipeline(d, s).Analyze(context.Background(), testFrame())
	if !errors.Is(err, models.ErrSynthesis) {
		t.Fatalf("expected ErrSynthesis, got %v", err)
	}
}

func TestPipelineMissingSpeakerIsSynthesisFailure(t *testing.T) {
	d := &stubDescriber{reply: `{"description": "a fight", "is_threat": true}`}

	result, err := testPipeline(d, nil).Analyze(context.Background(), testFrame())
	if !errors.Is(err, models.ErrSynthesis) {
		t.Fatalf("expected ErrSynthesis, got %v", err)
	}
	if !result.Judgment.IsThreat {
		t.Fatal("judgment lost")
	}
}

func TestPipelineErrors(t *testing.T) {
	tests := []struct {
		name      string
		describer *stubDescriber
		frame     models.Frame
		want      error
	}{
		{
			name:      "empty frame",
			describer: &stubDescriber{reply: `{"description": "x", "is_threat": false}`},
			frame:     models.Frame{},
			want:      models.ErrCapture,
		},
		{
			name:      "describer failure",
			describer: &stubDescriber{err: errors.New("connection refused")},
			frame:     testFrame(),
			want:      models.ErrAnalysis,
		},
		{
			name:      "malformed reply",
			describer: &stubDescriber{reply: "not JSON"},
			frame:     testFrame(),
			want:      models.ErrAnalysis,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &stubSpeaker{}
			_, err := testPipeline(tt.describer, s).Analyze(context.Background(), tt.frame)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if s.calls.Load() != 0 {
				t.Fatalf("speech engine called %d times", s.calls.Load())
			}
		})
	}
}

func TestPipelineDescribeTimeout(t *testing.T) {
	d := &stubDescriber{reply: `{"description": "x", "is_threat": false}`, delay: time.Second}
	p := NewPipeline(d, nil, PipelineOptions{
		DescribeTimeout: 10 * time.Millisecond,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	_, err := p.Analyze(context.Background(), testFrame())
	if !errors.Is(err, models.ErrAnalysis) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected analysis timeout, got %v", err)
	}
}

func TestPipelineIsDeterministicForSameReply(t *testing.T) {
	d := &stubDescriber{reply: `{"description": "a delivery driver at the door", "is_threat": false}`}
	p := testPipeline(d, &stubSpeaker{})

	first, err := p.Analyze(context.Background(), testFrame())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	second, err := p.Analyze(context.Background(), testFrame())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if first.Judgment != second.Judgment {
		t.Fatalf("judgments differ: %+v vs %+v", first.Judgment, second.Judgment)
	}
}
