package playback

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/bdougie/vigil/internal/models"
	"github.com/bdougie/vigil/internal/speech"
)

// DefaultRate plays alerts faster than recorded to cut dead air.
const DefaultRate = 1.6

// Renderer makes samples audible. rate scales playback speed the way a
// browser's playbackRate does: pitch moves with it.
type Renderer interface {
	Render(ctx context.Context, samples []float32, sampleRate int, rate float64) error
}

// CommandRenderer pipes raw float PCM into ffplay.
type CommandRenderer struct {
	// Binary defaults to "ffplay".
	Binary string
}

func (r CommandRenderer) Render(ctx context.Context, samples []float32, sampleRate int, rate float64) error {
	bin := r.Binary
	if bin == "" {
		bin = "ffplay"
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin,
		"-nodisp",
		"-autoexit",
		"-hide_banner",
		"-loglevel", "error",
		"-f", "f32le",
		"-ar", strconv.Itoa(EffectiveRate(sampleRate, rate)),
		"-ac", "1",
		"-i", "pipe:0",
	)
	cmd.Stdin = bytes.NewReader(speech.EncodeFloat32LE(samples))
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffplay: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}

// EffectiveRate is the sample rate to declare so the clip plays rate times faster.
func EffectiveRate(sampleRate int, rate float64) int {
	if rate <= 0 {
		rate = 1
	}
	return int(math.Round(float64(sampleRate) * rate))
}

// Options tunes a Player.
type Options struct {
	// Rate is the playback speed multiplier. Default: DefaultRate.
	Rate float64
	// Voices is how many clips may sound at once. Default: 4.
	Voices int
	// QueueSize bounds clips waiting for a free voice. Default: 8.
	QueueSize int
	Logger    *slog.Logger
}

func (o *Options) defaults() {
	if o.Rate <= 0 {
		o.Rate = DefaultRate
	}
	if o.Voices <= 0 {
		o.Voices = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 8
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Player is a fire-and-forget sink. Each clip plays once on its own voice;
// overlapping clips are layered with no ordering between them.
type Player struct {
	renderer Renderer
	opts     Options
	queue    chan *models.AlertAudio
	wg       sync.WaitGroup

	// mu guards closed against a send racing Close.
	mu     sync.RWMutex
	closed bool

	played  atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Played  int64 `json:"played"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
}

// NewPlayer starts the voice goroutines.
func NewPlayer(renderer Renderer, opts Options) *Player {
	opts.defaults()
	p := &Player{
		renderer: renderer,
		opts:     opts,
		queue:    make(chan *models.AlertAudio, opts.QueueSize),
	}
	p.startVoices()
	return p
}

func (p *Player) startVoices() {
	for i := 0; i < p.opts.Voices; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for clip := range p.queue {
				rate := clip.SampleRate
				if rate <= 0 {
					rate = models.DefaultSampleRate
				}
				if err := p.renderer.Render(context.Background(), clip.Samples, rate, p.opts.Rate); err != nil {
					p.failed.Add(1)
					p.opts.Logger.Error("playback: render failed", "error", err)
					continue
				}
				p.played.Add(1)
			}
		}()
	}
}

// Play hands a clip to a free voice without waiting for it to sound. It
// returns false when the clip was dropped: empty, player closed, or queue full.
func (p *Player) Play(clip *models.AlertAudio) bool {
	if clip == nil || len(clip.Samples) == 0 {
		return false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}

	select {
	case p.queue <- clip:
		return true
	default:
		p.dropped.Add(1)
		p.opts.Logger.Warn("playback: queue full, clip dropped", "duration", clip.Duration())
		return false
	}
}

// Stats returns the current counters.
func (p *Player) Stats() Stats {
	return Stats{
		Played:  p.played.Load(),
		Dropped: p.dropped.Load(),
		Failed:  p.failed.Load(),
	}
}

// Close stops accepting clips and waits for queued ones to finish.
func (p *Player) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}
