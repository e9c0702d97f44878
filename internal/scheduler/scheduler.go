// Package scheduler drives the capture-analyze-alert loop: it samples the
// frame source on a fixed cadence once the device is ready, keeps at most one
// analysis in flight, and fans each outcome out to the activity log and the
// playback sink.
//
// Typical usage:
//
//	s := scheduler.New(source, pipeline, player, scheduler.Options{Interval: 15 * time.Second})
//	go s.Run(ctx, extractor.WaitReady(ctx, source, time.Second, logger))
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/bdougie/vigil/internal/models"
)

// Source produces a frame on demand.
type Source interface {
	Capture(ctx context.Context) (models.Frame, error)
}

// Analyzer judges a frame and, for threats, voices it.
type Analyzer interface {
	Analyze(ctx context.Context, frame models.Frame) (models.AnalysisResult, error)
}

// Sink plays alert audio without blocking. It reports whether the clip was accepted.
type Sink interface {
	Play(clip *models.AlertAudio) bool
}

// State is the scheduler's lifecycle position.
type State int32

const (
	StateNotReady State = iota
	StateReady
	StateBusy
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotReady:
		return "not_ready"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options tunes the scheduler.
type Options struct {
	// Interval between ticks. Default: 15s.
	Interval time.Duration
	// SettleDelay is the wait between readiness and the first run. Default: 2s.
	SettleDelay time.Duration
	// RunTimeout bounds one capture-analyze-alert run. 0 means no bound.
	RunTimeout time.Duration
	// LogCapacity is the activity log size. Default: 50.
	LogCapacity int
	// Clock overrides the real clock.
	Clock clockwork.Clock
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = 15 * time.Second
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	} else if o.SettleDelay == 0 {
		o.SettleDelay = 2 * time.Second
	}
	if o.LogCapacity <= 0 {
		o.LogCapacity = 50
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Status is a point-in-time view for operators.
type Status struct {
	State       string     `json:"state"`
	Busy        bool       `json:"busy"`
	Threat      bool       `json:"threat"`
	Description string     `json:"description,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	Runs        int64      `json:"runs"`
	Dropped     int64      `json:"dropped_ticks"`
	Failures    int64      `json:"failures"`
}

// Scheduler owns the busy flag and the activity log.
type Scheduler struct {
	source   Source
	analyzer Analyzer
	sink     Sink
	opts     Options
	log      *LogRing

	state    atomic.Int32
	busy     atomic.Bool
	inflight sync.WaitGroup

	mu          sync.Mutex
	threat      bool
	description string
	lastRunAt   time.Time

	runs     atomic.Int64
	dropped  atomic.Int64
	failures atomic.Int64
}

// New builds a scheduler. sink may be nil when audio is not wanted.
func New(source Source, analyzer Analyzer, sink Sink, opts Options) *Scheduler {
	opts.defaults()
	return &Scheduler{
		source:   source,
		analyzer: analyzer,
		sink:     sink,
		opts:     opts,
		log:      NewLogRing(opts.LogCapacity, opts.Clock),
	}
}

// Log exposes the activity log.
func (s *Scheduler) Log() *LogRing { return s.log }

// State returns the current lifecycle state.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// Busy reports whether a run is in flight.
func (s *Scheduler) Busy() bool { return s.busy.Load() }

// Status returns the current counters and threat indicator.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:       s.State().String(),
		Busy:        s.busy.Load(),
		Threat:      s.threat,
		Description: s.description,
		Runs:        s.runs.Load(),
		Dropped:     s.dropped.Load(),
		Failures:    s.failures.Load(),
	}
	if !s.lastRunAt.IsZero() {
		last := s.lastRunAt
		st.LastRunAt = &last
	}
	return st
}

// Run blocks until ctx is cancelled. Nothing happens until ready is closed;
// then the first run starts after SettleDelay and one tick fires every
// Interval. Ticks that land while a run is in flight are dropped.
//
// Cancelling ctx stops both timers. A run already in flight is not
// cancelled; Run waits for it before returning.
func (s *Scheduler) Run(ctx context.Context, ready <-chan struct{}) error {
	log := s.opts.Logger
	defer func() {
		s.state.Store(int32(StateStopped))
		s.inflight.Wait()
		log.Info("scheduler: stopped")
	}()

	s.log.Append(models.CategoryInfo, "Waiting for capture device")
	select {
	case <-ctx.Done():
		return nil
	case <-ready:
	}

	s.state.Store(int32(StateReady))
	s.log.Append(models.CategoryInfo, "Capture device ready")
	log.Info("scheduler: started", "interval", s.opts.Interval, "settle_delay", s.opts.SettleDelay)

	settle := s.opts.Clock.NewTimer(s.opts.SettleDelay)
	defer settle.Stop()

	var ticker clockwork.Ticker
	var tickC <-chan time.Time
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.log.Append(models.CategoryInfo, "Monitoring stopped")
			return nil

		case <-settle.Chan():
			s.tick(ctx)
			ticker = s.opts.Clock.NewTicker(s.opts.Interval)
			tickC = ticker.Chan()

		case <-tickC:
			s.tick(ctx)
		}
	}
}

// tick starts a run unless one is already in flight.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.busy.CompareAndSwap(false, true) {
		s.dropped.Add(1)
		s.opts.Logger.Debug("scheduler: tick dropped, run in flight")
		return
	}
	s.state.Store(int32(StateBusy))
	s.inflight.Add(1)

	// Teardown must not abort a run that already started.
	go s.run(context.WithoutCancel(ctx))
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.inflight.Done()
	defer func() {
		s.state.CompareAndSwap(int32(StateBusy), int32(StateReady))
		s.busy.Store(false)
	}()

	logger := s.opts.Logger.With("run_id", uuid.NewString())
	defer func() {
		if r := recover(); r != nil {
			s.report(logger, models.AnalysisResult{}, fmt.Errorf("%w: panic: %v", models.ErrAnalysis, r))
		}
	}()

	if s.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = clockwork.WithTimeout(ctx, s.opts.Clock, s.opts.RunTimeout)
		defer cancel()
	}

	s.runs.Add(1)
	start := s.opts.Clock.Now()
	logger.Debug("scheduler: run started")

	frame, err := s.source.Capture(ctx)
	if err != nil {
		s.report(logger, models.AnalysisResult{}, fmt.Errorf("%w: %w", models.ErrCapture, err))
		return
	}

	result, err := s.analyzer.Analyze(ctx, frame)
	s.report(logger, result, err)
	logger.Debug("scheduler: run finished", "duration", s.opts.Clock.Since(start))
}

// report fans one outcome out to the log, the threat indicator and the sink.
func (s *Scheduler) report(logger *slog.Logger, result models.AnalysisResult, err error) {
	s.mu.Lock()
	s.lastRunAt = s.opts.Clock.Now()
	s.mu.Unlock()

	var synthErr *models.SynthesisError
	switch {
	case errors.As(err, &synthErr):
		s.setThreat(true, result.Judgment.Description)
		s.log.Append(models.CategoryThreat, "THREAT DETECTED: "+result.Judgment.Description)
		s.log.Append(models.CategoryWarning, "Alert audio unavailable: "+synthErr.Err.Error())
		logger.Warn("scheduler: threat without audio", "description", result.Judgment.Description, "error", synthErr.Err)

	case err != nil:
		s.failures.Add(1)
		s.log.Append(models.CategoryError, errorLabel(err)+": "+err.Error())
		logger.Error("scheduler: run failed", "error", err)

	case result.Judgment.IsThreat:
		s.setThreat(true, result.Judgment.Description)
		s.log.Append(models.CategoryThreat, "THREAT DETECTED: "+result.Judgment.Description)
		logger.Warn("scheduler: threat detected", "description", result.Judgment.Description, "audio", result.Audio.Duration())
		if result.HasAudio() && s.sink != nil && !s.sink.Play(result.Audio) {
			s.log.Append(models.CategoryWarning, "Alert audio dropped by playback")
		}

	default:
		s.setThreat(false, "")
		s.log.Append(models.CategorySuccess, "Scene safe: "+result.Judgment.Description)
		logger.Info("scheduler: scene safe", "description", result.Judgment.Description)
	}
}

func (s *Scheduler) setThreat(threat bool, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threat = threat
	s.description = description
}

func errorLabel(err error) string {
	switch {
	case errors.Is(err, models.ErrCapture):
		return "Capture error"
	case errors.Is(err, models.ErrTransport):
		return "Transport error"
	case errors.Is(err, models.ErrAnalysis):
		return "Analysis error"
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	default:
		return "Error"
	}
}
