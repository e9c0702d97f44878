package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/bdougie/vigil/internal/models"
)

// ErrNoFrame means the device answered but produced no image.
var ErrNoFrame = errors.New("no frame available")

// Source produces a still image on demand.
type Source interface {
	Capture(ctx context.Context) (models.Frame, error)
}

// FFmpegSource grabs single JPEG frames from a live device or stream URL.
type FFmpegSource struct {
	// Device is the ffmpeg input: /dev/video0, rtsp://..., a file.
	Device string
	// InputFormat is passed as -f before the input when set (v4l2, avfoundation, dshow).
	InputFormat string
	// Binary defaults to "ffmpeg".
	Binary string
}

func (s *FFmpegSource) args() []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if s.InputFormat != "" {
		args = append(args, "-f", s.InputFormat)
	}
	return append(args,
		"-i", s.Device,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-",
	)
}

// Capture runs ffmpeg once and returns the first frame it emits.
func (s *FFmpegSource) Capture(ctx context.Context) (models.Frame, error) {
	bin := s.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	if s.Device == "" {
		return models.Frame{}, fmt.Errorf("capture device not configured: %w", ErrNoFrame)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, s.args()...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return models.Frame{}, fmt.Errorf("ffmpeg capture from '%s': %w: %s", s.Device, err, bytes.TrimSpace(stderr.Bytes()))
	}
	if stdout.Len() == 0 {
		return models.Frame{}, ErrNoFrame
	}

	return models.Frame{
		Data:       stdout.Bytes(),
		MIME:       "image/jpeg",
		CapturedAt: time.Now(),
	}, nil
}

// ReadyChecker is implemented by sources that can report readiness without
// consuming a frame.
type ReadyChecker interface {
	CheckReady(ctx context.Context) error
}

// DirSource serves the JPEG files of a directory in name order, wrapping
// around at the end. Handy for running without a camera.
type DirSource struct {
	Dir string

	mu   sync.Mutex
	next int
}

func (s *DirSource) Capture(ctx context.Context) (models.Frame, error) {
	if err := ctx.Err(); err != nil {
		return models.Frame{}, err
	}
	frames, err := ListFrames(s.Dir)
	if err != nil {
		return models.Frame{}, err
	}
	if len(frames) == 0 {
		return models.Frame{}, fmt.Errorf("no JPEG frames found in directory '%s': %w", s.Dir, ErrNoFrame)
	}

	s.mu.Lock()
	name := frames[s.next%len(frames)]
	s.next++
	s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.Dir, name))
	if err != nil {
		return models.Frame{}, fmt.Errorf("failed to read frame '%s': %w", name, err)
	}
	return models.Frame{Data: data, MIME: "image/jpeg", CapturedAt: time.Now()}, nil
}

// CheckReady succeeds once the directory holds at least one JPEG. It leaves
// the rotation untouched.
func (s *DirSource) CheckReady(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frames, err := ListFrames(s.Dir)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return fmt.Errorf("no JPEG frames found in directory '%s': %w", s.Dir, ErrNoFrame)
	}
	return nil
}

// WaitReady checks src until it is ready and then closes the returned
// channel. Sources implementing ReadyChecker are asked directly; others must
// complete one capture. The channel is never closed if ctx ends first.
func WaitReady(ctx context.Context, src Source, poll time.Duration, logger *slog.Logger) <-chan struct{} {
	if logger == nil {
		logger = slog.Default()
	}
	if poll <= 0 {
		poll = time.Second
	}

	check := func(ctx context.Context) error {
		_, err := src.Capture(ctx)
		return err
	}
	if rc, ok := src.(ReadyChecker); ok {
		check = rc.CheckReady
	}

	ready := make(chan struct{})
	go func() {
		attempt := 0
		for {
			attempt++
			if err := check(ctx); err == nil {
				logger.Info("capture: device ready", "attempts", attempt)
				close(ready)
				return
			} else if ctx.Err() == nil {
				logger.Warn("capture: device not ready", "attempt", attempt, "error", err)
			}

			t := time.NewTimer(poll)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
	}()
	return ready
}
