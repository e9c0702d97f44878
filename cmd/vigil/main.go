package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/bdougie/vigil/internal/analyzer"
	"github.com/bdougie/vigil/internal/config"
	"github.com/bdougie/vigil/internal/extractor"
	"github.com/bdougie/vigil/internal/models"
	"github.com/bdougie/vigil/internal/playback"
	"github.com/bdougie/vigil/internal/scheduler"
	"github.com/bdougie/vigil/internal/speech"
	"github.com/bdougie/vigil/internal/storage"
	"github.com/bdougie/vigil/internal/transport"
)

const usage = `Usage:
  vigil watch  [--config vigil.yaml]                 sample the camera and alert on threats
  vigil serve  [--config vigil.yaml]                 run the analysis service
  vigil replay --video path/to/video.mp4 [--config vigil.yaml] [--output dir]`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}
	cmd := os.Args[1]

	// Parse command line arguments
	var configPath, videoPath, outputDir string
	for i := 2; i < len(os.Args); i++ {
		switch os.Args[i] {
		case "--config":
			if i+1 < len(os.Args) {
				configPath = os.Args[i+1]
				i++
			}
		case "--video":
			if i+1 < len(os.Args) {
				videoPath = os.Args[i+1]
				i++
			}
		case "--output":
			if i+1 < len(os.Args) {
				outputDir = os.Args[i+1]
				i++
			}
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	level, _ := config.ParseLevel(cfg.LogLevel)

	// Configure logger
	logger := slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: "15:04:05",
		}),
	)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "watch":
		err = watch(ctx, cfg, logger)
	case "serve":
		err = serve(ctx, cfg, logger)
	case "replay":
		if videoPath == "" {
			fmt.Println(usage)
			os.Exit(1)
		}
		if outputDir != "" {
			cfg.Replay.OutputDir = outputDir
		}
		err = replay(ctx, cfg, logger, videoPath)
	default:
		fmt.Println(usage)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("vigil: exiting", "error", err)
		os.Exit(1)
	}
}

// buildPipeline constructs both engines once and injects them.
func buildPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*analyzer.Pipeline, error) {
	var describer analyzer.Describer
	switch cfg.Vision.Backend {
	case "agent":
		visionAgent, err := analyzer.NewAgent(ctx, logger, cfg.Vision.URL, cfg.Vision.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vision agent: %w", err)
		}
		describer = &analyzer.AgentDescriber{Agent: visionAgent}
	default:
		ollama, err := analyzer.NewOllamaDescriber(cfg.Vision.URL, cfg.Vision.Model, cfg.Vision.MaxTokens)
		if err != nil {
			return nil, err
		}
		if err := ollama.Ping(ctx); err != nil {
			logger.Warn("vigil: ollama not reachable yet", "url", cfg.Vision.URL, "error", err)
		}
		describer = ollama
	}

	speaker := speech.NewClient(cfg.Speech.URL, cfg.Speech.Voice)
	speaker.SampleRate = cfg.Speech.SampleRate

	return analyzer.NewPipeline(describer, speaker, analyzer.PipelineOptions{
		DescribeTimeout:   cfg.Vision.Timeout,
		SynthesizeTimeout: cfg.Speech.Timeout,
		Logger:            logger,
	}), nil
}

// buildAnalyzer returns the remote service client when one is configured,
// the local pipeline otherwise.
func buildAnalyzer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (analyzer.Analyzer, error) {
	if cfg.Remote.URL != "" {
		logger.Info("vigil: using remote analysis service", "url", cfg.Remote.URL)
		return transport.NewClient(cfg.Remote.URL, cfg.Remote.Timeout), nil
	}
	return buildPipeline(ctx, cfg, logger)
}

func buildSource(cfg *config.Config) extractor.Source {
	if cfg.Capture.Dir != "" {
		return &extractor.DirSource{Dir: cfg.Capture.Dir}
	}
	return &extractor.FFmpegSource{
		Device:      cfg.Capture.Device,
		InputFormat: cfg.Capture.InputFormat,
	}
}

func watch(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := buildAnalyzer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	source := buildSource(cfg)

	var sink scheduler.Sink
	if cfg.Playback.Enabled {
		player := playback.NewPlayer(playback.CommandRenderer{Binary: cfg.Playback.Binary}, playback.Options{
			Rate:   cfg.Playback.Rate,
			Voices: cfg.Playback.Voices,
			Logger: logger,
		})
		defer player.Close()
		sink = player
	}

	s := scheduler.New(source, a, sink, scheduler.Options{
		Interval:    cfg.Schedule.Interval,
		SettleDelay: cfg.Schedule.SettleDelay,
		RunTimeout:  cfg.Schedule.RunTimeout,
		LogCapacity: cfg.Schedule.LogCapacity,
		Logger:      logger,
	})

	if cfg.Server.StatusListen != "" {
		srv := &http.Server{
			Addr:              cfg.Server.StatusListen,
			Handler:           transport.NewStatusHandler(s),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("vigil: status endpoint listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("vigil: status endpoint failed", "error", err)
			}
		}()
		defer shutdown(srv, logger)
	}

	ready := extractor.WaitReady(ctx, source, cfg.Capture.ReadyPoll, logger)
	return s.Run(ctx, ready)
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	pipeline, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           transport.NewServer(pipeline, transport.ServerOptions{Logger: logger}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("vigil: analysis service listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdown(srv, logger)
		return nil
	}
}

func replay(ctx context.Context, cfg *config.Config, logger *slog.Logger, videoPath string) error {
	a, err := buildAnalyzer(ctx, cfg, logger)
	if err != nil {
		return err
	}

	outputDir := cfg.Replay.OutputDir
	keep := outputDir != ""
	if !keep {
		tmp, err := os.MkdirTemp("", "vigil-replay-*")
		if err != nil {
			return err
		}
		defer os.RemoveAll(tmp)
		outputDir = tmp
	}

	processor := analyzer.NewProcessor(a, cfg.Replay.Workers, logger)
	reports, err := processor.ProcessVideo(ctx, videoPath, outputDir, cfg.Replay.Interval)
	if err != nil {
		return err
	}

	var report *storage.ReportWriter
	if keep {
		videoName := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
		report = storage.NewReportWriter(filepath.Join(outputDir, videoName))
	}

	threats := 0
	for _, r := range reports {
		if report != nil {
			if err := report.Add(storage.NewRecord(r, cfg.Replay.Interval)); err != nil {
				return err
			}
		}
		offset := time.Duration(r.Num-1) * cfg.Replay.Interval
		switch {
		case r.Err != nil && !errors.As(r.Err, new(*models.SynthesisError)):
			fmt.Printf("%s  %-16s ERROR   %v\n", offset, r.Frame, r.Err)
		case r.Result.Judgment.IsThreat:
			threats++
			fmt.Printf("%s  %-16s THREAT  %s\n", offset, r.Frame, r.Result.Judgment.Description)
		default:
			fmt.Printf("%s  %-16s safe    %s\n", offset, r.Frame, r.Result.Judgment.Description)
		}
	}
	fmt.Printf("Replay completed: %d frames, %d threats\n", len(reports), threats)

	if report != nil {
		if err := report.Flush(); err != nil {
			return err
		}
		logger.Info("vigil: replay report written", "path", report.Path())
	}
	return nil
}

func shutdown(srv *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("vigil: server shutdown", "error", err)
	}
}
