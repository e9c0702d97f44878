package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bdougie/vigil/internal/extractor"
	"github.com/bdougie/vigil/internal/models"
)

const maxWorkers = 4 // Adjust based on your CPU cores

// Analyzer is anything that can judge a frame: the local Pipeline or a
// remote analysis service.
type Analyzer interface {
	Analyze(ctx context.Context, frame models.Frame) (models.AnalysisResult, error)
}

// FrameReport is the replay outcome for one extracted frame.
type FrameReport struct {
	Frame  string
	Num    int
	Result models.AnalysisResult
	Err    error
}

// Processor replays a recorded video through an Analyzer.
type Processor struct {
	analyzer Analyzer
	workers  int
	logger   *slog.Logger
}

func NewProcessor(a Analyzer, workers int, logger *slog.Logger) *Processor {
	if workers <= 0 {
		workers = maxWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		analyzer: a,
		workers:  workers,
		logger:   logger,
	}
}

// ProcessVideo extracts one frame per interval from videoPath into outputDir
// and analyzes every frame. Reports come back in frame order.
func (p *Processor) ProcessVideo(ctx context.Context, videoPath, outputDir string, interval time.Duration) ([]FrameReport, error) {
	p.logger.Info("replay: processing video", "video", videoPath, "interval", interval)

	frameDirPath, err := extractor.ExtractFrames(ctx, videoPath, outputDir, interval)
	if err != nil {
		return nil, err
	}

	frames, err := extractor.ListFrames(frameDirPath)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("no JPEG frames found in directory '%s'", frameDirPath)
	}

	p.logger.Info("replay: frames extracted", "count", len(frames), "dir", frameDirPath)
	return p.processFrames(ctx, frames, frameDirPath), nil
}

func (p *Processor) processFrames(ctx context.Context, frames []string, frameDirPath string) []FrameReport {
	workChan := make(chan models.WorkItem, len(frames))
	resultsChan := make(chan FrameReport, len(frames))

	var wg sync.WaitGroup

	remainingFrames := atomic.Int64{}
	remainingFrames.Store(int64(len(frames)))

	// Start worker pool
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for work := range workChan {
				report := FrameReport{Frame: work.FramePath, Num: work.FrameNum}
				report.Result, report.Err = p.analyzeFile(ctx, filepath.Join(frameDirPath, work.FramePath))
				resultsChan <- report

				remaining := remainingFrames.Add(-1)
				p.logger.Debug("replay: frame done", "frame", work.FrameNum, "total", work.Total, "remaining", remaining)
			}
		}()
	}

	// Send work to workers
	for i, frame := range frames {
		workChan <- models.WorkItem{
			FramePath: frame,
			FrameNum:  i + 1,
			Total:     len(frames),
		}
	}
	close(workChan)

	wg.Wait()
	close(resultsChan)

	reports := make([]FrameReport, 0, len(frames))
	for r := range resultsChan {
		reports = append(reports, r)
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Num < reports[j].Num })
	return reports
}

func (p *Processor) analyzeFile(ctx context.Context, path string) (models.AnalysisResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("%w: read frame: %w", models.ErrCapture, err)
	}
	info, _ := os.Stat(path)
	frame := models.Frame{Data: data, MIME: "image/jpeg"}
	if info != nil {
		frame.CapturedAt = info.ModTime()
	}
	return p.analyzer.Analyze(ctx, frame)
}
