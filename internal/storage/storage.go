// Package storage writes replay verdicts next to the extracted frames so a
// recorded clip can be re-checked after a prompt or model change. Live
// monitoring keeps nothing on disk.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bdougie/vigil/internal/analyzer"
	"github.com/bdougie/vigil/internal/models"
)

const batchSize = 10 // Number of records buffered before a write

// ReportFile is the report's name inside a frame directory.
const ReportFile = "replay_report.json"

// Record is one frame's verdict as written to the report.
type Record struct {
	Frame        string  `json:"frame"`
	OffsetSec    float64 `json:"offset_sec"`
	Description  string  `json:"description,omitempty"`
	IsThreat     bool    `json:"is_threat"`
	AudioSeconds float64 `json:"audio_seconds,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// NewRecord flattens a replay report. interval is the extraction spacing.
func NewRecord(r analyzer.FrameReport, interval time.Duration) Record {
	rec := Record{
		Frame:        r.Frame,
		OffsetSec:    (time.Duration(r.Num-1) * interval).Seconds(),
		Description:  r.Result.Judgment.Description,
		IsThreat:     r.Result.Judgment.IsThreat,
		AudioSeconds: r.Result.Audio.Duration().Seconds(),
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
		// A failed synthesis still carries a judgment; anything else does not.
		if !errors.Is(r.Err, models.ErrSynthesis) {
			rec.Description = ""
			rec.IsThreat = false
		}
	}
	return rec
}

// ReportWriter batches records and rewrites the report file on flush. A new
// writer replaces whatever report the directory held before.
type ReportWriter struct {
	mu      sync.Mutex
	path    string
	records []Record
	pending int
}

// NewReportWriter writes to ReportFile inside frameDir.
func NewReportWriter(frameDir string) *ReportWriter {
	return &ReportWriter{path: filepath.Join(frameDir, ReportFile)}
}

// Path is where the report lands.
func (w *ReportWriter) Path() string { return w.path }

// Add buffers a record and writes the file when the batch is full.
func (w *ReportWriter) Add(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records = append(w.records, rec)
	w.pending++

	if w.pending >= batchSize {
		return w.flush()
	}
	return nil
}

// Flush writes every record added so far.
func (w *ReportWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flush()
}

func (w *ReportWriter) flush() error {
	if w.pending == 0 {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for report: %w", err)
	}

	tmp := w.path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(w.records); err != nil {
		file.Close()
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, w.path); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	w.pending = 0
	return nil
}

// Load reads a report written by ReportWriter.
func Load(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return records, nil
}
