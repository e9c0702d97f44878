package models

import (
	"encoding/base64"
	"time"
)

// DefaultSampleRate is the rate, in Hz, the speech engine renders alerts at.
const DefaultSampleRate = 24000

// WorkItem represents a frame to be processed during replay
type WorkItem struct {
	FramePath string
	FrameNum  int
	Total     int
}

// Frame is one captured still image. It lives only for a single pipeline run.
type Frame struct {
	Data       []byte
	MIME       string
	CapturedAt time.Time
}

// DataURI encodes the frame as a self-describing data URI.
func (f Frame) DataURI() string {
	mime := f.MIME
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
}

// FrameJudgment is the description engine's verdict for one frame.
type FrameJudgment struct {
	Description string `json:"description"`
	IsThreat    bool   `json:"is_threat"`
}

// AlertAudio is a mono PCM clip. A nil *AlertAudio means no audio.
type AlertAudio struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the clip length at its native rate.
func (a *AlertAudio) Duration() time.Duration {
	if a == nil || a.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(a.Samples)) * time.Second / time.Duration(a.SampleRate)
}

// AnalysisResult is the output of one pipeline run
type AnalysisResult struct {
	Judgment FrameJudgment
	Audio    *AlertAudio
}

// HasAudio reports whether the result carries a playable clip.
func (r AnalysisResult) HasAudio() bool {
	return r.Audio != nil && len(r.Audio.Samples) > 0
}

// Category classifies a log entry.
type Category string

const (
	CategoryInfo    Category = "info"
	CategorySuccess Category = "success"
	CategoryWarning Category = "warning"
	CategoryError   Category = "error"
	CategoryThreat  Category = "threat"
)

// LogEntry is one line of the operator-facing activity log
type LogEntry struct {
	ID        uint64    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Category  Category  `json:"category"`
}
