// Package config loads vigil settings: .env first, then an optional YAML
// file, then VIGIL_* environment overrides, then defaults for anything unset.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/bdougie/vigil/internal/models"
)

// Config is the full application configuration.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Capture  CaptureConfig  `yaml:"capture"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Vision   VisionConfig   `yaml:"vision"`
	Speech   SpeechConfig   `yaml:"speech"`
	Playback PlaybackConfig `yaml:"playback"`
	Server   ServerConfig   `yaml:"server"`
	Remote   RemoteConfig   `yaml:"remote"`
	Replay   ReplayConfig   `yaml:"replay"`
}

type CaptureConfig struct {
	// Device is an ffmpeg input: /dev/video0, rtsp://..., a file.
	Device      string `yaml:"device"`
	InputFormat string `yaml:"input_format"`
	// Dir serves stored JPEGs instead of a device when set.
	Dir       string        `yaml:"dir"`
	ReadyPoll time.Duration `yaml:"ready_poll"`
}

type ScheduleConfig struct {
	Interval    time.Duration `yaml:"interval"`
	SettleDelay time.Duration `yaml:"settle_delay"`
	RunTimeout  time.Duration `yaml:"run_timeout"`
	LogCapacity int           `yaml:"log_capacity"`
}

type VisionConfig struct {
	// Backend is "ollama" (HTTP chat API) or "agent".
	Backend   string        `yaml:"backend"`
	URL       string        `yaml:"url"`
	Model     string        `yaml:"model"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

type SpeechConfig struct {
	URL        string        `yaml:"url"`
	Voice      string        `yaml:"voice"`
	SampleRate int           `yaml:"sample_rate"`
	Timeout    time.Duration `yaml:"timeout"`
}

type PlaybackConfig struct {
	Enabled bool    `yaml:"enabled"`
	Rate    float64 `yaml:"rate"`
	Voices  int     `yaml:"voices"`
	Binary  string  `yaml:"binary"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
	// StatusListen serves /status and /logs from the watch client. Empty disables it.
	StatusListen string `yaml:"status_listen"`
}

type RemoteConfig struct {
	// URL of an analysis service. When set, watch sends frames there
	// instead of running the engines locally.
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type ReplayConfig struct {
	Interval time.Duration `yaml:"interval"`
	// OutputDir keeps extracted frames. Empty means a temp dir removed afterwards.
	OutputDir string `yaml:"output_dir"`
	Workers   int    `yaml:"workers"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{Playback: PlaybackConfig{Enabled: true}}
	c.defaults()
	return c
}

func (c *Config) defaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Capture.ReadyPoll <= 0 {
		c.Capture.ReadyPoll = time.Second
	}
	if c.Schedule.Interval == 0 {
		c.Schedule.Interval = 15 * time.Second
	}
	if c.Schedule.SettleDelay == 0 {
		c.Schedule.SettleDelay = 2 * time.Second
	}
	if c.Schedule.RunTimeout == 0 {
		c.Schedule.RunTimeout = 2 * time.Minute
	}
	if c.Schedule.LogCapacity == 0 {
		c.Schedule.LogCapacity = 50
	}
	if c.Vision.Backend == "" {
		c.Vision.Backend = "ollama"
	}
	if c.Vision.URL == "" {
		c.Vision.URL = "http://localhost:11434"
	}
	if c.Vision.Model == "" {
		c.Vision.Model = "llama3.2-vision:11b"
	}
	if c.Vision.MaxTokens <= 0 {
		c.Vision.MaxTokens = 512
	}
	if c.Vision.Timeout == 0 {
		c.Vision.Timeout = 90 * time.Second
	}
	if c.Speech.URL == "" {
		c.Speech.URL = "http://localhost:8880"
	}
	if c.Speech.Voice == "" {
		c.Speech.Voice = "bm_george"
	}
	if c.Speech.SampleRate <= 0 {
		c.Speech.SampleRate = models.DefaultSampleRate
	}
	if c.Speech.Timeout == 0 {
		c.Speech.Timeout = 30 * time.Second
	}
	if c.Playback.Rate == 0 {
		c.Playback.Rate = 1.6
	}
	if c.Playback.Voices <= 0 {
		c.Playback.Voices = 4
	}
	if c.Playback.Binary == "" {
		c.Playback.Binary = "ffplay"
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":3000"
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = 2 * time.Minute
	}
	if c.Replay.Interval <= 0 {
		c.Replay.Interval = 15 * time.Second
	}
	if c.Replay.Workers <= 0 {
		c.Replay.Workers = 4
	}
}

// Load reads .env (if present), the YAML file at path (if non-empty) and the
// environment, in that order of increasing precedence.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c := &Config{Playback: PlaybackConfig{Enabled: true}}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	c.defaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("VIGIL_LOG_LEVEL", &c.LogLevel)
	str("VIGIL_CAPTURE_DEVICE", &c.Capture.Device)
	str("VIGIL_CAPTURE_FORMAT", &c.Capture.InputFormat)
	str("VIGIL_CAPTURE_DIR", &c.Capture.Dir)
	str("VIGIL_VISION_BACKEND", &c.Vision.Backend)
	str("VIGIL_OLLAMA_URL", &c.Vision.URL)
	str("VIGIL_VISION_MODEL", &c.Vision.Model)
	str("VIGIL_SPEECH_URL", &c.Speech.URL)
	str("VIGIL_SPEECH_VOICE", &c.Speech.Voice)
	str("VIGIL_LISTEN", &c.Server.Listen)
	str("VIGIL_STATUS_LISTEN", &c.Server.StatusListen)
	str("VIGIL_REMOTE_URL", &c.Remote.URL)

	if err := dur("VIGIL_INTERVAL", &c.Schedule.Interval); err != nil {
		return err
	}
	if err := dur("VIGIL_SETTLE_DELAY", &c.Schedule.SettleDelay); err != nil {
		return err
	}
	if err := dur("VIGIL_RUN_TIMEOUT", &c.Schedule.RunTimeout); err != nil {
		return err
	}

	if v, ok := lookup("VIGIL_PLAYBACK_RATE"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("VIGIL_PLAYBACK_RATE: %w", err)
		}
		c.Playback.Rate = f
	}
	if v, ok := lookup("VIGIL_PLAYBACK"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("VIGIL_PLAYBACK: %w", err)
		}
		c.Playback.Enabled = b
	}
	return nil
}

// Validate rejects settings the scheduler cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Schedule.Interval <= 0 {
		errs = append(errs, errors.New("schedule.interval must be positive"))
	}
	if c.Schedule.LogCapacity <= 0 {
		errs = append(errs, errors.New("schedule.log_capacity must be positive"))
	}
	if c.Playback.Rate <= 0 {
		errs = append(errs, errors.New("playback.rate must be positive"))
	}
	switch c.Vision.Backend {
	case "ollama", "agent":
	default:
		errs = append(errs, fmt.Errorf("vision.backend %q: want ollama or agent", c.Vision.Backend))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseLevel maps a log_level string onto slog.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("log_level %q: %w", s, err)
	}
	return l, nil
}
