// Package speech voices alert text through an OpenAI-compatible speech
// endpoint (Kokoro-FastAPI and friends) and decodes the raw PCM it returns.
package speech

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/bdougie/vigil/internal/models"
)

const (
	DefaultVoice = "bm_george"
	DefaultModel = "kokoro"
)

// Client requests 16-bit little-endian mono PCM and hands back float samples.
type Client struct {
	BaseURL    string
	Model      string
	Voice      string
	SampleRate int
	HTTP       *http.Client
}

func NewClient(baseURL, voice string) *Client {
	if voice == "" {
		voice = DefaultVoice
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Model:      DefaultModel,
		Voice:      voice,
		SampleRate: models.DefaultSampleRate,
		HTTP: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
}

// Synthesize voices text and returns the samples at c.SampleRate.
func (c *Client) Synthesize(ctx context.Context, text string) (*models.AlertAudio, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("empty text")
	}

	payload, err := json.Marshal(speechRequest{
		Model:          c.Model,
		Input:          text,
		Voice:          c.Voice,
		ResponseFormat: "pcm",
		Speed:          1.0,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("speech error: %s - %s", resp.Status, string(body))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read speech body: %w", err)
	}
	samples, err := DecodePCM16(raw)
	if err != nil {
		return nil, err
	}
	return &models.AlertAudio{Samples: samples, SampleRate: c.SampleRate}, nil
}

// DecodePCM16 converts signed 16-bit little-endian PCM to floats in [-1, 1).
func DecodePCM16(raw []byte) ([]float32, error) {
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("pcm16 payload has odd length %d", len(raw))
	}
	out := make([]float32, len(raw)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(raw[2*i:]))
		out[i] = float32(v) / 32768
	}
	return out, nil
}

// EncodeFloat32LE writes samples as raw 32-bit float little-endian PCM.
func EncodeFloat32LE(samples []float32) []byte {
	out := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(s))
	}
	return out
}
