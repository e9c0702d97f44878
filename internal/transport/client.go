package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bdougie/vigil/internal/models"
)

// Client sends frames to a remote analysis service. It satisfies the same
// Analyze contract as the local pipeline.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Analyze posts the frame and maps the service's status codes back onto the
// error kinds: 400 -> ErrCapture, 502 -> ErrAnalysis, anything else that
// fails -> ErrTransport.
func (c *Client) Analyze(ctx context.Context, frame models.Frame) (models.AnalysisResult, error) {
	body, err := json.Marshal(AnalyzeRequest{ImageBase64: frame.DataURI()})
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/alert-system", bytes.NewReader(body))
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("%w: %w", models.ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("%w: %w", models.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := readError(resp.Body)
		switch resp.StatusCode {
		case http.StatusBadRequest:
			return models.AnalysisResult{}, fmt.Errorf("%w: service rejected frame: %s", models.ErrCapture, msg)
		case http.StatusBadGateway:
			return models.AnalysisResult{}, fmt.Errorf("%w: service: %s", models.ErrAnalysis, msg)
		default:
			return models.AnalysisResult{}, fmt.Errorf("%w: %s: %s", models.ErrTransport, resp.Status, msg)
		}
	}

	var out AnalyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.AnalysisResult{}, fmt.Errorf("%w: decode response: %w", models.ErrTransport, err)
	}

	result, err := fromResponse(out)
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("%w: %w", models.ErrTransport, err)
	}
	if out.Warning != "" {
		return result, &models.SynthesisError{Err: errors.New(out.Warning)}
	}
	return result, nil
}

func readError(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var e ErrorResponse
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		return e.Error
	}
	return string(bytes.TrimSpace(raw))
}
