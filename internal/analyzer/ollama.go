package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/bdougie/vigil/internal/models"
)

// Describer sends one frame to the description engine and returns its raw reply.
type Describer interface {
	Describe(ctx context.Context, frame models.Frame) (string, error)
}

// OllamaDescriber talks to Ollama's chat API with greedy decoding so the
// same frame always yields the same verdict.
type OllamaDescriber struct {
	Model     string
	MaxTokens int
	client    *api.Client
}

// NewOllamaDescriber returns a describer with a 120s client timeout.
func NewOllamaDescriber(baseURL, model string, maxTokens int) (*OllamaDescriber, error) {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse ollama url: %w", err)
	}
	return &OllamaDescriber{
		Model:     model,
		MaxTokens: maxTokens,
		client:    api.NewClient(base, &http.Client{Timeout: 120 * time.Second}),
	}, nil
}

func (d *OllamaDescriber) Describe(ctx context.Context, frame models.Frame) (string, error) {
	stream := false
	req := &api.ChatRequest{
		Model: d.Model,
		Messages: []api.Message{
			{Role: "system", Content: SystemPrompt},
			{
				Role:    "user",
				Content: Instruction,
				Images:  []api.ImageData{frame.Data},
			},
		},
		Stream: &stream,
		Format: json.RawMessage(`"json"`),
		Options: map[string]any{
			"num_predict": d.MaxTokens,
			"temperature": 0,
		},
	}

	var reply strings.Builder
	err := d.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		reply.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	return reply.String(), nil
}

// Ping checks that the Ollama server answers.
func (d *OllamaDescriber) Ping(ctx context.Context) error {
	return d.client.Heartbeat(ctx)
}
