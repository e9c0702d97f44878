package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"

	"github.com/agent-api/core/pkg/agent"
	"github.com/agent-api/core/types"
	"github.com/agent-api/ollama"

	"github.com/bdougie/vigil/internal/models"
)

// NewAgent initializes a vision agent backed by the Ollama server at baseURL.
func NewAgent(ctx context.Context, logger *slog.Logger, baseURL, modelID string) (*agent.DefaultAgent, error) {
	// Check if Ollama is running
	health, err := NewOllamaDescriber(baseURL, modelID, 0)
	if err != nil {
		return nil, err
	}
	if err := health.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ollama not reachable at %s: %w", baseURL, err)
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama url: %w", err)
	}
	port := 11434
	if p := u.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			return nil, fmt.Errorf("parse ollama port: %w", err)
		}
	}

	// Set up Ollama provider
	opts := &ollama.ProviderOpts{
		Logger:  logger,
		BaseURL: u.Scheme + "://" + u.Hostname(),
		Port:    port,
	}
	provider := ollama.NewProvider(opts)

	model := &types.Model{
		ID: modelID,
	}
	provider.UseModel(ctx, model)

	agentConf := &agent.NewAgentConfig{
		Provider:     provider,
		Logger:       logger,
		SystemPrompt: SystemPrompt,
	}

	return agent.NewAgent(agentConf), nil
}

// AgentDescriber runs frames through an agent. The agent API reads images
// from disk, so each frame is staged in a temp file for the call.
type AgentDescriber struct {
	Agent *agent.DefaultAgent
	// TempDir defaults to os.TempDir().
	TempDir string
}

func (d *AgentDescriber) Describe(ctx context.Context, frame models.Frame) (string, error) {
	f, err := os.CreateTemp(d.TempDir, "vigil-frame-*.jpg")
	if err != nil {
		return "", fmt.Errorf("stage frame: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(frame.Data); err != nil {
		f.Close()
		return "", fmt.Errorf("stage frame: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("stage frame: %w", err)
	}

	response := d.Agent.Run(
		ctx,
		agent.WithInput(Instruction),
		agent.WithImagePath(f.Name()),
	)
	if response.Err != nil {
		return "", response.Err
	}

	// The model's reply is the last message
	if len(response.Messages) == 0 {
		return "", fmt.Errorf("no response messages received from model")
	}
	return response.Messages[len(response.Messages)-1].Content, nil
}
