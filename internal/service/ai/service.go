// Package ai adapts eino chat models to the single-prompt text generation
// the study tools need.
package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"studyhub/internal/apperr"
	"studyhub/internal/config"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

const systemPrompt = "You are a study assistant. Follow the formatting instructions in the prompt exactly."

// Generator produces text for a prompt. Stream reports partial output
// through onDelta and returns the complete text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Stream(ctx context.Context, prompt string, onDelta func(delta string) error) (string, error)
}

type chatGenerator struct {
	model   model.BaseChatModel
	timeout time.Duration
}

// NewGenerator wraps an eino chat model. timeout bounds each call; zero
// disables it.
func NewGenerator(m model.BaseChatModel, timeout time.Duration) Generator {
	return &chatGenerator{model: m, timeout: timeout}
}

// NewProviderGenerator builds the chat model for the configured provider.
func NewProviderGenerator(ctx context.Context, cfg *config.Config) (Generator, error) {
	provider := cfg.BasicConfig.Provider
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}
	token := provCfg.ResolveAPIKey(provider)
	if token == "" {
		return nil, fmt.Errorf("api key for provider %s not configured", provider)
	}

	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   provCfg.Model,
			APIKey:  token,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  token,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  provCfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    token,
			Model:     provCfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: 4096,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s chat model: %w", provider, err)
	}
	return NewGenerator(chatModel, cfg.BasicConfig.GenerationTimeoutDuration()), nil
}

func (g *chatGenerator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

func messagesFor(prompt string) []*schema.Message {
	return []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(prompt),
	}
}

func (g *chatGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	resp, err := g.model.Generate(ctx, messagesFor(prompt))
	if err != nil {
		return "", apperr.ExternalService(err, "generation failed")
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", apperr.ExternalService(nil, "generation returned no content")
	}
	return resp.Content, nil
}

func (g *chatGenerator) Stream(ctx context.Context, prompt string, onDelta func(string) error) (string, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	reader, err := g.model.Stream(ctx, messagesFor(prompt))
	if err != nil {
		return "", apperr.ExternalService(err, "generation failed")
	}
	defer reader.Close()

	var full strings.Builder
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", apperr.ExternalService(err, "generation stream failed")
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		full.WriteString(chunk.Content)
		if onDelta != nil {
			if err := onDelta(chunk.Content); err != nil {
				return "", err
			}
		}
	}
	if strings.TrimSpace(full.String()) == "" {
		return "", apperr.ExternalService(nil, "generation returned no content")
	}
	return full.String(), nil
}
