package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"studyhub/internal/apperr"
	"studyhub/internal/config"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

type fakeChatModel struct {
	reply   string
	chunks  []string
	err     error
	delay   time.Duration
	prompts []string
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.prompts = append(f.prompts, input[len(input)-1].Content)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if f.err != nil {
		return nil, f.err
	}
	msgs := make([]*schema.Message, 0, len(f.chunks))
	for _, c := range f.chunks {
		msgs = append(msgs, schema.AssistantMessage(c, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func TestGenerateReturnsContent(t *testing.T) {
	fake := &fakeChatModel{reply: "answer"}
	gen := NewGenerator(fake, time.Second)

	out, err := gen.Generate(context.Background(), "question")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "answer" {
		t.Fatalf("unexpected output %q", out)
	}
	if len(fake.prompts) != 1 || fake.prompts[0] != "question" {
		t.Fatalf("prompt not forwarded: %#v", fake.prompts)
	}
}

func TestGenerateMapsFailuresToExternalService(t *testing.T) {
	gen := NewGenerator(&fakeChatModel{err: errors.New("503")}, time.Second)
	_, err := gen.Generate(context.Background(), "q")
	if !apperr.Is(err, apperr.KindExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}

	gen = NewGenerator(&fakeChatModel{reply: "   "}, time.Second)
	_, err = gen.Generate(context.Background(), "q")
	if !apperr.Is(err, apperr.KindExternalService) {
		t.Fatalf("expected external service error for empty reply, got %v", err)
	}
}

func TestGenerateTimeout(t *testing.T) {
	gen := NewGenerator(&fakeChatModel{reply: "late", delay: time.Second}, 20*time.Millisecond)
	_, err := gen.Generate(context.Background(), "q")
	if !apperr.Is(err, apperr.KindExternalService) {
		t.Fatalf("expected external service error on timeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded cause, got %v", err)
	}
}

func TestStreamCollectsDeltas(t *testing.T) {
	gen := NewGenerator(&fakeChatModel{chunks: []string{"Hel", "", "lo"}}, time.Second)
	var deltas []string
	out, err := gen.Stream(context.Background(), "q", func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if out != "Hello" || len(deltas) != 2 {
		t.Fatalf("unexpected stream result %q %#v", out, deltas)
	}
}

func TestStreamCallbackErrorStops(t *testing.T) {
	gen := NewGenerator(&fakeChatModel{chunks: []string{"a", "b"}}, time.Second)
	stop := errors.New("client gone")
	_, err := gen.Stream(context.Background(), "q", func(string) error { return stop })
	if !errors.Is(err, stop) {
		t.Fatalf("expected callback error, got %v", err)
	}
}

func TestNewProviderGeneratorValidation(t *testing.T) {
	cfg := config.Default()
	cfg.BasicConfig.Provider = "openai"
	if _, err := NewProviderGenerator(context.Background(), cfg); err == nil {
		t.Fatalf("expected error for unconfigured provider")
	}

	t.Setenv("OPENAI_API_KEY", "")
	cfg.Providers = map[string]config.ProviderConfig{"openai": {Model: "gpt-4o-mini"}}
	if _, err := NewProviderGenerator(context.Background(), cfg); err == nil {
		t.Fatalf("expected error for missing api key")
	}

	cfg.BasicConfig.Provider = "mistral"
	cfg.Providers["mistral"] = config.ProviderConfig{APIKey: "k"}
	if _, err := NewProviderGenerator(context.Background(), cfg); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
