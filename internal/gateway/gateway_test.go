package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/gpa-insight/internal/domain"
)

type fakeBackend struct {
	generate func(ctx context.Context, model string, messages []domain.ConversationMessage) (string, error)
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Generate(ctx context.Context, model string, messages []domain.ConversationMessage) (string, error) {
	return f.generate(ctx, model, messages)
}

type recordingObserver struct {
	mu      sync.Mutex
	results []string
}

func (o *recordingObserver) ObserveModelCall(_, result string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, result)
}

func (o *recordingObserver) last() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.results) == 0 {
		return ""
	}
	return o.results[len(o.results)-1]
}

var testMessages = []domain.ConversationMessage{
	{Role: domain.RoleSystem, Content: "sys"},
	{Role: domain.RoleUser, Content: "hi"},
}

func TestCompleteReturnsText(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	g := New(&fakeBackend{generate: func(_ context.Context, model string, msgs []domain.ConversationMessage) (string, error) {
		if model != "test-model" {
			t.Errorf("expected model test-model, got %q", model)
		}
		if len(msgs) != 2 {
			t.Errorf("expected 2 messages, got %d", len(msgs))
		}
		return "  {\"reply\":\"ok\"}\n", nil
	}}, Config{Model: "test-model", Timeout: time.Second}, WithObserver(obs))

	text, err := g.Complete(context.Background(), testMessages)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if text != `{"reply":"ok"}` {
		t.Fatalf("unexpected text: %q", text)
	}
	if obs.last() != "ok" {
		t.Fatalf("expected ok observation, got %q", obs.last())
	}
}

func TestCompleteTimesOutWhenBackendHonoursContext(t *testing.T) {
	t.Parallel()

	aborted := make(chan struct{})
	g := New(&fakeBackend{generate: func(ctx context.Context, _ string, _ []domain.ConversationMessage) (string, error) {
		<-ctx.Done()
		close(aborted)
		return "", ctx.Err()
	}}, Config{Timeout: 20 * time.Millisecond})

	_, err := g.Complete(context.Background(), testMessages)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	select {
	case <-aborted:
	case <-time.After(time.Second):
		t.Fatal("expected backend context to be cancelled")
	}
}

func TestCompleteTimesOutWhenBackendIgnoresContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)

	obs := &recordingObserver{}
	g := New(&fakeBackend{generate: func(_ context.Context, _ string, _ []domain.ConversationMessage) (string, error) {
		<-release
		return `{"reply":"too late"}`, nil
	}}, Config{Timeout: 20 * time.Millisecond}, WithObserver(obs))

	start := time.Now()
	text, err := g.Complete(context.Background(), testMessages)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if text != "" {
		t.Fatalf("expected no text after timeout, got %q", text)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("Complete blocked for %s after the deadline", elapsed)
	}
	if obs.last() != "timeout" {
		t.Fatalf("expected timeout observation, got %q", obs.last())
	}
}

func TestCompleteBlankOutputIsError(t *testing.T) {
	t.Parallel()

	g := New(&fakeBackend{generate: func(context.Context, string, []domain.ConversationMessage) (string, error) {
		return " \n\t", nil
	}}, Config{Timeout: time.Second})

	if _, err := g.Complete(context.Background(), testMessages); !errors.Is(err, ErrNoOutput) {
		t.Fatalf("expected ErrNoOutput, got %v", err)
	}
}

func TestCompleteWrapsBackendError(t *testing.T) {
	t.Parallel()

	boom := errors.New("502 bad gateway")
	g := New(&fakeBackend{generate: func(context.Context, string, []domain.ConversationMessage) (string, error) {
		return "", boom
	}}, Config{Timeout: time.Second})

	_, err := g.Complete(context.Background(), testMessages)
	if !errors.Is(err, ErrUpstream) || !errors.Is(err, boom) {
		t.Fatalf("expected ErrUpstream wrapping backend error, got %v", err)
	}
}

func TestCompleteCallerCancellation(t *testing.T) {
	t.Parallel()

	g := New(&fakeBackend{generate: func(ctx context.Context, _ string, _ []domain.ConversationMessage) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}, Config{Timeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Complete(ctx, testMessages)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Fatal("caller cancellation must not be reported as a timeout")
	}
}

func TestNewAppliesDefaultTimeout(t *testing.T) {
	t.Parallel()

	g := New(&fakeBackend{}, Config{})
	if g.Timeout() != DefaultTimeout {
		t.Fatalf("expected %s, got %s", DefaultTimeout, g.Timeout())
	}
}

func TestParseProvider(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Provider{
		"":           ProviderOpenAI,
		"OpenAI":     ProviderOpenAI,
		" anthropic": ProviderAnthropic,
		"http":       ProviderHTTP,
	} {
		got, err := ParseProvider(in)
		if err != nil || got != want {
			t.Errorf("ParseProvider(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseProvider("gemini"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestNewBackendRequiresCredentials(t *testing.T) {
	t.Parallel()

	if _, err := NewBackend(BackendConfig{Provider: ProviderOpenAI}); err == nil {
		t.Error("expected openai without key to fail")
	}
	if _, err := NewBackend(BackendConfig{Provider: ProviderAnthropic}); err == nil {
		t.Error("expected anthropic without key to fail")
	}
	if _, err := NewBackend(BackendConfig{Provider: ProviderHTTP}); err == nil {
		t.Error("expected http without base URL to fail")
	}

	b, err := NewBackend(BackendConfig{Provider: ProviderHTTP, BaseURL: "http://localhost:11434/v1/responses"})
	if err != nil || b.Name() != "http" {
		t.Fatalf("expected http backend, got %v, %v", b, err)
	}
}
