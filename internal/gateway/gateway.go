// Package gateway calls the external language model with a bounded deadline.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/gpa-insight/internal/domain"
)

var (
	// ErrTimeout is returned when the model does not answer before the deadline.
	ErrTimeout = errors.New("model call timed out")
	// ErrNoOutput is returned when the model answers without usable text.
	ErrNoOutput = errors.New("model returned no usable output")
	// ErrUpstream wraps any other provider failure.
	ErrUpstream = errors.New("model call failed")
)

// Default and allowed deadlines for a single model call.
const (
	DefaultTimeout = 30 * time.Second
	MinTimeout     = time.Second
	MaxTimeout     = 2 * time.Minute
)

// Backend is a concrete model provider.
type Backend interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Generate sends the conversation and returns the model's text output.
	// Implementations must abort the outbound call when ctx is done.
	Generate(ctx context.Context, model string, messages []domain.ConversationMessage) (string, error)
}

// Completer is what the request pipeline depends on.
type Completer interface {
	Complete(ctx context.Context, messages []domain.ConversationMessage) (string, error)
}

// Observer receives one observation per model call.
type Observer interface {
	ObserveModelCall(provider, result string, elapsed time.Duration)
}

// Config holds gateway settings.
type Config struct {
	Model   string
	Timeout time.Duration
}

// Gateway bounds every Backend call with a per-call deadline.
type Gateway struct {
	backend  Backend
	model    string
	timeout  time.Duration
	observer Observer
	logger   *slog.Logger
}

// Ensure Gateway implements Completer.
var _ Completer = (*Gateway)(nil)

// Option customises a Gateway.
type Option func(*Gateway)

// WithObserver reports call outcomes to o.
func WithObserver(o Observer) Option {
	return func(g *Gateway) { g.observer = o }
}

// WithLogger sets the gateway logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// New creates a gateway around backend.
func New(backend Backend, cfg Config, opts ...Option) *Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	g := &Gateway{
		backend: backend,
		model:   cfg.Model,
		timeout: timeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Timeout returns the per-call deadline.
func (g *Gateway) Timeout() time.Duration {
	return g.timeout
}

type generateResult struct {
	text string
	err  error
}

// Complete sends messages to the backend and returns its raw text.
//
// The backend runs on its own goroutine under a context that is cancelled
// when the deadline passes or Complete returns. A reply that lands after the
// deadline is dropped, so a timed-out call can never turn into a success.
func (g *Gateway) Complete(ctx context.Context, messages []domain.ConversationMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan generateResult, 1)
	go func() {
		text, err := g.backend.Generate(ctx, g.model, messages)
		done <- generateResult{text: text, err: err}
	}()

	var res generateResult
	select {
	case res = <-done:
	case <-ctx.Done():
		return "", g.fail(ctx, start, ctx.Err())
	}

	if ctx.Err() != nil {
		return "", g.fail(ctx, start, ctx.Err())
	}
	if res.err != nil {
		return "", g.fail(ctx, start, res.err)
	}

	text := strings.TrimSpace(res.text)
	if text == "" {
		g.observe("no_output", start)
		return "", ErrNoOutput
	}

	g.observe("ok", start)
	return text, nil
}

func (g *Gateway) fail(ctx context.Context, start time.Time, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		g.observe("timeout", start)
		g.logger.Warn("model call timed out",
			"provider", g.backend.Name(),
			"model", g.model,
			"timeout", g.timeout,
		)
		return ErrTimeout
	}
	if errors.Is(err, context.Canceled) {
		g.observe("canceled", start)
		return fmt.Errorf("model call canceled: %w", err)
	}

	g.observe("error", start)
	g.logger.Error("model call failed",
		"provider", g.backend.Name(),
		"model", g.model,
		"error", err,
	)
	return fmt.Errorf("%w: %w", ErrUpstream, err)
}

func (g *Gateway) observe(result string, start time.Time) {
	if g.observer != nil {
		g.observer.ObserveModelCall(g.backend.Name(), result, time.Since(start))
	}
}
