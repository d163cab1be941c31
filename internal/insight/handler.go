package insight

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ashureev/gpa-insight/internal/api"
	"github.com/ashureev/gpa-insight/internal/domain"
	"github.com/ashureev/gpa-insight/internal/gateway"
	"github.com/ashureev/gpa-insight/internal/identity"
	"github.com/ashureev/gpa-insight/internal/metrics"
	"github.com/ashureev/gpa-insight/internal/ratelimit"
	"github.com/ashureev/gpa-insight/internal/schema"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// DefaultMaxRequestBodySize is the default request body cap (1MB).
const DefaultMaxRequestBodySize = 1 << 20

// Paths the handler is mounted on. The second is kept for older clients.
const (
	Path       = "/api/insight"
	LegacyPath = "/api/gpa-insight"
)

const recordTimeout = 5 * time.Second

// DefaultMaxPendingRecords bounds the recordings in flight at once.
const DefaultMaxPendingRecords = 64

// RemainingHeader reports how many requests the client has left in its
// current window.
const RemainingHeader = "X-RateLimit-Remaining"

// Failure kinds used in logs.
const (
	failureRateLimited = "rate_limited"
	failureInvalid     = "invalid_request"
	failureMethod      = "method_not_allowed"
	failureTimeout     = "gateway_timeout"
	failureNoOutput    = "gateway_no_output"
	failureCanceled    = "canceled"
	failureGateway     = "gateway_error"
)

// Admitter decides whether a client may make another request.
type Admitter interface {
	Admit(clientKey string) ratelimit.Decision
	Remaining(clientKey string) int
	RetryAfter(clientKey string) time.Duration
}

// Recorder persists completed exchanges.
type Recorder interface {
	RecordInsight(ctx context.Context, rec *domain.InsightRecord) error
}

// Metrics counts request and reconciliation outcomes.
type Metrics interface {
	IncRequest(outcome string)
	IncReconcile(tier string)
}

type nopMetrics struct{}

func (nopMetrics) IncRequest(string)   {}
func (nopMetrics) IncReconcile(string) {}

// Handler serves the insight endpoint.
type Handler struct {
	limiter      Admitter
	service      *Service
	recorder     Recorder
	metrics      Metrics
	maxBodyBytes int64
	logger       *slog.Logger

	recordSlots chan struct{}
	pending     sync.WaitGroup
}

// Option customises a Handler.
type Option func(*Handler)

// WithRecorder records every successful exchange.
func WithRecorder(r Recorder) Option {
	return func(h *Handler) { h.recorder = r }
}

// WithMetrics reports request outcomes.
func WithMetrics(m Metrics) Option {
	return func(h *Handler) {
		if m != nil {
			h.metrics = m
		}
	}
}

// WithMaxPendingRecords bounds the recordings in flight; extra ones are
// dropped and logged.
func WithMaxPendingRecords(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.recordSlots = make(chan struct{}, n)
		}
	}
}

// WithMaxBodyBytes caps the request body.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// WithLogger sets the handler logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandler creates a new insight handler.
func NewHandler(limiter Admitter, service *Service, opts ...Option) *Handler {
	h := &Handler{
		limiter:      limiter,
		service:      service,
		metrics:      nopMetrics{},
		maxBodyBytes: DefaultMaxRequestBodySize,
		logger:       slog.Default(),
		recordSlots:  make(chan struct{}, DefaultMaxPendingRecords),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Wait blocks until every pending recording has finished.
func (h *Handler) Wait() {
	h.pending.Wait()
}

// RegisterRoutes mounts the handler for every method so non-POST calls get
// this handler's 405 rather than the router's.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Handle(Path, h)
	r.Handle(LegacyPath, h)
}

// ServeHTTP runs one request to exactly one response.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := h.logger.With("request_id", chiMiddleware.GetReqID(r.Context()))

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		api.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		h.metrics.IncRequest(metrics.OutcomeMethodNotAllowed)
		log.Info("Insight request rejected", "failure", failureMethod, "method", r.Method)
		return
	}

	clientKey := identity.FromRequest(r)
	log = log.With("client_key", clientKey)

	decision := h.limiter.Admit(clientKey)
	w.Header().Set(RemainingHeader, strconv.Itoa(h.limiter.Remaining(clientKey)))
	if decision == ratelimit.Denied {
		if wait := h.limiter.RetryAfter(clientKey); wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		}
		api.JSON(w, http.StatusTooManyRequests, map[string]string{"msg": "Too many requests"})
		h.metrics.IncRequest(metrics.OutcomeRateLimited)
		log.Info("Insight request rejected", "failure", failureRateLimited)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		details := "could not read request body"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			details = "request body too large"
		}
		h.invalid(w, log, details)
		return
	}

	req, err := schema.ParseRequest(body)
	if err != nil {
		h.invalid(w, log, err.Error())
		return
	}
	log = log.With("stage", req.Stage.String())

	outcome, err := h.service.Generate(r.Context(), req)
	if err != nil {
		api.Error(w, http.StatusInternalServerError, "internal server error")
		h.metrics.IncRequest(metrics.OutcomeGatewayError)
		log.Error("Insight request failed",
			"failure", failureKind(err),
			"error", err,
			"duration", time.Since(start),
		)
		return
	}

	h.metrics.IncReconcile(string(outcome.Tier))
	api.NoStore(w)
	api.JSON(w, http.StatusOK, outcome.Result)
	h.metrics.IncRequest(metrics.OutcomeOK)

	log.Info("Insight request completed",
		"tier", outcome.Tier,
		"has_suggestion", outcome.Result.HasSuggestion(),
		"duration", time.Since(start),
	)

	h.recordAsync(r.Context(), log, &domain.InsightRecord{
		ClientKey:            clientKey,
		Stage:                req.Stage,
		Input:                req.Input,
		Reply:                outcome.Result.Reply,
		SuggestedImprovement: outcome.Result.SuggestedImprovement,
		ReconcileTier:        string(outcome.Tier),
	})
}

func (h *Handler) invalid(w http.ResponseWriter, log *slog.Logger, details string) {
	api.JSON(w, http.StatusBadRequest, map[string]string{
		"error":   "invalid request",
		"details": details,
	})
	h.metrics.IncRequest(metrics.OutcomeInvalid)
	log.Info("Insight request rejected", "failure", failureInvalid, "details", details)
}

// recordAsync persists rec off the request path. The response has already
// been written and nothing here can change it; failures are only logged.
func (h *Handler) recordAsync(ctx context.Context, log *slog.Logger, rec *domain.InsightRecord) {
	if h.recorder == nil {
		return
	}

	select {
	case h.recordSlots <- struct{}{}:
	default:
		log.Warn("Dropped insight record", "reason", "too many pending records")
		return
	}

	ctx = context.WithoutCancel(ctx)
	h.pending.Add(1)
	go func() {
		defer h.pending.Done()
		defer func() { <-h.recordSlots }()

		ctx, cancel := context.WithTimeout(ctx, recordTimeout)
		defer cancel()

		if err := h.recorder.RecordInsight(ctx, rec); err != nil {
			log.Warn("Failed to record insight", "error", err)
		}
	}()
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, gateway.ErrTimeout):
		return failureTimeout
	case errors.Is(err, gateway.ErrNoOutput):
		return failureNoOutput
	case errors.Is(err, context.Canceled):
		return failureCanceled
	default:
		return failureGateway
	}
}
