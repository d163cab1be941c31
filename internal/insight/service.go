// Package insight sequences one insight request through admission,
// validation, prompt construction, the model call and reconciliation.
package insight

import (
	"context"
	"fmt"

	"github.com/ashureev/gpa-insight/internal/domain"
	"github.com/ashureev/gpa-insight/internal/gateway"
	"github.com/ashureev/gpa-insight/internal/prompt"
	"github.com/ashureev/gpa-insight/internal/reconcile"
)

// Reconciler turns raw model text into a valid result.
type Reconciler interface {
	Reconcile(raw string) reconcile.Outcome
}

// Service produces an insight for an already validated request.
type Service struct {
	completer  gateway.Completer
	reconciler Reconciler
}

// NewService creates a Service.
func NewService(completer gateway.Completer, reconciler Reconciler) *Service {
	return &Service{completer: completer, reconciler: reconciler}
}

// Generate builds the conversation for req, calls the model once and
// reconciles its reply. Only prompt and gateway failures are returned;
// unusable model text is absorbed by the reconciler.
func (s *Service) Generate(ctx context.Context, req domain.IncomingRequest) (reconcile.Outcome, error) {
	messages, err := prompt.Build(req)
	if err != nil {
		return reconcile.Outcome{}, fmt.Errorf("build prompt: %w", err)
	}

	raw, err := s.completer.Complete(ctx, messages)
	if err != nil {
		return reconcile.Outcome{}, err
	}

	return s.reconciler.Reconcile(raw), nil
}
