// Package reconcile turns raw model text into a valid AIResult.
//
// Model output is trusted only after it passes schema.ParseResult. Text that
// fails is run through an ordered list of textual repairs and re-validated;
// if every repair fails the raw text is discarded and a fixed apology is
// returned instead. Reconcile therefore never fails.
package reconcile

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/ashureev/gpa-insight/internal/domain"
	"github.com/ashureev/gpa-insight/internal/schema"
)

// FallbackReply is returned when the model output cannot be salvaged.
const FallbackReply = "Sorry, I couldn't put together an insight for your semester just now. Please try again in a moment."

// Tier records which step produced the result.
type Tier string

const (
	TierParsed   Tier = "parsed"
	TierRepaired Tier = "repaired"
	TierFallback Tier = "fallback"
)

// Outcome is the result of one reconciliation.
type Outcome struct {
	Result domain.AIResult
	Tier   Tier
	// Repair names the repair that succeeded, if any.
	Repair string
}

// Repair rewrites almost-valid model text. Apply returns ok=false when the
// repair does not apply to the text.
type Repair struct {
	Name  string
	Apply func(raw string) (fixed string, ok bool)
}

// missingSeparator matches the end of a JSON value directly followed by the
// suggested_improvement key with no comma in between.
var missingSeparator = regexp.MustCompile(`("|\d|\]|\}|true|false|null)(\s*)("suggested_improvement"\s*:)`)

// DefaultRepairs is the repair list used by New.
var DefaultRepairs = []Repair{
	{Name: "insert_separator", Apply: insertSeparator},
}

func insertSeparator(raw string) (string, bool) {
	if !missingSeparator.MatchString(raw) {
		return raw, false
	}
	return missingSeparator.ReplaceAllString(raw, "$1,$2$3"), true
}

// Reconciler applies the parse, repair, fallback sequence.
type Reconciler struct {
	repairs []Repair
	logger  *slog.Logger
}

// New creates a Reconciler. With no repairs given it uses DefaultRepairs.
func New(logger *slog.Logger, repairs ...Repair) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if len(repairs) == 0 {
		repairs = DefaultRepairs
	}
	return &Reconciler{repairs: repairs, logger: logger}
}

// Reconcile always returns a result that satisfies the reply contract.
func (r *Reconciler) Reconcile(raw string) Outcome {
	text := strings.TrimSpace(raw)

	result, err := schema.ParseResult([]byte(text))
	if err == nil {
		return Outcome{Result: result, Tier: TierParsed}
	}
	firstErr := err

	for _, repair := range r.repairs {
		fixed, ok := repair.Apply(text)
		if !ok {
			continue
		}
		result, err := schema.ParseResult([]byte(fixed))
		if err != nil {
			r.logger.Debug("Repair did not produce a valid reply", "repair", repair.Name, "error", err)
			continue
		}
		return Outcome{Result: result, Tier: TierRepaired, Repair: repair.Name}
	}

	r.logger.Warn("Discarding unusable model output",
		"error", firstErr,
		"raw_length", len(raw),
	)
	return Outcome{Result: fallback(), Tier: TierFallback}
}

func fallback() domain.AIResult {
	result := domain.AIResult{Reply: FallbackReply}
	if err := schema.ValidateResult(result); err != nil {
		// FallbackReply is a non-empty constant.
		panic(err)
	}
	return result
}
