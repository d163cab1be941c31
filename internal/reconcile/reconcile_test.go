package reconcile

import (
	"io"
	"log/slog"
	"testing"

	"github.com/ashureev/gpa-insight/internal/domain"
)

func newTestReconciler(repairs ...Repair) *Reconciler {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), repairs...)
}

func TestReconcileValidPassesThrough(t *testing.T) {
	t.Parallel()

	cases := map[string]domain.AIResult{
		`{"reply":"You are on track."}`: {Reply: "You are on track."},
		`{"reply":"Good.","suggested_improvement":"Start the lab reports earlier."}`: {
			Reply:                "Good.",
			SuggestedImprovement: "Start the lab reports earlier.",
		},
		"\n  {\"reply\":\"padded\"}  \n": {Reply: "padded"},
	}

	r := newTestReconciler()
	for raw, want := range cases {
		out := r.Reconcile(raw)
		if out.Tier != TierParsed {
			t.Errorf("Reconcile(%q) tier = %s, want parsed", raw, out.Tier)
		}
		if out.Result != want {
			t.Errorf("Reconcile(%q) = %+v, want %+v", raw, out.Result, want)
		}
	}
}

func TestReconcileRepairsMissingSeparator(t *testing.T) {
	t.Parallel()

	cases := []string{
		`{"reply":"Nice semester." "suggested_improvement":"Review calculus weekly."}`,
		"{\"reply\":\"Nice semester.\"\n  \"suggested_improvement\": \"Review calculus weekly.\"}",
		`{"reply":"Nice semester.""suggested_improvement":"Review calculus weekly."}`,
	}

	r := newTestReconciler()
	for _, raw := range cases {
		out := r.Reconcile(raw)
		if out.Tier != TierRepaired {
			t.Fatalf("Reconcile(%q) tier = %s, want repaired", raw, out.Tier)
		}
		if out.Repair != "insert_separator" {
			t.Errorf("expected insert_separator repair, got %q", out.Repair)
		}
		want := domain.AIResult{Reply: "Nice semester.", SuggestedImprovement: "Review calculus weekly."}
		if out.Result != want {
			t.Errorf("Reconcile(%q) = %+v, want %+v", raw, out.Result, want)
		}
	}
}

func TestReconcileFallsBack(t *testing.T) {
	t.Parallel()

	cases := []string{
		"",
		"I think you are doing great!",
		"```json\n{\"reply\":\"fenced\"}\n```",
		`{"reply":""}`,
		`{"reply":"ok","suggested_improvement":""}`,
		`{"reply":"ok","confidence":0.9}`,
		`{"answer":"wrong key"}`,
		`{"reply":null}`,
		`["reply"]`,
		`{"reply":"ok" "suggested_improvement":""}`,
	}

	r := newTestReconciler()
	for _, raw := range cases {
		out := r.Reconcile(raw)
		if out.Tier != TierFallback {
			t.Errorf("Reconcile(%q) tier = %s, want fallback", raw, out.Tier)
		}
		if out.Result.Reply != FallbackReply {
			t.Errorf("Reconcile(%q) reply = %q, want fallback", raw, out.Result.Reply)
		}
		if out.Result.HasSuggestion() {
			t.Errorf("Reconcile(%q) fallback must omit suggestion", raw)
		}
	}
}

func TestReconcileRepairOrder(t *testing.T) {
	t.Parallel()

	var applied []string
	record := func(name string, fixed string) Repair {
		return Repair{Name: name, Apply: func(string) (string, bool) {
			applied = append(applied, name)
			return fixed, true
		}}
	}

	r := newTestReconciler(
		record("broken", `{"still":"bad"}`),
		record("works", `{"reply":"fixed"}`),
		record("never", `{"reply":"unreachable"}`),
	)

	out := r.Reconcile("garbage")
	if out.Tier != TierRepaired || out.Repair != "works" || out.Result.Reply != "fixed" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(applied) != 2 || applied[0] != "broken" || applied[1] != "works" {
		t.Fatalf("expected repairs applied in order and stop at first success, got %v", applied)
	}
}

func TestInsertSeparatorLeavesValidTextAlone(t *testing.T) {
	t.Parallel()

	if _, ok := insertSeparator(`{"reply":"a", "suggested_improvement":"b"}`); ok {
		t.Fatal("expected no repair when the separator is present")
	}
}
