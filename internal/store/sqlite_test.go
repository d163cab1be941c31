package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/gpa-insight/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLite(filepath.Join(t.TempDir(), "data", "insights.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndRecentInsights(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, reply := range []string{"first", "second", "third"} {
		rec := &domain.InsightRecord{
			ClientKey:     "203.0.113.7",
			Stage:         domain.StageStudyPlan,
			Input:         "plan my week",
			Reply:         reply,
			ReconcileTier: "parsed",
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}
		if i == 1 {
			rec.SuggestedImprovement = "Block two evenings for chemistry."
		}
		if err := s.RecordInsight(ctx, rec); err != nil {
			t.Fatalf("RecordInsight failed: %v", err)
		}
		if rec.ID == "" {
			t.Fatal("expected an ID to be assigned")
		}
	}

	if err := s.RecordInsight(ctx, &domain.InsightRecord{ClientKey: "other", Reply: "x", ReconcileTier: "parsed"}); err != nil {
		t.Fatalf("RecordInsight failed: %v", err)
	}

	recs, err := s.RecentInsights(ctx, "203.0.113.7", 2)
	if err != nil {
		t.Fatalf("RecentInsights failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Reply != "third" || recs[1].Reply != "second" {
		t.Fatalf("expected newest first, got %q then %q", recs[0].Reply, recs[1].Reply)
	}
	if recs[1].SuggestedImprovement != "Block two evenings for chemistry." {
		t.Fatalf("unexpected suggestion %q", recs[1].SuggestedImprovement)
	}
	if recs[0].SuggestedImprovement != "" {
		t.Fatalf("expected no suggestion, got %q", recs[0].SuggestedImprovement)
	}
	if recs[0].Stage != domain.StageStudyPlan {
		t.Fatalf("expected stage to round-trip, got %v", recs[0].Stage)
	}
}

func TestRecordInsightRejectsIncomplete(t *testing.T) {
	s := newTestStore(t)

	err := s.RecordInsight(context.Background(), &domain.InsightRecord{ClientKey: "k"})
	if !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
}

func TestCleanupExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := &domain.InsightRecord{ClientKey: "k", Reply: "old", ReconcileTier: "parsed", CreatedAt: time.Now().Add(-48 * time.Hour)}
	fresh := &domain.InsightRecord{ClientKey: "k", Reply: "fresh", ReconcileTier: "parsed"}
	for _, rec := range []*domain.InsightRecord{old, fresh} {
		if err := s.RecordInsight(ctx, rec); err != nil {
			t.Fatalf("RecordInsight failed: %v", err)
		}
	}

	deleted, err := s.CleanupExpired(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupExpired failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}

	recs, err := s.RecentInsights(ctx, "k", 0)
	if err != nil {
		t.Fatalf("RecentInsights failed: %v", err)
	}
	if len(recs) != 1 || recs[0].Reply != "fresh" {
		t.Fatalf("expected only the fresh record, got %+v", recs)
	}
}

func TestConcurrentRecordInsight(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := &domain.InsightRecord{ClientKey: "burst", Reply: "ok", ReconcileTier: "parsed"}
			if err := s.RecordInsight(ctx, rec); err != nil {
				t.Errorf("RecordInsight failed: %v", err)
			}
		}()
	}
	wg.Wait()

	recs, err := s.RecentInsights(ctx, "burst", 50)
	if err != nil {
		t.Fatalf("RecentInsights failed: %v", err)
	}
	if len(recs) != 20 {
		t.Fatalf("expected 20 records, got %d", len(recs))
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}

func TestWithRetryRetriesConflicts(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := withRetry(context.Background(), "op", func() error {
		attempts++
		if attempts < 2 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestWithRetryStopsOnOtherErrors(t *testing.T) {
	t.Parallel()

	attempts := 0
	boom := errors.New("constraint failed")
	err := withRetry(context.Background(), "op", func() error {
		attempts++
		return boom
	})
	if !errors.Is(err, boom) || attempts != 1 {
		t.Fatalf("expected single attempt with wrapped error, got %d, %v", attempts, err)
	}
}

type countingRepo struct {
	Repository
	cleanups atomic.Int32
}

func (r *countingRepo) CleanupExpired(context.Context, time.Duration) (int64, error) {
	r.cleanups.Add(1)
	return 0, nil
}

func TestStartRetentionWorker(t *testing.T) {
	t.Parallel()

	repo := &countingRepo{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	StartRetentionWorker(ctx, repo, time.Hour, 5*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for repo.cleanups.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("retention worker did not sweep")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
