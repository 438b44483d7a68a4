package stats

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/mt-karim/shopboard/services/board-service/internal/model"
)

type fakeRepo struct {
	counts   map[model.Status]int64
	unpaid   int64
	computes int
	err      error
}

func (f *fakeRepo) StatusCounts(context.Context, time.Time, time.Time) (map[model.Status]int64, error) {
	f.computes++
	if f.err != nil {
		return nil, f.err
	}
	return f.counts, nil
}

func (f *fakeRepo) UnpaidTotal(context.Context, time.Time, time.Time) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.unpaid, nil
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("cache down")
}
func (failingCache) Set(context.Context, string, []byte, time.Duration, []time.Time) error {
	return errors.New("cache down")
}
func (failingCache) Invalidate(context.Context, ...time.Time) error {
	return errors.New("cache down")
}

func testRange() (time.Time, time.Time) {
	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	return from, from.Add(24 * time.Hour)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestGetSummary_MissComputesAndCaches(t *testing.T) {
	repo := &fakeRepo{
		counts: map[model.Status]int64{model.StatusScheduled: 3, model.StatusInProgress: 1},
		unpaid: 12500,
	}
	svc := NewService(repo, NewMemoryCache(), time.Minute, discardLogger())
	from, to := testRange()

	summary, err := svc.GetSummary(context.Background(), from, to)
	if err != nil {
		t.Fatalf("GetSummary failed: %v", err)
	}
	if summary.JobCounts["scheduled"] != 3 || summary.JobCounts["in_progress"] != 1 {
		t.Fatalf("unexpected counts: %+v", summary.JobCounts)
	}
	if summary.JobCounts["completed"] != 0 {
		t.Fatal("zero statuses should still be present in the payload")
	}
	if summary.UnpaidTotalCents != 12500 {
		t.Fatalf("expected unpaid 12500, got %d", summary.UnpaidTotalCents)
	}

	if _, err := svc.GetSummary(context.Background(), from, to); err != nil {
		t.Fatalf("second GetSummary failed: %v", err)
	}
	if repo.computes != 1 {
		t.Fatalf("second read should be served from cache, got %d computes", repo.computes)
	}
}

func TestGetSummary_TTLExpiryRecomputes(t *testing.T) {
	repo := &fakeRepo{counts: map[model.Status]int64{}}
	cache := NewMemoryCache()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	cache.SetClock(func() time.Time { return now })

	svc := NewService(repo, cache, time.Minute, discardLogger())
	from, to := testRange()

	if _, err := svc.GetSummary(context.Background(), from, to); err != nil {
		t.Fatalf("GetSummary failed: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := svc.GetSummary(context.Background(), from, to); err != nil {
		t.Fatalf("GetSummary after expiry failed: %v", err)
	}
	if repo.computes != 2 {
		t.Fatalf("expected recompute after TTL expiry, got %d computes", repo.computes)
	}
}

func TestGetSummary_ExplicitInvalidationBeatsTTL(t *testing.T) {
	repo := &fakeRepo{counts: map[model.Status]int64{model.StatusScheduled: 5}}
	cache := NewMemoryCache()
	svc := NewService(repo, cache, time.Hour, discardLogger())
	from, to := testRange()

	if _, err := svc.GetSummary(context.Background(), from, to); err != nil {
		t.Fatalf("GetSummary failed: %v", err)
	}

	// A move on the covered day drops the cached range well before the TTL.
	repo.counts = map[model.Status]int64{model.StatusScheduled: 4, model.StatusInProgress: 1}
	if err := svc.Invalidate(context.Background(), from); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	summary, err := svc.GetSummary(context.Background(), from, to)
	if err != nil {
		t.Fatalf("GetSummary after invalidation failed: %v", err)
	}
	if summary.JobCounts["scheduled"] != 4 || summary.JobCounts["in_progress"] != 1 {
		t.Fatalf("expected post-move distribution, got %+v", summary.JobCounts)
	}
	if repo.computes != 2 {
		t.Fatalf("expected recompute after invalidation, got %d computes", repo.computes)
	}
}

func TestGetSummary_InvalidationCoversMultiDayRanges(t *testing.T) {
	repo := &fakeRepo{counts: map[model.Status]int64{}}
	cache := NewMemoryCache()
	svc := NewService(repo, cache, time.Hour, discardLogger())

	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	to := from.Add(7 * 24 * time.Hour)
	if _, err := svc.GetSummary(context.Background(), from, to); err != nil {
		t.Fatalf("GetSummary failed: %v", err)
	}

	// Mutating a mid-range day must drop the cached week.
	if err := svc.Invalidate(context.Background(), from.Add(3*24*time.Hour)); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if _, err := svc.GetSummary(context.Background(), from, to); err != nil {
		t.Fatalf("GetSummary failed: %v", err)
	}
	if repo.computes != 2 {
		t.Fatalf("mid-range invalidation should recompute, got %d computes", repo.computes)
	}
}

func TestGetSummary_CacheDownDegradesToCompute(t *testing.T) {
	repo := &fakeRepo{counts: map[model.Status]int64{model.StatusReady: 2}}
	svc := NewService(repo, failingCache{}, time.Minute, discardLogger())
	from, to := testRange()

	summary, err := svc.GetSummary(context.Background(), from, to)
	if err != nil {
		t.Fatalf("GetSummary should not fail because the cache is down: %v", err)
	}
	if summary.JobCounts["ready"] != 2 {
		t.Fatalf("unexpected counts: %+v", summary.JobCounts)
	}
}

func TestGetSummary_RepoErrorSurfaces(t *testing.T) {
	repo := &fakeRepo{err: errors.New("db down")}
	svc := NewService(repo, NewMemoryCache(), time.Minute, discardLogger())
	from, to := testRange()

	if _, err := svc.GetSummary(context.Background(), from, to); err == nil {
		t.Fatal("expected error when both cache misses and compute fails")
	}
}
