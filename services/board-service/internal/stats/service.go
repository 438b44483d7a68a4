package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mt-karim/shopboard/services/board-service/internal/model"
)

// Repository is the synchronous compute path behind the cache.
type Repository interface {
	StatusCounts(ctx context.Context, from, to time.Time) (map[model.Status]int64, error)
	UnpaidTotal(ctx context.Context, from, to time.Time) (int64, error)
}

// Summary is the dashboard KPI payload.
type Summary struct {
	DateFrom         string           `json:"date_from"`
	DateTo           string           `json:"date_to"`
	JobCounts        map[string]int64 `json:"job_counts"`
	UnpaidTotalCents int64            `json:"unpaid_total_cents"`
	ComputedAt       string           `json:"computed_at"`
}

type Service struct {
	repo   Repository
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, cache Cache, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{repo: repo, cache: cache, ttl: ttl, logger: logger, now: time.Now}
}

// GetSummary serves the KPI payload, preferring the cache. A cache backend
// error is logged and the request falls through to a synchronous recompute,
// so a down cache never turns into a failed stats read.
func (s *Service) GetSummary(ctx context.Context, from, to time.Time) (Summary, error) {
	key := Key(from, to)

	cached, hit, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("stats cache get failed, recomputing", "err", err, "key", key)
	} else if hit {
		var summary Summary
		if err := json.Unmarshal(cached, &summary); err == nil {
			return summary, nil
		}
		s.logger.Warn("stats cache payload corrupt, recomputing", "key", key)
	}

	summary, err := s.compute(ctx, from, to)
	if err != nil {
		return Summary{}, err
	}

	payload, err := json.Marshal(summary)
	if err == nil {
		if err := s.cache.Set(ctx, key, payload, s.ttl, DaysCovered(from, to)); err != nil {
			s.logger.Warn("stats cache set failed", "err", err, "key", key)
		}
	}
	return summary, nil
}

// Invalidate drops every cached range covering the given days. Exposed to
// collaborator modules (payments, services) as their freshness hook.
func (s *Service) Invalidate(ctx context.Context, days ...time.Time) error {
	return s.cache.Invalidate(ctx, days...)
}

func (s *Service) compute(ctx context.Context, from, to time.Time) (Summary, error) {
	counts, err := s.repo.StatusCounts(ctx, from, to)
	if err != nil {
		return Summary{}, err
	}
	unpaid, err := s.repo.UnpaidTotal(ctx, from, to)
	if err != nil {
		return Summary{}, err
	}

	jobCounts := make(map[string]int64, len(allStatusesForCounts))
	for _, st := range allStatusesForCounts {
		jobCounts[st.String()] = counts[st]
	}

	return Summary{
		DateFrom:         from.UTC().Format("2006-01-02"),
		DateTo:           to.UTC().Format("2006-01-02"),
		JobCounts:        jobCounts,
		UnpaidTotalCents: unpaid,
		ComputedAt:       s.now().UTC().Format(time.RFC3339),
	}, nil
}

// Every status appears in the payload even at zero, so dashboards never
// branch on missing keys.
var allStatusesForCounts = []model.Status{
	model.StatusScheduled,
	model.StatusInProgress,
	model.StatusReady,
	model.StatusCompleted,
	model.StatusNoShow,
	model.StatusCanceled,
}
