package availability

import (
	"context"
	"fmt"
	"time"

	"meetcal/internal/ics"
	appLog "meetcal/internal/log"
	"meetcal/internal/model"
)

// Repository is the storage boundary for sources and overrides.
type Repository interface {
	ListSources(ctx context.Context, userID string) ([]model.CalendarSource, error)
	ListBlockedPeriods(ctx context.Context, userID string) ([]model.BlockedPeriod, error)
	SaveSyncResults(ctx context.Context, syncs []model.SourceSync) error
}

// SourceFetcher fetches many calendar sources; see ics.SourceFetcher.
type SourceFetcher interface {
	FetchAll(ctx context.Context, sources []model.CalendarSource, window model.DateRange) []ics.FetchResult
}

// Pipeline loads a user's sources and overrides, fetches the feeds and
// aggregates them. It is the compute function wrapped by Cache.
type Pipeline struct {
	repo    Repository
	fetcher SourceFetcher
	now     func() time.Time
}

func NewPipeline(repo Repository, fetcher SourceFetcher, now func() time.Time) *Pipeline {
	if now == nil {
		now = time.Now
	}
	return &Pipeline{repo: repo, fetcher: fetcher, now: now}
}

func (p *Pipeline) Compute(ctx context.Context, userID string, window model.DateRange) (model.AggregatedAvailability, error) {
	if err := window.Validate(); err != nil {
		return model.AggregatedAvailability{}, err
	}

	sources, err := p.repo.ListSources(ctx, userID)
	if err != nil {
		return model.AggregatedAvailability{}, fmt.Errorf("list sources for %s: %w", userID, err)
	}
	blocked, err := p.repo.ListBlockedPeriods(ctx, userID)
	if err != nil {
		return model.AggregatedAvailability{}, fmt.Errorf("list blocked periods for %s: %w", userID, err)
	}

	var results []ics.FetchResult
	if !window.IsEmpty() {
		results = p.fetcher.FetchAll(ctx, sources, window)
	}

	if len(results) > 0 {
		syncs := make([]model.SourceSync, 0, len(results))
		for _, r := range results {
			syncs = append(syncs, r.Sync())
		}
		if err := p.repo.SaveSyncResults(ctx, syncs); err != nil {
			appLog.Error("saving source sync status failed", err, "user_id", userID, "count", len(syncs))
		}
	}

	av, err := Aggregate(userID, window, results, blocked, p.now())
	if err != nil {
		return model.AggregatedAvailability{}, err
	}

	appLog.Info("availability aggregated",
		"user_id", userID,
		"window", window.String(),
		"available", av.AvailableDates.Len(),
		"blocked", av.BlockedDates.Len(),
		"calendars", av.Statistics.TotalCalendars,
		"failed", av.Statistics.FailedCalendars,
	)
	return av, nil
}
