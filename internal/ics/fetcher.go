package ics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	appLog "meetcal/internal/log"
	"meetcal/internal/metrics"
	"meetcal/internal/model"
)

const (
	DefaultFetchTimeout = 5 * time.Second
	DefaultWorkers      = 8

	ReasonTimeout  = "timeout"
	ReasonCanceled = "canceled"
)

// FetchOutcome is either FetchSuccess or FetchFailure.
type FetchOutcome interface {
	isFetchOutcome()
}

type FetchSuccess struct {
	Events []model.RawEvent
	// Stale is set when the live fetch failed and Events were parsed from
	// the last cached copy of the feed. It holds the failure reason.
	Stale string
}

type FetchFailure struct {
	Reason string
}

func (FetchSuccess) isFetchOutcome() {}
func (FetchFailure) isFetchOutcome() {}

// FetchResult is the outcome of fetching and parsing one calendar source.
type FetchResult struct {
	Source    model.CalendarSource
	Outcome   FetchOutcome
	FetchedAt time.Time
}

// Sync projects the result onto the source's sync-status fields.
func (r FetchResult) Sync() model.SourceSync {
	s := model.SourceSync{SourceID: r.Source.ID, SyncedAt: r.FetchedAt}
	switch o := r.Outcome.(type) {
	case FetchSuccess:
		s.Status = model.SyncSuccess
		if o.Stale != "" {
			s.Status = model.SyncError
			s.LastError = o.Stale
		}
	case FetchFailure:
		s.Status = model.SyncError
		s.LastError = o.Reason
	default:
		s.Status = model.SyncPending
	}
	return s
}

// FetcherConfig controls the per-source timeout and pool size.
type FetcherConfig struct {
	Timeout time.Duration
	Workers int
}

// SourceFetcher fetches and parses many calendar sources concurrently.
// A failing source never affects the others.
type SourceFetcher struct {
	getter  Getter
	parser  Parser
	timeout time.Duration
	workers int
	now     func() time.Time
}

func NewSourceFetcher(getter Getter, parser Parser, cfg FetcherConfig) *SourceFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFetchTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	return &SourceFetcher{
		getter:  getter,
		parser:  parser,
		timeout: cfg.Timeout,
		workers: cfg.Workers,
		now:     time.Now,
	}
}

// FetchAll fetches every active source. Inactive sources are skipped and do
// not appear in the results. Results follow the order of the active sources.
func (f *SourceFetcher) FetchAll(ctx context.Context, sources []model.CalendarSource, window model.DateRange) []FetchResult {
	active := make([]model.CalendarSource, 0, len(sources))
	for _, src := range sources {
		if src.IsActive {
			active = append(active, src)
		}
	}

	results := make([]FetchResult, len(active))

	var g errgroup.Group
	g.SetLimit(f.workers)
	for i, src := range active {
		g.Go(func() error {
			results[i] = f.fetchOne(ctx, src, window)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

type fetchOutput struct {
	events []model.RawEvent
	stale  error
	err    error
}

func (f *SourceFetcher) fetchOne(parent context.Context, src model.CalendarSource, window model.DateRange) FetchResult {
	ctx, cancel := context.WithTimeout(parent, f.timeout)
	defer cancel()

	start := time.Now()
	ch := make(chan fetchOutput, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- fetchOutput{err: fmt.Errorf("panic during fetch: %v", r)}
			}
		}()

		var stale *StaleError
		body, err := f.getter.Get(ctx, src.URL)
		if err != nil && !errors.As(err, &stale) {
			ch <- fetchOutput{err: err}
			return
		}
		events, err := f.parser.Parse(src, body, window)
		out := fetchOutput{events: events, err: err}
		if stale != nil {
			out.stale = stale.Err
		}
		ch <- out
	}()

	var out fetchOutput
	select {
	case out = <-ch:
		if out.err == nil && ctx.Err() != nil {
			out.err = ctx.Err()
		}
	case <-ctx.Done():
		// The worker goroutine may still be running; its result is discarded.
		out.err = ctx.Err()
	}
	metrics.FetchDuration.Observe(time.Since(start).Seconds())

	res := FetchResult{Source: src, FetchedAt: f.now()}
	if out.err != nil {
		reason := failureReason(out.err)
		res.Outcome = FetchFailure{Reason: reason}
		metrics.FetchTotal.WithLabelValues("failure").Inc()
		appLog.Error("calendar source fetch failed", out.err,
			"source_id", src.ID, "user_id", src.UserID, "url", redactURL(src.URL), "reason", reason)
		return res
	}

	if out.stale != nil {
		reason := failureReason(out.stale)
		res.Outcome = FetchSuccess{Events: out.events, Stale: reason}
		metrics.FetchTotal.WithLabelValues("stale").Inc()
		appLog.Warn("calendar source served from cache after fetch failure",
			"source_id", src.ID, "user_id", src.UserID, "url", redactURL(src.URL), "reason", reason)
		return res
	}

	res.Outcome = FetchSuccess{Events: out.events}
	metrics.FetchTotal.WithLabelValues("success").Inc()
	appLog.Debug("calendar source fetched",
		"source_id", src.ID, "user_id", src.UserID, "event_count", len(out.events))
	return res
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	default:
		return err.Error()
	}
}
