package cmd

import (
	"fmt"

	"meetcal/internal/availability"
	"meetcal/internal/config"
	"meetcal/internal/ics"
	"meetcal/internal/schedule"
	"meetcal/internal/store"
)

// app is the assembled object graph shared by the commands.
type app struct {
	cfg     *config.Config
	store   *store.Store
	cache   *availability.Cache
	service *schedule.Service
}

func newApp(cfg *config.Config) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
	}

	getter := ics.NewHTTPGetter(cfg.Fetch.CacheDir, cfg.Fetch.Retries)
	parser := ics.ICalParser{Location: loc, MaxOccurrencesPerEvent: cfg.Fetch.MaxOccurrences}
	fetcher := ics.NewSourceFetcher(getter, parser, ics.FetcherConfig{
		Timeout: cfg.Fetch.Timeout,
		Workers: cfg.Fetch.Workers,
	})

	pipeline := availability.NewPipeline(st, fetcher, nil)
	cache := availability.NewCache(pipeline.Compute, availability.CacheConfig{
		TTL:        cfg.Cache.TTL,
		ErrorTTL:   cfg.Cache.ErrorTTL,
		MaxEntries: cfg.Cache.MaxEntries,
	})

	svc := schedule.NewService(cache, schedule.Config{
		Location:             loc,
		Workers:              cfg.Fetch.Workers,
		OverlapHorizonMonths: cfg.Overlap.HorizonMonths,
		TopN:                 cfg.Recommend.TopN,
		HorizonDays:          cfg.Recommend.HorizonDays,
	})

	return &app{cfg: cfg, store: st, cache: cache, service: svc}, nil
}

func (a *app) Close() error {
	a.cache.StopSweeper()
	return a.store.Close()
}
