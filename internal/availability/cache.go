package availability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	appLog "meetcal/internal/log"
	"meetcal/internal/metrics"
	"meetcal/internal/model"
)

const (
	DefaultTTL      = 10 * time.Minute
	DefaultErrorTTL = time.Minute
)

// ErrCacheUnavailable marks backend failures. The cache recovers from them
// by computing directly.
var ErrCacheUnavailable = errors.New("availability cache backend unavailable")

// ComputeFunc produces a fresh aggregation, typically Pipeline.Compute.
type ComputeFunc func(ctx context.Context, userID string, window model.DateRange) (model.AggregatedAvailability, error)

// Key identifies one cached aggregation.
type Key struct {
	UserID string
	Start  model.Date
	End    model.Date
}

func KeyFor(userID string, window model.DateRange) Key {
	return Key{UserID: userID, Start: window.Start, End: window.End}
}

func (k Key) String() string {
	return k.UserID + "|" + k.Start.String() + "|" + k.End.String()
}

// Entry is a stored aggregation with its expiry.
type Entry struct {
	Value     model.AggregatedAvailability
	ExpiresAt time.Time
}

// Backend stores cache entries. Implementations must be safe for concurrent
// use.
type Backend interface {
	Get(key Key) (Entry, bool, error)
	Put(key Key, e Entry) error
	DeleteUser(userID string) error
	Sweep(now time.Time) (int, error)
}

// CacheConfig configures a Cache. Zero values fall back to defaults.
type CacheConfig struct {
	TTL time.Duration
	// ErrorTTL applies to results where at least one source failed.
	ErrorTTL   time.Duration
	MaxEntries int
	Backend    Backend
	Now        func() time.Time
}

// Cache is a short-TTL read-through cache over a ComputeFunc. Concurrent
// misses for the same key share a single computation.
type Cache struct {
	compute  ComputeFunc
	backend  Backend
	ttl      time.Duration
	errorTTL time.Duration
	now      func() time.Time

	group singleflight.Group

	// mu guards gens and orders backend writes against Refresh. gens keeps
	// one counter per user ever refreshed and is never pruned; a pruned
	// counter would restart at zero and match stale in-flight generations.
	mu   sync.Mutex
	gens map[string]uint64

	cronMu sync.Mutex
	cron   *cron.Cron
}

func NewCache(compute ComputeFunc, cfg CacheConfig) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.ErrorTTL <= 0 || cfg.ErrorTTL > cfg.TTL {
		cfg.ErrorTTL = min(DefaultErrorTTL, cfg.TTL)
	}
	if cfg.Backend == nil {
		cfg.Backend = NewMemoryBackend(cfg.MaxEntries)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cache{
		compute:  compute,
		backend:  cfg.Backend,
		ttl:      cfg.TTL,
		errorTTL: cfg.ErrorTTL,
		now:      cfg.Now,
		gens:     make(map[string]uint64),
	}
}

// GetOrCompute returns the cached aggregation for (userID, window) or
// computes and stores it. The returned value is a private copy.
func (c *Cache) GetOrCompute(ctx context.Context, userID string, window model.DateRange) (model.AggregatedAvailability, error) {
	if err := window.Validate(); err != nil {
		return model.AggregatedAvailability{}, err
	}

	key := KeyFor(userID, window)
	gen := c.generation(userID)

	entry, ok, err := c.backend.Get(key)
	if err != nil {
		appLog.Error("availability cache read failed; computing directly", err, "key", key.String())
		metrics.CacheRequests.WithLabelValues("degraded").Inc()
		av, ferr := c.flight(ctx, key, window, gen, false)
		if ferr != nil {
			return model.AggregatedAvailability{}, ferr
		}
		av.Degraded = true
		return av, nil
	}
	if ok && c.now().Before(entry.ExpiresAt) {
		metrics.CacheRequests.WithLabelValues("hit").Inc()
		return entry.Value.Clone(), nil
	}

	return c.flight(ctx, key, window, gen, true)
}

// flight runs the computation for key once across concurrent callers. The
// computation is detached from the caller's cancellation so that one waiter
// giving up does not fail the others; each caller still returns as soon as
// its own context ends.
func (c *Cache) flight(ctx context.Context, key Key, window model.DateRange, gen uint64, store bool) (model.AggregatedAvailability, error) {
	flightKey := fmt.Sprintf("%s|%d|%t", key.String(), gen, store)
	detached := context.WithoutCancel(ctx)

	ch := c.group.DoChan(flightKey, func() (any, error) {
		// A flight that finished just before this one may already have
		// stored the value.
		if store {
			if e, ok, err := c.backend.Get(key); err == nil && ok && c.now().Before(e.ExpiresAt) {
				return e.Value, nil
			}
		}

		av, err := c.compute(detached, key.UserID, window)
		if err != nil {
			return nil, err
		}
		av.RetrievedAt = c.now()

		if store {
			c.store(key, gen, &av)
		}
		return av, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return model.AggregatedAvailability{}, res.Err
		}
		if res.Shared {
			metrics.CacheRequests.WithLabelValues("shared").Inc()
		} else {
			metrics.CacheRequests.WithLabelValues("miss").Inc()
		}
		return res.Val.(model.AggregatedAvailability).Clone(), nil
	case <-ctx.Done():
		return model.AggregatedAvailability{}, ctx.Err()
	}
}

func (c *Cache) store(key Key, gen uint64, av *model.AggregatedAvailability) {
	ttl := c.ttl
	if av.Statistics.HasErrors() {
		ttl = c.errorTTL
	}
	entry := Entry{Value: av.Clone(), ExpiresAt: av.RetrievedAt.Add(ttl)}

	// The generation check and the write happen under c.mu so a Refresh
	// cannot land between them.
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gens[key.UserID] != gen {
		appLog.Debug("availability cache result discarded after refresh", "key", key.String())
		return
	}
	if err := c.backend.Put(key, entry); err != nil {
		appLog.Error("availability cache write failed", err, "key", key.String())
		av.Degraded = true
	}
}

// Refresh drops every cached window for userID. Computations already in
// flight for the user complete for their callers but are not stored.
func (c *Cache) Refresh(userID string) error {
	c.mu.Lock()
	c.gens[userID]++
	err := c.backend.DeleteUser(userID)
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	appLog.Info("availability cache refreshed", "user_id", userID)
	return nil
}

func (c *Cache) generation(userID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[userID]
}

// Sweep removes expired entries from the backend.
func (c *Cache) Sweep() int {
	n, err := c.backend.Sweep(c.now())
	if err != nil {
		appLog.Error("availability cache sweep failed", err)
		return 0
	}
	if n > 0 {
		appLog.Debug("availability cache swept", "removed", n)
	}
	return n
}

// StartSweeper runs Sweep on a standard five-field cron schedule until
// StopSweeper is called.
func (c *Cache) StartSweeper(schedule string) error {
	c.cronMu.Lock()
	defer c.cronMu.Unlock()

	if c.cron != nil {
		return errors.New("sweeper already running")
	}
	cr := cron.New()
	if _, err := cr.AddFunc(schedule, func() { c.Sweep() }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	cr.Start()
	c.cron = cr
	appLog.Info("availability cache sweeper started", "schedule", schedule)
	return nil
}

func (c *Cache) StopSweeper() {
	c.cronMu.Lock()
	defer c.cronMu.Unlock()

	if c.cron == nil {
		return
	}
	<-c.cron.Stop().Done()
	c.cron = nil
}
