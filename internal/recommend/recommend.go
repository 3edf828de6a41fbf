// Package recommend ranks the days of a horizon by how many participants are
// free on each, for the current group and for the group joined by a
// candidate.
package recommend

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	appLog "meetcal/internal/log"
	"meetcal/internal/model"
)

const DefaultWorkers = 8

// AvailabilityProvider returns one user's aggregated availability, usually
// through availability.Cache.
type AvailabilityProvider interface {
	GetOrCompute(ctx context.Context, userID string, window model.DateRange) (model.AggregatedAvailability, error)
}

type Config struct {
	// Workers bounds how many participants are aggregated at once.
	Workers int
	// Location anchors recommendation start and end times.
	Location *time.Location
}

type Engine struct {
	provider AvailabilityProvider
	workers  int
	loc      *time.Location
}

func NewEngine(provider AvailabilityProvider, cfg Config) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Engine{provider: provider, workers: cfg.Workers, loc: cfg.Location}
}

// Recommend scores every date of window for participants and, when
// candidate is set and not already a participant, for participants plus
// candidate. topN <= 0 keeps every date.
//
// A participant whose availability cannot be computed is excluded from
// scoring and reported in UnavailableUsers. An empty participant list
// scores every date 1.0.
func (e *Engine) Recommend(ctx context.Context, participants []string, candidate string, window model.DateRange, topN int) (model.DualRecommendationResult, error) {
	if err := window.Validate(); err != nil {
		return model.DualRecommendationResult{}, err
	}

	current := dedupe(participants)
	candidate = strings.TrimSpace(candidate)
	already := candidate != "" && slices.Contains(current, candidate)

	extended := current
	if candidate != "" && !already {
		extended = append(append([]string(nil), current...), candidate)
	}

	res := model.DualRecommendationResult{IsCandidateAlreadyParticipant: already}

	if window.IsEmpty() {
		res.CurrentParticipants = emptySummary(window, len(current))
		res.IncludingCandidate = emptySummary(window, len(extended))
		return res, nil
	}

	avs, err := e.collect(ctx, extended, window)
	if err != nil {
		return model.DualRecommendationResult{}, err
	}

	for _, u := range extended {
		av, ok := avs[u]
		if !ok {
			res.UnavailableUsers = append(res.UnavailableUsers, u)
			continue
		}
		if av.Statistics.SuccessfulCalendars == 0 {
			res.ZeroSourceUsers = append(res.ZeroSourceUsers, u)
		}
	}

	res.CurrentParticipants = e.summarize(current, avs, window, topN)
	if len(extended) == len(current) {
		res.IncludingCandidate = res.CurrentParticipants
		res.IncludingCandidate.Recommendations = append([]model.TimeSlotRecommendation(nil), res.CurrentParticipants.Recommendations...)
	} else {
		res.IncludingCandidate = e.summarize(extended, avs, window, topN)
	}

	days := window.Days()
	res.ConfidenceLevel = min(
		confidence(res.CurrentParticipants.TotalSearched, days),
		confidence(res.IncludingCandidate.TotalSearched, days),
	)

	appLog.Info("recommendations computed",
		"participants", len(current),
		"candidate", candidate != "" && !already,
		"window", window.String(),
		"unavailable", len(res.UnavailableUsers),
		"confidence", res.ConfidenceLevel,
	)
	return res, nil
}

// collect aggregates every user in parallel. Per-user failures leave the
// user out of the returned map; only cancellation of ctx is an error.
func (e *Engine) collect(ctx context.Context, users []string, window model.DateRange) (map[string]model.AggregatedAvailability, error) {
	var (
		mu  sync.Mutex
		out = make(map[string]model.AggregatedAvailability, len(users))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, u := range users {
		g.Go(func() error {
			av, err := e.provider.GetOrCompute(gctx, u, window)
			if err != nil {
				appLog.Error("participant availability unavailable", err, "user_id", u)
				return nil
			}
			mu.Lock()
			out[u] = av
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) summarize(group []string, avs map[string]model.AggregatedAvailability, window model.DateRange, topN int) model.RecommendationSummary {
	days := window.Days()
	s := model.RecommendationSummary{ParticipantCount: len(group), Window: window}

	var evaluated []model.AggregatedAvailability
	for _, u := range group {
		if av, ok := avs[u]; ok {
			evaluated = append(evaluated, av)
		}
	}

	switch {
	case len(group) == 0:
		s.TotalSearched = days
	case len(evaluated) == 0:
		s.Empty = true
		return s
	default:
		s.TotalSearched = days * len(evaluated) / len(group)
	}

	slots := make([]model.TimeSlotRecommendation, 0, days)
	for _, d := range window.Dates() {
		count := 0
		for _, av := range evaluated {
			if av.AvailableDates.Has(d) {
				count++
			}
		}
		score := 1.0
		if len(evaluated) > 0 {
			score = float64(count) / float64(len(evaluated))
		}
		slots = append(slots, model.TimeSlotRecommendation{
			Start:             d.In(e.loc),
			End:               d.AddDays(1).In(e.loc),
			Date:              d,
			ParticipantCount:  count,
			AvailabilityScore: score,
			HasConflict:       score < 1.0,
		})
	}

	rank(slots)
	if topN > 0 && len(slots) > topN {
		slots = slots[:topN]
	}
	for i := range slots {
		slots[i].Priority = i + 1
	}

	s.Recommendations = slots
	s.Empty = len(slots) == 0
	return s
}

// rank orders slots by score descending, then earlier date, then
// conflict-free first.
func rank(slots []model.TimeSlotRecommendation) {
	sort.SliceStable(slots, func(i, j int) bool {
		a, b := slots[i], slots[j]
		if a.AvailabilityScore != b.AvailabilityScore {
			return a.AvailabilityScore > b.AvailabilityScore
		}
		if c := a.Date.Compare(b.Date); c != 0 {
			return c < 0
		}
		return !a.HasConflict && b.HasConflict
	})
}

func confidence(searched, days int) float64 {
	if days <= 0 {
		return 0
	}
	return min(1.0, float64(searched)/float64(days))
}

func emptySummary(window model.DateRange, participants int) model.RecommendationSummary {
	return model.RecommendationSummary{ParticipantCount: participants, Window: window, Empty: true}
}

func dedupe(users []string) []string {
	seen := make(map[string]struct{}, len(users))
	out := make([]string, 0, len(users))
	for _, u := range users {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
