// Package schedule is the request-facing facade over the availability cache,
// the overlap matcher and the recommendation engine. It produces the
// response shapes consumed by the HTTP adapter and the CLI.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"meetcal/internal/kdate"
	"meetcal/internal/model"
	"meetcal/internal/overlap"
	"meetcal/internal/recommend"
)

const (
	DefaultMonths        = 1
	MaxMonths            = 12
	DefaultOverlapMonths = 3
	DefaultTopN          = 5
	DefaultHorizonDays   = 30
	MaxHorizonDays       = 366
)

// ErrInvalidRequest marks caller mistakes such as an empty user id or an
// out-of-bounds month count.
var ErrInvalidRequest = errors.New("invalid request")

// AvailabilityCache is the subset of availability.Cache the service uses.
type AvailabilityCache interface {
	GetOrCompute(ctx context.Context, userID string, window model.DateRange) (model.AggregatedAvailability, error)
	Refresh(userID string) error
}

type Config struct {
	Location             *time.Location
	Now                  func() time.Time
	Workers              int
	OverlapHorizonMonths int
	TopN                 int
	HorizonDays          int
}

type Service struct {
	cache  AvailabilityCache
	engine *recommend.Engine
	loc    *time.Location
	now    func() time.Time

	overlapMonths int
	topN          int
	horizonDays   int
}

func NewService(cache AvailabilityCache, cfg Config) *Service {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.OverlapHorizonMonths <= 0 {
		cfg.OverlapHorizonMonths = DefaultOverlapMonths
	}
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultTopN
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = DefaultHorizonDays
	}
	return &Service{
		cache:         cache,
		engine:        recommend.NewEngine(cache, recommend.Config{Workers: cfg.Workers, Location: cfg.Location}),
		loc:           cfg.Location,
		now:           cfg.Now,
		overlapMonths: cfg.OverlapHorizonMonths,
		topN:          cfg.TopN,
		horizonDays:   cfg.HorizonDays,
	}
}

type MyScheduleResponse struct {
	UserID               string    `json:"userId"`
	KoreanDateFormat     string    `json:"koreanDateFormat"`
	RequestedMonths      int       `json:"requestedMonths"`
	SearchPeriod         string    `json:"searchPeriod"`
	SyncedAt             time.Time `json:"syncedAt"`
	CalendarCount        int       `json:"calendarCount"`
	FailedCalendars      int       `json:"failedCalendars"`
	TotalEvents          int       `json:"totalEvents"`
	AvailableDatesFormat string    `json:"availableDatesFormat"`
	TotalAvailableDays   int       `json:"totalAvailableDays"`
	TotalBlockedDays     int       `json:"totalBlockedDays"`
	AvailabilityRatio    float64   `json:"availabilityRatio"`
	ErrorMessages        []string  `json:"errorMessages,omitempty"`
	Degraded             bool      `json:"degraded,omitempty"`
}

type ScheduleOverlapResponse struct {
	UserID                     string  `json:"userId"`
	OverlappingDates           string  `json:"overlappingDates"`
	TotalMatches               int     `json:"totalMatches"`
	InputTotal                 int     `json:"inputTotal"`
	UserTotal                  int     `json:"userTotal"`
	MatchPercentage            float64 `json:"matchPercentage"`
	AvailableDatesFromInput    string  `json:"availableDatesFromInput"`
	BlockedDatesFromInput      string  `json:"blockedDatesFromInput"`
	TotalAvailableFromInput    int     `json:"totalAvailableFromInput"`
	TotalBlockedFromInput      int     `json:"totalBlockedFromInput"`
	AvailabilityRatioFromInput float64 `json:"availabilityRatioFromInput"`
	OutOfRangeDates            string  `json:"outOfRangeDates,omitempty"`
	SearchPeriod               string  `json:"searchPeriod"`
}

type RecommendationResponse struct {
	Date              string    `json:"date"`
	Start             time.Time `json:"start"`
	End               time.Time `json:"end"`
	ParticipantCount  int       `json:"participantCount"`
	AvailabilityScore float64   `json:"availabilityScore"`
	HasConflict       bool      `json:"hasConflict"`
	Priority          int       `json:"priority"`
}

type SummaryResponse struct {
	Recommendations  []RecommendationResponse `json:"recommendations"`
	TotalSearched    int                      `json:"totalSearched"`
	ParticipantCount int                      `json:"participantCount"`
	AverageScore     float64                  `json:"averageScore"`
	SearchPeriod     string                   `json:"searchPeriod"`
	Empty            bool                     `json:"empty"`
}

type DualRecommendationResponse struct {
	CurrentParticipants SummaryResponse `json:"currentParticipants"`
	IncludingMe         SummaryResponse `json:"includingMe"`
	IsUserParticipant   bool            `json:"isUserParticipant"`
	ParticipantCount    int             `json:"participantCount"`
	ConfidenceLevel     float64         `json:"confidenceLevel"`
	UnavailableUsers    []string        `json:"unavailableUsers,omitempty"`
	ZeroSourceUsers     []string        `json:"zeroSourceUsers,omitempty"`
}

func (s *Service) today() model.Date {
	return model.Today(s.now(), s.loc)
}

// MySchedule summarizes userID's availability over the next months months.
// months == 0 selects DefaultMonths.
func (s *Service) MySchedule(ctx context.Context, userID string, months int) (MyScheduleResponse, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return MyScheduleResponse{}, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if months == 0 {
		months = DefaultMonths
	}
	if months < 0 || months > MaxMonths {
		return MyScheduleResponse{}, fmt.Errorf("%w: months must be between 1 and %d", ErrInvalidRequest, MaxMonths)
	}

	window := model.NextMonths(s.today(), months)
	av, err := s.cache.GetOrCompute(ctx, userID, window)
	if err != nil {
		return MyScheduleResponse{}, err
	}

	return MyScheduleResponse{
		UserID:               userID,
		KoreanDateFormat:     kdate.FormatHuman(av.BlockedDates),
		RequestedMonths:      months,
		SearchPeriod:         kdate.FormatPeriod(window),
		SyncedAt:             av.RetrievedAt,
		CalendarCount:        av.Statistics.TotalCalendars,
		FailedCalendars:      av.Statistics.FailedCalendars,
		TotalEvents:          av.Statistics.TotalEvents,
		AvailableDatesFormat: kdate.Format(av.AvailableDates),
		TotalAvailableDays:   av.AvailableDates.Len(),
		TotalBlockedDays:     av.BlockedDates.Len(),
		AvailabilityRatio:    av.AvailabilityRatio(),
		ErrorMessages:        av.Statistics.ErrorMessages,
		Degraded:             av.Degraded,
	}, nil
}

// Overlap parses text as grouped Korean dates and matches them against
// userID's availability over the overlap horizon.
func (s *Service) Overlap(ctx context.Context, userID, text string) (ScheduleOverlapResponse, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ScheduleOverlapResponse{}, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}

	now := s.now().In(s.loc)
	input, err := kdate.Parse(text, now)
	if err != nil {
		return ScheduleOverlapResponse{}, err
	}

	window := model.NextMonths(model.DateOf(now), s.overlapMonths)
	av, err := s.cache.GetOrCompute(ctx, userID, window)
	if err != nil {
		return ScheduleOverlapResponse{}, err
	}

	r := overlap.Match(input, av)
	return ScheduleOverlapResponse{
		UserID:                     userID,
		OverlappingDates:           r.MatchedText(),
		TotalMatches:               r.TotalMatched,
		InputTotal:                 r.TotalInput,
		UserTotal:                  av.AvailableDates.Len(),
		MatchPercentage:            r.MatchPercentage,
		AvailableDatesFromInput:    r.MatchedText(),
		BlockedDatesFromInput:      r.BlockedText(),
		TotalAvailableFromInput:    r.MatchedDates.Len(),
		TotalBlockedFromInput:      r.BlockedFromInput.Len(),
		AvailabilityRatioFromInput: r.ClassifiedRatio(),
		OutOfRangeDates:            r.OutOfRangeText(),
		SearchPeriod:               kdate.FormatPeriod(window),
	}, nil
}

// Recommend ranks the next days days for participants, with and without
// candidate. days == 0 and topN == 0 select the configured defaults; a
// negative topN keeps every date.
func (s *Service) Recommend(ctx context.Context, participants []string, candidate string, days, topN int) (DualRecommendationResponse, error) {
	if days == 0 {
		days = s.horizonDays
	}
	if days < 0 || days > MaxHorizonDays {
		return DualRecommendationResponse{}, fmt.Errorf("%w: days must be between 1 and %d", ErrInvalidRequest, MaxHorizonDays)
	}
	if topN == 0 {
		topN = s.topN
	}

	window := model.NextDays(s.today(), days)
	res, err := s.engine.Recommend(ctx, participants, candidate, window, topN)
	if err != nil {
		return DualRecommendationResponse{}, err
	}

	return DualRecommendationResponse{
		CurrentParticipants: summaryResponse(&res.CurrentParticipants),
		IncludingMe:         summaryResponse(&res.IncludingCandidate),
		IsUserParticipant:   res.IsCandidateAlreadyParticipant,
		ParticipantCount:    res.CurrentParticipants.ParticipantCount,
		ConfidenceLevel:     res.ConfidenceLevel,
		UnavailableUsers:    res.UnavailableUsers,
		ZeroSourceUsers:     res.ZeroSourceUsers,
	}, nil
}

// Refresh drops cached availability for userID.
func (s *Service) Refresh(userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	return s.cache.Refresh(userID)
}

func summaryResponse(s *model.RecommendationSummary) SummaryResponse {
	out := SummaryResponse{
		Recommendations:  make([]RecommendationResponse, 0, len(s.Recommendations)),
		TotalSearched:    s.TotalSearched,
		ParticipantCount: s.ParticipantCount,
		AverageScore:     s.AverageScore(),
		SearchPeriod:     kdate.FormatPeriod(s.Window),
		Empty:            s.Empty,
	}
	for _, r := range s.Recommendations {
		out.Recommendations = append(out.Recommendations, RecommendationResponse{
			Date:              r.Date.String(),
			Start:             r.Start,
			End:               r.End,
			ParticipantCount:  r.ParticipantCount,
			AvailabilityScore: r.AvailabilityScore,
			HasConflict:       r.HasConflict,
			Priority:          r.Priority,
		})
	}
	return out
}
