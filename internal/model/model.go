package model

import "time"

// SyncStatus is the outcome of the most recent fetch of a calendar source.
type SyncStatus string

const (
	SyncPending SyncStatus = "PENDING"
	SyncSuccess SyncStatus = "SUCCESS"
	SyncError   SyncStatus = "ERROR"
)

// CalendarSource is a single iCal subscription registered by a user.
// Records are owned by the storage layer; this package only reads them and
// emits SourceSync projections after each fetch.
type CalendarSource struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	URL          string     `json:"url"`
	Name         string     `json:"name"`
	Color        string     `json:"color,omitempty"`
	SyncStatus   SyncStatus `json:"sync_status"`
	LastError    string     `json:"last_error,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	IsActive     bool       `json:"is_active"`
	SortOrder    int        `json:"sort_order"`
}

// SourceSync is the sync-status update produced for one source by a fetch
// attempt. Callers may persist it through their repository.
type SourceSync struct {
	SourceID  string
	Status    SyncStatus
	LastError string
	SyncedAt  time.Time
}

// RawEvent is a single concrete event occurrence read from a feed. It is
// produced fresh per fetch and never persisted.
type RawEvent struct {
	ID       string
	SourceID string
	UID      string
	Title    string

	// Start / End are in the configured display timezone.
	Start  time.Time
	End    time.Time
	AllDay bool

	// EventDate is the calendar date the event starts on, used for
	// all-day bucketing.
	EventDate Date
}

// BlockedPeriod is a manual override marking dates as unavailable.
// Days == 0 means a single day.
type BlockedPeriod struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Start  Date   `json:"start"`
	Days   int    `json:"days,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Range returns the dates covered by the period.
func (p BlockedPeriod) Range() DateRange {
	n := p.Days
	if n <= 0 {
		n = 1
	}
	return NextDays(p.Start, n)
}

// CalendarStatistics summarizes per-source fetch outcomes for one aggregation.
type CalendarStatistics struct {
	TotalCalendars      int `json:"total_calendars"`
	SuccessfulCalendars int `json:"successful_calendars"`
	FailedCalendars     int `json:"failed_calendars"`
	// StaleCalendars counts successful sources whose live fetch failed and
	// whose events came from the last cached copy.
	StaleCalendars int      `json:"stale_calendars"`
	TotalEvents    int      `json:"total_events"`
	ErrorMessages  []string `json:"error_messages,omitempty"`
}

func (s CalendarStatistics) HasErrors() bool {
	return s.FailedCalendars > 0 || s.StaleCalendars > 0
}

// AggregatedAvailability is the per-day verdict for one user over a window.
// Every date in Window is in exactly one of AvailableDates or BlockedDates.
type AggregatedAvailability struct {
	UserID string
	Window DateRange

	AvailableDates DateSet
	BlockedDates   DateSet

	// CalendarBlocked and OverrideBlocked record why a date is blocked.
	// A date may appear in both.
	CalendarBlocked DateSet
	OverrideBlocked DateSet

	RetrievedAt time.Time
	Statistics  CalendarStatistics

	// Degraded is set when the result was computed while the cache backend
	// was unavailable.
	Degraded bool
}

// Classified reports whether d falls inside the aggregation window.
func (a AggregatedAvailability) Classified(d Date) bool {
	return a.Window.Contains(d)
}

// AvailabilityRatio is the share of window dates that are available.
func (a AggregatedAvailability) AvailabilityRatio() float64 {
	n := a.Window.Days()
	if n == 0 {
		return 0
	}
	return float64(a.AvailableDates.Len()) / float64(n)
}

// Clone returns a deep copy so cached values cannot be mutated by callers.
func (a AggregatedAvailability) Clone() AggregatedAvailability {
	out := a
	out.AvailableDates = a.AvailableDates.Clone()
	out.BlockedDates = a.BlockedDates.Clone()
	out.CalendarBlocked = a.CalendarBlocked.Clone()
	out.OverrideBlocked = a.OverrideBlocked.Clone()
	if a.Statistics.ErrorMessages != nil {
		out.Statistics.ErrorMessages = append([]string(nil), a.Statistics.ErrorMessages...)
	}
	return out
}

// TimeSlotRecommendation is one ranked candidate day.
type TimeSlotRecommendation struct {
	Start             time.Time `json:"start"`
	End               time.Time `json:"end"`
	Date              Date      `json:"-"`
	ParticipantCount  int       `json:"participant_count"`
	AvailabilityScore float64   `json:"availability_score"`
	HasConflict       bool      `json:"has_conflict"`
	Priority          int       `json:"priority"`
}

// RecommendationSummary is a ranked list of recommendations for one group.
type RecommendationSummary struct {
	Recommendations  []TimeSlotRecommendation
	TotalSearched    int
	ParticipantCount int
	Window           DateRange
	Empty            bool

	avg *float64
}

// AverageScore is derived on first use and memoized. It is not safe for
// concurrent first calls.
func (s *RecommendationSummary) AverageScore() float64 {
	if s.avg != nil {
		return *s.avg
	}
	var v float64
	if n := len(s.Recommendations); n > 0 {
		var sum float64
		for _, r := range s.Recommendations {
			sum += r.AvailabilityScore
		}
		v = sum / float64(n)
	}
	s.avg = &v
	return v
}

// DualRecommendationResult compares the current group against the group
// extended with a candidate participant.
type DualRecommendationResult struct {
	CurrentParticipants           RecommendationSummary
	IncludingCandidate            RecommendationSummary
	IsCandidateAlreadyParticipant bool
	ConfidenceLevel               float64

	// UnavailableUsers lists participants whose availability could not be
	// computed; they are excluded from scoring.
	UnavailableUsers []string
	// ZeroSourceUsers lists participants with no successfully fetched
	// calendar. Their dates all count as available.
	ZeroSourceUsers []string
}
