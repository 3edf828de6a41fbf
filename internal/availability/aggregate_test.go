package availability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetcal/internal/ics"
	"meetcal/internal/model"
)

var (
	kst     = time.FixedZone("KST", 9*60*60)
	fixedAt = time.Date(2026, 10, 1, 9, 0, 0, 0, kst)
	october = model.Through(model.D(2026, 10, 1), model.D(2026, 10, 10))
)

func allDay(d model.Date) model.RawEvent {
	return model.RawEvent{Start: d.In(kst), End: d.AddDays(1).In(kst), AllDay: true, EventDate: d}
}

func timed(start, end time.Time) model.RawEvent {
	return model.RawEvent{Start: start, End: end, EventDate: model.DateOf(start)}
}

func success(id string, events ...model.RawEvent) ics.FetchResult {
	return ics.FetchResult{
		Source:  model.CalendarSource{ID: id, IsActive: true},
		Outcome: ics.FetchSuccess{Events: events},
	}
}

func failure(id, reason string) ics.FetchResult {
	return ics.FetchResult{
		Source:  model.CalendarSource{ID: id, Name: "work", IsActive: true},
		Outcome: ics.FetchFailure{Reason: reason},
	}
}

func assertPartition(t *testing.T, av model.AggregatedAvailability) {
	t.Helper()
	assert.Equal(t, 0, av.AvailableDates.Intersect(av.BlockedDates).Len(), "available and blocked overlap")
	assert.True(t, av.AvailableDates.Union(av.BlockedDates).Equal(av.Window.Set()), "classification does not cover window")
}

func TestAggregateNoSourcesNoOverrides(t *testing.T) {
	av, err := Aggregate("u1", october, nil, nil, fixedAt)
	require.NoError(t, err)

	assert.True(t, av.AvailableDates.Equal(october.Set()))
	assert.Equal(t, 0, av.BlockedDates.Len())
	assert.Equal(t, "u1", av.UserID)
	assert.Equal(t, fixedAt, av.RetrievedAt)
	assertPartition(t, av)
}

func TestAggregateOverrideBlocksWithoutEvent(t *testing.T) {
	blocked := []model.BlockedPeriod{{UserID: "u1", Start: model.D(2026, 10, 4)}}
	av, err := Aggregate("u1", october, []ics.FetchResult{success("a")}, blocked, fixedAt)
	require.NoError(t, err)

	assert.False(t, av.AvailableDates.Has(model.D(2026, 10, 4)))
	assert.True(t, av.OverrideBlocked.Has(model.D(2026, 10, 4)))
	assert.False(t, av.CalendarBlocked.Has(model.D(2026, 10, 4)))
	assertPartition(t, av)
}

func TestAggregateOverrideLengthAndOtherUsersIgnored(t *testing.T) {
	blocked := []model.BlockedPeriod{
		{UserID: "u1", Start: model.D(2026, 10, 8), Days: 5},
		{UserID: "u2", Start: model.D(2026, 10, 1)},
	}
	av, err := Aggregate("u1", october, nil, blocked, fixedAt)
	require.NoError(t, err)

	assert.True(t, av.BlockedDates.Equal(model.NewDateSet(model.D(2026, 10, 8), model.D(2026, 10, 9), model.D(2026, 10, 10))))
	assert.True(t, av.AvailableDates.Has(model.D(2026, 10, 1)))
}

func TestAggregateOverrideWinsOverCalendar(t *testing.T) {
	d := model.D(2026, 10, 2)
	blocked := []model.BlockedPeriod{{UserID: "u1", Start: d}}
	av, err := Aggregate("u1", october, []ics.FetchResult{success("a", allDay(d))}, blocked, fixedAt)
	require.NoError(t, err)

	assert.True(t, av.BlockedDates.Has(d))
	assert.True(t, av.CalendarBlocked.Has(d))
	assert.True(t, av.OverrideBlocked.Has(d))
}

func TestAggregateOneOfThreeSourcesTimesOut(t *testing.T) {
	results := []ics.FetchResult{
		success("a", allDay(model.D(2026, 10, 2))),
		failure("b", ics.ReasonTimeout),
		success("c", allDay(model.D(2026, 10, 5))),
	}
	av, err := Aggregate("u1", october, results, nil, fixedAt)
	require.NoError(t, err)

	assert.Equal(t, 3, av.Statistics.TotalCalendars)
	assert.Equal(t, 2, av.Statistics.SuccessfulCalendars)
	assert.Equal(t, 1, av.Statistics.FailedCalendars)
	assert.True(t, av.Statistics.HasErrors())
	assert.Equal(t, []string{"work (b): timeout"}, av.Statistics.ErrorMessages)

	assert.True(t, av.BlockedDates.Equal(model.NewDateSet(model.D(2026, 10, 2), model.D(2026, 10, 5))))
	assert.Equal(t, october.Days()-2, av.AvailableDates.Len())
	assertPartition(t, av)
}

func TestAggregateFailedSourceOnlyRecordedInStatistics(t *testing.T) {
	av, err := Aggregate("u1", october, []ics.FetchResult{failure("b", "connection refused")}, nil, fixedAt)
	require.NoError(t, err)

	assert.Equal(t, 0, av.BlockedDates.Len())
	assert.Equal(t, 0, av.Statistics.SuccessfulCalendars)
	assert.Equal(t, 1, av.Statistics.FailedCalendars)
}

func TestAggregateCachedCopyBlocksAndReportsError(t *testing.T) {
	d := model.D(2026, 10, 6)
	stale := ics.FetchResult{
		Source:  model.CalendarSource{ID: "a", Name: "home", IsActive: true},
		Outcome: ics.FetchSuccess{Events: []model.RawEvent{allDay(d)}, Stale: "unexpected HTTP status: 503"},
	}
	av, err := Aggregate("u1", october, []ics.FetchResult{stale}, nil, fixedAt)
	require.NoError(t, err)

	assert.True(t, av.BlockedDates.Equal(model.NewDateSet(d)))
	assert.Equal(t, 1, av.Statistics.SuccessfulCalendars)
	assert.Equal(t, 1, av.Statistics.StaleCalendars)
	assert.True(t, av.Statistics.HasErrors())
	assert.Equal(t, []string{"home (a): unexpected HTTP status: 503 (cached copy used)"}, av.Statistics.ErrorMessages)
}

func TestAggregateDeduplicatesEvents(t *testing.T) {
	d := model.D(2026, 10, 3)
	results := []ics.FetchResult{
		success("a", allDay(d), allDay(d)),
		success("b", allDay(d)),
	}
	av, err := Aggregate("u1", october, results, nil, fixedAt)
	require.NoError(t, err)

	assert.Equal(t, 1, av.BlockedDates.Len())
	assert.Equal(t, 3, av.Statistics.TotalEvents)
}

func TestAggregateTimedEventsSpanningMidnight(t *testing.T) {
	overnight := timed(time.Date(2026, 10, 3, 22, 0, 0, 0, kst), time.Date(2026, 10, 4, 2, 0, 0, 0, kst))
	endsAtMidnight := timed(time.Date(2026, 10, 6, 20, 0, 0, 0, kst), time.Date(2026, 10, 7, 0, 0, 0, 0, kst))

	av, err := Aggregate("u1", october, []ics.FetchResult{success("a", overnight, endsAtMidnight)}, nil, fixedAt)
	require.NoError(t, err)

	assert.True(t, av.BlockedDates.Equal(model.NewDateSet(
		model.D(2026, 10, 3), model.D(2026, 10, 4), model.D(2026, 10, 6),
	)))
}

func TestAggregateMultiDayAllDayEventClippedToWindow(t *testing.T) {
	trip := model.RawEvent{
		Start:     model.D(2026, 9, 28).In(kst),
		End:       model.D(2026, 10, 3).In(kst),
		AllDay:    true,
		EventDate: model.D(2026, 9, 28),
	}
	av, err := Aggregate("u1", october, []ics.FetchResult{success("a", trip)}, nil, fixedAt)
	require.NoError(t, err)

	assert.True(t, av.BlockedDates.Equal(model.NewDateSet(model.D(2026, 10, 1), model.D(2026, 10, 2))))
}

func TestAggregateEmptyWindow(t *testing.T) {
	empty := model.DateRange{Start: model.D(2026, 10, 1), End: model.D(2026, 10, 1)}
	av, err := Aggregate("u1", empty, []ics.FetchResult{success("a", allDay(model.D(2026, 10, 1)))}, nil, fixedAt)
	require.NoError(t, err)

	assert.Equal(t, 0, av.AvailableDates.Len())
	assert.Equal(t, 0, av.BlockedDates.Len())
}

func TestAggregateRejectsInvertedWindow(t *testing.T) {
	inverted := model.DateRange{Start: model.D(2026, 10, 5), End: model.D(2026, 10, 1)}
	_, err := Aggregate("u1", inverted, nil, nil, fixedAt)
	require.ErrorIs(t, err, model.ErrInvalidRange)
}
