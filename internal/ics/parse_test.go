package ics

import (
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetcal/internal/model"
)

var kst = time.FixedZone("KST", 9*60*60)

func calendar(events ...string) []byte {
	lines := []string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//meetcal//test//EN"}
	for _, ev := range events {
		lines = append(lines, strings.Split(strings.TrimSpace(ev), "\n")...)
	}
	lines = append(lines, "END:VCALENDAR", "")
	return []byte(strings.Join(lines, "\r\n"))
}

const (
	timedEvent = `BEGIN:VEVENT
UID:timed-1
DTSTAMP:20260901T000000Z
DTSTART:20261001T010000Z
DTEND:20261001T020000Z
SUMMARY:Standup
END:VEVENT`

	allDayEvent = `BEGIN:VEVENT
UID:allday-1
DTSTAMP:20260901T000000Z
DTSTART;VALUE=DATE:20261005
DTEND;VALUE=DATE:20261007
SUMMARY:Trip
END:VEVENT`

	weeklyEvent = `BEGIN:VEVENT
UID:weekly-1
DTSTAMP:20260901T000000Z
DTSTART:20261002T100000Z
DTEND:20261002T110000Z
RRULE:FREQ=WEEKLY;COUNT=4
EXDATE:20261009T100000Z
SUMMARY:Weekly
END:VEVENT`

	weeklyOverride = `BEGIN:VEVENT
UID:weekly-1
DTSTAMP:20260901T000000Z
RECURRENCE-ID:20261016T100000Z
DTSTART:20261017T100000Z
DTEND:20261017T110000Z
SUMMARY:Weekly moved
END:VEVENT`

	cancelledEvent = `BEGIN:VEVENT
UID:cancelled-1
DTSTAMP:20260901T000000Z
STATUS:CANCELLED
DTSTART:20261003T010000Z
DTEND:20261003T020000Z
SUMMARY:Cancelled
END:VEVENT`

	transparentEvent = `BEGIN:VEVENT
UID:free-1
DTSTAMP:20260901T000000Z
TRANSP:TRANSPARENT
DTSTART:20261004T010000Z
DTEND:20261004T020000Z
SUMMARY:Free
END:VEVENT`
)

var octoberWindow = model.Through(model.D(2026, time.October, 1), model.D(2026, time.October, 31))

func TestParseICSReadsFields(t *testing.T) {
	src := model.CalendarSource{ID: "src-1", URL: "https://example.com/a.ics"}
	events, err := ParseICS(src, calendar(timedEvent, allDayEvent), kst)
	require.NoError(t, err)
	require.Len(t, events, 2)

	byUID := map[string]ParsedEvent{}
	for _, ev := range events {
		byUID[ev.UID] = ev
	}

	timed := byUID["timed-1"]
	assert.False(t, timed.AllDay)
	assert.Equal(t, "Standup", timed.Summary)
	assert.True(t, timed.Start.Equal(time.Date(2026, 10, 1, 1, 0, 0, 0, time.UTC)))
	assert.Equal(t, "src-1", timed.SourceID)

	allDay := byUID["allday-1"]
	assert.True(t, allDay.AllDay)
	assert.Equal(t, model.D(2026, 10, 5).In(kst), allDay.Start)
	assert.Equal(t, model.D(2026, 10, 7).In(kst), allDay.End)
}

func TestParseICSSkipsEventsWithoutUID(t *testing.T) {
	noUID := `BEGIN:VEVENT
DTSTART:20261001T010000Z
SUMMARY:Nameless
END:VEVENT`
	events, err := ParseICS(model.CalendarSource{ID: "s"}, calendar(noUID, timedEvent), kst)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "timed-1", events[0].UID)
}

func TestParseICSRejectsEmptyBody(t *testing.T) {
	_, err := ParseICS(model.CalendarSource{ID: "s"}, []byte("  \n"), kst)
	require.Error(t, err)
}

func TestICalParserExpandsIntoWindow(t *testing.T) {
	p := ICalParser{Location: kst}
	src := model.CalendarSource{ID: "src-1"}

	body := calendar(timedEvent, allDayEvent, weeklyEvent, weeklyOverride, cancelledEvent, transparentEvent)
	events, err := p.Parse(src, body, octoberWindow)
	require.NoError(t, err)

	sort.Slice(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })

	got := make([]string, 0, len(events))
	for _, ev := range events {
		got = append(got, ev.EventDate.String()+" "+ev.Title)
	}
	assert.Equal(t, []string{
		"2026-10-01 Standup",
		"2026-10-02 Weekly",
		"2026-10-05 Trip",
		"2026-10-17 Weekly moved",
		"2026-10-23 Weekly",
	}, got)

	for _, ev := range events {
		assert.Equal(t, kst, ev.Start.Location())
		assert.NotEmpty(t, ev.ID)
		assert.Equal(t, "src-1", ev.SourceID)
	}
}

func TestICalParserEventIDsAreStable(t *testing.T) {
	p := ICalParser{Location: kst}
	src := model.CalendarSource{ID: "src-1"}
	body := calendar(timedEvent)

	a, err := p.Parse(src, body, octoberWindow)
	require.NoError(t, err)
	b, err := p.Parse(src, body, octoberWindow)
	require.NoError(t, err)
	require.Len(t, a, 1)
	assert.Equal(t, a[0].ID, b[0].ID)
}

func TestICalParserDropsEventsOutsideWindow(t *testing.T) {
	p := ICalParser{Location: kst}
	window := model.Through(model.D(2026, time.November, 1), model.D(2026, time.November, 30))
	events, err := p.Parse(model.CalendarSource{ID: "s"}, calendar(timedEvent, allDayEvent), window)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestExpandIncludesRecurringEventRunningIntoWindow(t *testing.T) {
	overnight := ParsedEvent{
		SourceID: "s",
		UID:      "night",
		Start:    time.Date(2026, 10, 31, 22, 0, 0, 0, kst),
		End:      time.Date(2026, 11, 1, 6, 0, 0, 0, kst),
		RawRRule: "FREQ=DAILY;COUNT=2",
	}
	res, err := ExpandOccurrences([]ParsedEvent{overnight}, ExpandConfig{
		DisplayLocation: kst,
		RangeStart:      model.D(2026, 11, 1).In(kst),
		RangeEnd:        model.D(2026, 11, 2).In(kst),
	})
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
}

func TestExpandRespectsCap(t *testing.T) {
	daily := ParsedEvent{
		SourceID: "s",
		UID:      "daily",
		Start:    time.Date(2026, 10, 1, 9, 0, 0, 0, kst),
		End:      time.Date(2026, 10, 1, 10, 0, 0, 0, kst),
		RawRRule: "FREQ=DAILY",
	}
	res, err := ExpandOccurrences([]ParsedEvent{daily}, ExpandConfig{
		DisplayLocation:        kst,
		RangeStart:             model.D(2026, 10, 1).In(kst),
		RangeEnd:               model.D(2026, 11, 1).In(kst),
		MaxOccurrencesPerEvent: 10,
	})
	require.NoError(t, err)
	assert.Len(t, res.Events, 10)
	assert.Equal(t, []string{"daily"}, res.TruncatedEvents)
}

func TestExpandRejectsInvertedRange(t *testing.T) {
	_, err := ExpandOccurrences(nil, ExpandConfig{
		RangeStart: time.Date(2026, 10, 2, 0, 0, 0, 0, kst),
		RangeEnd:   time.Date(2026, 10, 1, 0, 0, 0, 0, kst),
	})
	require.Error(t, err)
}
