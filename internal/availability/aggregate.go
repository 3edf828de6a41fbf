// Package availability merges calendar feeds and manual overrides into
// per-day verdicts and caches the results per user and window.
package availability

import (
	"fmt"
	"time"

	"meetcal/internal/ics"
	"meetcal/internal/model"
)

// Aggregate classifies every date of window as available or blocked for one
// user.
//
// A date is blocked when a successfully fetched event covers it or when a
// blocked period covers it. Failed sources contribute nothing to the date
// classification; they are only counted in the statistics. An empty window
// yields empty sets; an inverted window is rejected.
func Aggregate(userID string, window model.DateRange, results []ics.FetchResult, blocked []model.BlockedPeriod, now time.Time) (model.AggregatedAvailability, error) {
	if err := window.Validate(); err != nil {
		return model.AggregatedAvailability{}, err
	}

	out := model.AggregatedAvailability{
		UserID:          userID,
		Window:          window,
		AvailableDates:  make(model.DateSet, window.Days()),
		BlockedDates:    make(model.DateSet),
		CalendarBlocked: make(model.DateSet),
		OverrideBlocked: make(model.DateSet),
		RetrievedAt:     now,
	}

	for _, res := range results {
		out.Statistics.TotalCalendars++
		switch o := res.Outcome.(type) {
		case ics.FetchSuccess:
			out.Statistics.SuccessfulCalendars++
			out.Statistics.TotalEvents += len(o.Events)
			if o.Stale != "" {
				out.Statistics.StaleCalendars++
				out.Statistics.ErrorMessages = append(out.Statistics.ErrorMessages, sourceLabel(res.Source)+": "+o.Stale+" (cached copy used)")
			}
			for _, ev := range o.Events {
				markCovered(out.CalendarBlocked, eventDates(ev), window)
			}
		case ics.FetchFailure:
			out.Statistics.FailedCalendars++
			out.Statistics.ErrorMessages = append(out.Statistics.ErrorMessages, sourceLabel(res.Source)+": "+o.Reason)
		default:
			out.Statistics.FailedCalendars++
			out.Statistics.ErrorMessages = append(out.Statistics.ErrorMessages, sourceLabel(res.Source)+": no outcome")
		}
	}

	for _, p := range blocked {
		if p.UserID != "" && p.UserID != userID {
			continue
		}
		markCovered(out.OverrideBlocked, p.Range(), window)
	}

	for _, d := range window.Dates() {
		if out.CalendarBlocked.Has(d) || out.OverrideBlocked.Has(d) {
			out.BlockedDates.Add(d)
		} else {
			out.AvailableDates.Add(d)
		}
	}

	return out, nil
}

// eventDates returns the dates an event occupies as a half-open range.
// All-day events cover [startDate, endDate) with at least one day; timed
// events cover every date from start through the instant before end.
func eventDates(ev model.RawEvent) model.DateRange {
	start := ev.EventDate
	if start.IsZero() {
		start = model.DateOf(ev.Start)
	}

	if ev.AllDay {
		end := model.DateOf(ev.End)
		if !end.After(start) {
			end = start.AddDays(1)
		}
		return model.DateRange{Start: start, End: end}
	}

	last := start
	if ev.End.After(ev.Start) {
		last = model.DateOf(ev.End.Add(-time.Nanosecond))
		if last.Before(start) {
			last = start
		}
	}
	return model.Through(start, last)
}

// markCovered adds the part of r that lies inside window to set.
func markCovered(set model.DateSet, r model.DateRange, window model.DateRange) {
	start := r.Start
	if start.Before(window.Start) {
		start = window.Start
	}
	end := r.End
	if end.After(window.End) {
		end = window.End
	}
	for d := start; d.Before(end); d = d.AddDays(1) {
		set.Add(d)
	}
}

func sourceLabel(src model.CalendarSource) string {
	if src.Name != "" {
		return fmt.Sprintf("%s (%s)", src.Name, src.ID)
	}
	return src.ID
}
