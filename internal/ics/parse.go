package ics

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "meetcal/internal/log"
	"meetcal/internal/model"
)

// Parser turns a raw feed payload into concrete events within a window.
type Parser interface {
	Parse(src model.CalendarSource, body []byte, window model.DateRange) ([]model.RawEvent, error)
}

// ParsedEvent is the normalized representation of a VEVENT as produced
// by the ICS parser. Recurrence expansion operates on this type.
type ParsedEvent struct {
	SourceID string

	UID string
	Seq int

	Summary string

	Start  time.Time
	End    time.Time
	AllDay bool

	// Cancelled events and TRANSP:TRANSPARENT events do not block time.
	Cancelled   bool
	Transparent bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID (if present) in event's own timezone
	IsOverride bool       // true if this VEVENT is an override for a recurring instance
}

// Busy reports whether the event occupies time.
func (e ParsedEvent) Busy() bool {
	return !e.Cancelled && !e.Transparent
}

// ICalParser parses iCalendar payloads with golang-ical and expands
// recurrences with rrule-go.
type ICalParser struct {
	// Location is the display timezone for all produced events.
	Location *time.Location
	// MaxOccurrencesPerEvent caps recurrence expansion. Zero uses the default.
	MaxOccurrencesPerEvent int
}

func (p ICalParser) Parse(src model.CalendarSource, body []byte, window model.DateRange) ([]model.RawEvent, error) {
	loc := p.Location
	if loc == nil {
		loc = time.Local
	}

	parsed, err := ParseICS(src, body, loc)
	if err != nil {
		return nil, err
	}

	res, err := ExpandOccurrences(parsed, ExpandConfig{
		DisplayLocation:        loc,
		RangeStart:             window.Start.In(loc),
		RangeEnd:               window.End.In(loc),
		MaxOccurrencesPerEvent: p.MaxOccurrencesPerEvent,
	})
	if err != nil {
		return nil, err
	}
	return res.Events, nil
}

// ParseICS parses a single ICS payload into a list of ParsedEvent.
//
//   - It relies on the underlying library's VTIMEZONE/TZID handling to
//     construct proper time.Time values for timed events.
//   - All-day events are read from the raw DATE value and anchored at
//     midnight in loc, so the calendar date never shifts with zone offsets.
//   - It records RRULE/EXDATE/RECURRENCE-ID but does not expand recurrences;
//     expansion is done in expand.go.
func ParseICS(src model.CalendarSource, body []byte, loc *time.Location) ([]ParsedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, err
	}

	events := make([]ParsedEvent, 0)

	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(src, comp, loc)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Error("ics vevent parse failed", perr, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "id", src.ID, "url", redactURL(src.URL), "event_count", len(events))
	return events, nil
}

func parseVEvent(src model.CalendarSource, ve *ical.VEvent, loc *time.Location) (ParsedEvent, error) {
	var out ParsedEvent
	out.SourceID = src.ID

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	// SEQUENCE (optional, used for overrides/versioning)
	if seqProp := ve.GetProperty(ical.ComponentPropertySequence); seqProp != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(seqProp.Value)); err == nil {
			out.Seq = n
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty("STATUS"); p != nil {
		out.Cancelled = strings.EqualFold(strings.TrimSpace(p.Value), "CANCELLED")
	}
	if p := ve.GetProperty("TRANSP"); p != nil {
		out.Transparent = strings.EqualFold(strings.TrimSpace(p.Value), "TRANSPARENT")
	}

	dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStartProp == nil {
		return out, errors.New("missing DTSTART")
	}
	out.AllDay = isDateValue(dtStartProp)

	if out.AllDay {
		startDate, err := parseICSDate(dtStartProp.Value)
		if err != nil {
			return out, err
		}
		out.Start = startDate.In(loc)
		out.End = out.Start.AddDate(0, 0, 1)
		if dtEndProp := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEndProp != nil {
			if endDate, err := parseICSDate(dtEndProp.Value); err == nil && endDate.After(startDate) {
				out.End = endDate.In(loc)
			}
		}
	} else {
		start, err := ve.GetStartAt()
		if err != nil {
			return out, err
		}
		out.Start = start
		out.End = start
		if end, err := ve.GetEndAt(); err == nil && end.After(start) {
			out.End = end
		}
	}

	// RRULE (we only keep raw string here; expansion will be in expand.go).
	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = rruleProp.Value
	}

	// EXDATE (can appear multiple times, each possibly comma separated)
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part, tzidOf(p, out.Start.Location())); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	// RECURRENCE-ID (overridden instance)
	if ridProp := ve.GetProperty("RECURRENCE-ID"); ridProp != nil {
		if t, err := parseICSTime(ridProp.Value, tzidOf(ridProp, out.Start.Location())); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out, nil
}

// isDateValue detects VALUE=DATE or a YYYYMMDD-form value.
func isDateValue(p *ical.IANAProperty) bool {
	if params := p.ICalParameters; params != nil {
		if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			return true
		}
	}
	return !strings.Contains(p.Value, "T")
}

// tzidOf resolves the TZID parameter of a property, falling back to def.
func tzidOf(p *ical.IANAProperty, def *time.Location) *time.Location {
	if params := p.ICalParameters; params != nil {
		if tzs, ok := params["TZID"]; ok && len(tzs) > 0 {
			if loc, err := time.LoadLocation(tzs[0]); err == nil {
				return loc
			}
		}
	}
	return def
}

func parseICSDate(v string) (model.Date, error) {
	v = strings.TrimSpace(v)
	if len(v) < 8 {
		return model.Date{}, errors.New("invalid DATE value: " + v)
	}
	t, err := time.Parse("20060102", v[:8])
	if err != nil {
		return model.Date{}, err
	}
	return model.DateOf(t), nil
}

// parseICSTime parses a basic ICS date/date-time string into time.Time.
// Floating and date-only values are interpreted in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if loc == nil {
		loc = time.Local
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}

	// Local date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}

	// Date-only (all-day), e.g., 20250101
	return time.ParseInLocation("20060102", v, loc)
}
