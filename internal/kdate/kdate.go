// Package kdate converts between date sets and the grouped Korean text form
// used by the bot and web layers, e.g. "8월 28 29 30, 9월 3 4".
//
// The text carries month and day only. Parse infers the year from a
// reference instant: a month earlier than the reference month belongs to the
// following year, any other month to the reference year. Format/Parse
// therefore round-trip for sets inside the 12 months starting at the first
// day of the reference month.
package kdate

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"meetcal/internal/model"
)

// EmptyMessage is the human-facing rendering of an empty date set.
const EmptyMessage = "등록된 일정이 없습니다"

var ErrInvalidDateText = errors.New("invalid date text")

// ParseError names the segment that failed to parse.
type ParseError struct {
	Segment string
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid date text %q: %s", e.Segment, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return ErrInvalidDateText
}

var segmentRe = regexp.MustCompile(`^(\d{1,2})\s*월\s*(.*)$`)

type monthKey struct {
	year  int
	month time.Month
}

// Format renders dates grouped by month in chronological order. An empty
// set renders as the empty string.
func Format(dates model.DateSet) string {
	sorted := dates.Sorted()
	if len(sorted) == 0 {
		return ""
	}

	var b strings.Builder
	var cur monthKey
	for i, d := range sorted {
		k := monthKey{d.Year, d.Month}
		if i == 0 || k != cur {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(strconv.Itoa(int(d.Month)))
			b.WriteString("월")
			cur = k
		}
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(d.Day))
	}
	return b.String()
}

// FormatHuman is Format with EmptyMessage for the empty set.
func FormatHuman(dates model.DateSet) string {
	if dates.Len() == 0 {
		return EmptyMessage
	}
	return Format(dates)
}

// FormatPeriod renders an inclusive period such as
// "2026년 10월 19일 ~ 2026년 11월 18일". Empty ranges render as "".
func FormatPeriod(r model.DateRange) string {
	if r.IsEmpty() {
		return ""
	}
	return formatLong(r.Start) + " ~ " + formatLong(r.Last())
}

func formatLong(d model.Date) string {
	return fmt.Sprintf("%d년 %d월 %d일", d.Year, int(d.Month), d.Day)
}

// Parse reads grouped month/day text relative to ref. Whitespace is
// tolerated anywhere between tokens and day tokens may carry a trailing
// "일". Blank input yields an empty set.
func Parse(text string, ref time.Time) (model.DateSet, error) {
	out := make(model.DateSet)
	if strings.TrimSpace(text) == "" {
		return out, nil
	}

	refYear, refMonth := ref.Year(), ref.Month()

	for _, raw := range strings.Split(text, ",") {
		seg := strings.TrimSpace(raw)
		if seg == "" {
			return nil, &ParseError{Segment: raw, Reason: "empty segment"}
		}

		m := segmentRe.FindStringSubmatch(seg)
		if m == nil {
			return nil, &ParseError{Segment: seg, Reason: `missing "<N>월" prefix`}
		}

		monthNum, _ := strconv.Atoi(m[1])
		if monthNum < 1 || monthNum > 12 {
			return nil, &ParseError{Segment: seg, Reason: fmt.Sprintf("month %d out of range", monthNum)}
		}
		month := time.Month(monthNum)

		year := refYear
		if month < refMonth {
			year++
		}

		tokens := strings.Fields(m[2])
		if len(tokens) == 0 {
			return nil, &ParseError{Segment: seg, Reason: "no days listed"}
		}

		maxDay := model.DaysIn(year, month)
		for _, tok := range tokens {
			day, err := strconv.Atoi(strings.TrimSuffix(tok, "일"))
			if err != nil {
				return nil, &ParseError{Segment: seg, Reason: fmt.Sprintf("day %q is not a number", tok)}
			}
			if day < 1 || day > maxDay {
				return nil, &ParseError{Segment: seg, Reason: fmt.Sprintf("day %d out of range for %d월 (1-%d)", day, monthNum, maxDay)}
			}
			out.Add(model.Date{Year: year, Month: month, Day: day})
		}
	}

	return out, nil
}
