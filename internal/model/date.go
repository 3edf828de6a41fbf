package model

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrInvalidRange is returned for date ranges whose end precedes their start.
var ErrInvalidRange = errors.New("invalid date range")

// Date is a civil calendar date without time or zone. It is comparable and
// can be used as a map key.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// D is shorthand for constructing a normalized Date.
func D(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Today returns the current date in loc.
func Today(now time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.Local
	}
	return DateOf(now.In(loc))
}

// In returns midnight of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) utc() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.utc().AddDate(0, 0, n))
}

func (d Date) Before(o Date) bool {
	return d.Compare(o) < 0
}

func (d Date) After(o Date) bool {
	return d.Compare(o) > 0
}

// Compare returns -1, 0 or +1.
func (d Date) Compare(o Date) int {
	switch {
	case d.Year != o.Year:
		return cmpInt(d.Year, o.Year)
	case d.Month != o.Month:
		return cmpInt(int(d.Month), int(o.Month))
	default:
		return cmpInt(d.Day, o.Day)
	}
}

// DaysUntil returns the number of days from d to o (negative if o is earlier).
func (d Date) DaysUntil(o Date) int {
	return int(o.utc().Sub(d.utc()).Hours() / 24)
}

func (d Date) IsZero() bool {
	return d == Date{}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// ParseISODate parses a YYYY-MM-DD string.
func ParseISODate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// DateRange is the half-open interval [Start, End). A range with
// Start == End is empty; End before Start is invalid.
type DateRange struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

// Through builds the range covering first..last inclusive.
func Through(first, last Date) DateRange {
	return DateRange{Start: first, End: last.AddDays(1)}
}

// NextDays returns [start, start+n).
func NextDays(start Date, n int) DateRange {
	return DateRange{Start: start, End: start.AddDays(n)}
}

// NextMonths returns [start, start+months).
func NextMonths(start Date, months int) DateRange {
	end := DateOf(start.utc().AddDate(0, months, 0))
	return DateRange{Start: start, End: end}
}

func (r DateRange) Validate() error {
	if r.End.Before(r.Start) {
		return fmt.Errorf("%w: end %s is before start %s", ErrInvalidRange, r.End, r.Start)
	}
	return nil
}

// Days returns the number of dates in the range, or 0 if it is empty or invalid.
func (r DateRange) Days() int {
	n := r.Start.DaysUntil(r.End)
	if n < 0 {
		return 0
	}
	return n
}

func (r DateRange) IsEmpty() bool {
	return r.Days() == 0
}

func (r DateRange) Contains(d Date) bool {
	return !d.Before(r.Start) && d.Before(r.End)
}

// Last returns the final date in the range. It is only meaningful for
// non-empty ranges.
func (r DateRange) Last() Date {
	return r.End.AddDays(-1)
}

// Dates lists every date in the range in ascending order.
func (r DateRange) Dates() []Date {
	n := r.Days()
	out := make([]Date, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.Start.AddDays(i))
	}
	return out
}

// Set returns the range as a DateSet.
func (r DateRange) Set() DateSet {
	s := make(DateSet, r.Days())
	for _, d := range r.Dates() {
		s.Add(d)
	}
	return s
}

func (r DateRange) String() string {
	return "[" + r.Start.String() + ", " + r.End.String() + ")"
}

// DateSet is an unordered set of dates.
type DateSet map[Date]struct{}

func NewDateSet(dates ...Date) DateSet {
	s := make(DateSet, len(dates))
	for _, d := range dates {
		s.Add(d)
	}
	return s
}

func (s DateSet) Add(d Date) {
	s[d] = struct{}{}
}

func (s DateSet) Has(d Date) bool {
	_, ok := s[d]
	return ok
}

func (s DateSet) Len() int {
	return len(s)
}

// Sorted returns the dates in ascending order.
func (s DateSet) Sorted() []Date {
	out := make([]Date, 0, len(s))
	for d := range s {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (s DateSet) Clone() DateSet {
	out := make(DateSet, len(s))
	for d := range s {
		out[d] = struct{}{}
	}
	return out
}

func (s DateSet) Union(o DateSet) DateSet {
	out := s.Clone()
	for d := range o {
		out[d] = struct{}{}
	}
	return out
}

func (s DateSet) Intersect(o DateSet) DateSet {
	out := make(DateSet)
	for d := range s {
		if o.Has(d) {
			out[d] = struct{}{}
		}
	}
	return out
}

func (s DateSet) Difference(o DateSet) DateSet {
	out := make(DateSet)
	for d := range s {
		if !o.Has(d) {
			out[d] = struct{}{}
		}
	}
	return out
}

func (s DateSet) Equal(o DateSet) bool {
	if len(s) != len(o) {
		return false
	}
	for d := range s {
		if !o.Has(d) {
			return false
		}
	}
	return true
}
