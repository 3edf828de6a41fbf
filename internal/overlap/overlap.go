// Package overlap intersects a set of candidate dates with one user's
// aggregated availability.
package overlap

import (
	"meetcal/internal/kdate"
	"meetcal/internal/model"
)

// Result is the outcome of matching candidate dates against availability.
// MatchedDates, BlockedFromInput and OutOfRange partition the input.
type Result struct {
	InputDates       model.DateSet
	MatchedDates     model.DateSet
	BlockedFromInput model.DateSet
	// OutOfRange holds input dates outside the aggregation window. They
	// are neither available nor blocked.
	OutOfRange model.DateSet

	TotalInput      int
	TotalMatched    int
	MatchPercentage float64
}

// Match computes the overlap between input and the available dates of av.
func Match(input model.DateSet, av model.AggregatedAvailability) Result {
	r := Result{
		InputDates:       input.Clone(),
		MatchedDates:     model.NewDateSet(),
		BlockedFromInput: model.NewDateSet(),
		OutOfRange:       model.NewDateSet(),
		TotalInput:       input.Len(),
	}

	for d := range input {
		switch {
		case !av.Classified(d):
			r.OutOfRange.Add(d)
		case av.AvailableDates.Has(d):
			r.MatchedDates.Add(d)
		default:
			r.BlockedFromInput.Add(d)
		}
	}

	r.TotalMatched = r.MatchedDates.Len()
	if r.TotalInput > 0 {
		r.MatchPercentage = float64(r.TotalMatched) / float64(r.TotalInput)
	}
	return r
}

// ClassifiedRatio is the share of in-window input dates that are available.
func (r Result) ClassifiedRatio() float64 {
	n := r.MatchedDates.Len() + r.BlockedFromInput.Len()
	if n == 0 {
		return 0
	}
	return float64(r.MatchedDates.Len()) / float64(n)
}

func (r Result) MatchedText() string    { return kdate.Format(r.MatchedDates) }
func (r Result) BlockedText() string    { return kdate.Format(r.BlockedFromInput) }
func (r Result) OutOfRangeText() string { return kdate.Format(r.OutOfRange) }
