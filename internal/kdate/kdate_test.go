package kdate

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetcal/internal/model"
)

var seoul = time.FixedZone("KST", 9*60*60)

func TestFormatGroupsByMonth(t *testing.T) {
	set := model.NewDateSet(
		model.D(2026, time.September, 4),
		model.D(2026, time.August, 2),
		model.D(2026, time.August, 1),
		model.D(2026, time.September, 3),
		model.D(2026, time.August, 5),
	)
	assert.Equal(t, "8월 1 2 5, 9월 3 4", Format(set))
}

func TestFormatOrdersAcrossYearBoundary(t *testing.T) {
	set := model.NewDateSet(model.D(2027, time.January, 5), model.D(2026, time.December, 30))
	assert.Equal(t, "12월 30, 1월 5", Format(set))
}

func TestFormatEmpty(t *testing.T) {
	assert.Equal(t, "", Format(model.NewDateSet()))
	assert.Equal(t, EmptyMessage, FormatHuman(model.NewDateSet()))
	assert.Equal(t, "10월 1", FormatHuman(model.NewDateSet(model.D(2026, 10, 1))))
}

func TestFormatPeriod(t *testing.T) {
	r := model.NextDays(model.D(2026, time.October, 19), 31)
	assert.Equal(t, "2026년 10월 19일 ~ 2026년 11월 18일", FormatPeriod(r))
	assert.Equal(t, "", FormatPeriod(model.DateRange{}))
}

func TestParseGrouped(t *testing.T) {
	ref := time.Date(2026, time.August, 10, 12, 0, 0, 0, seoul)
	got, err := Parse("  8월 28 29  30 ,9월 3 4 7 10 ", ref)
	require.NoError(t, err)

	want := model.NewDateSet(
		model.D(2026, 8, 28), model.D(2026, 8, 29), model.D(2026, 8, 30),
		model.D(2026, 9, 3), model.D(2026, 9, 4), model.D(2026, 9, 7), model.D(2026, 9, 10),
	)
	assert.True(t, want.Equal(got), "got %v", got.Sorted())
}

func TestParseRollsIntoNextYear(t *testing.T) {
	ref := time.Date(2026, time.November, 3, 9, 0, 0, 0, seoul)

	got, err := Parse("1월 5", ref)
	require.NoError(t, err)
	assert.True(t, got.Has(model.D(2027, time.January, 5)))

	got, err = Parse("11월 1", ref)
	require.NoError(t, err)
	assert.True(t, got.Has(model.D(2026, time.November, 1)), "reference month stays in the reference year")

	got, err = Parse("12월 31", ref)
	require.NoError(t, err)
	assert.True(t, got.Has(model.D(2026, time.December, 31)))
}

func TestParseAcceptsDaySuffixAndRepeatedMonths(t *testing.T) {
	ref := time.Date(2026, time.October, 1, 0, 0, 0, 0, seoul)
	got, err := Parse("10월 1일 2일, 10월 2 3", ref)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Len())
}

func TestParseBlankIsEmpty(t *testing.T) {
	got, err := Parse("   ", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())
}

func TestParseErrors(t *testing.T) {
	ref := time.Date(2026, time.October, 1, 0, 0, 0, 0, seoul)
	cases := []struct {
		name    string
		text    string
		segment string
	}{
		{"missing month prefix", "10월 1 2, 3 4", "3 4"},
		{"month out of range", "13월 1", "13월 1"},
		{"day out of range for 30-day month", "11월 31", "11월 31"},
		{"february in non-leap year", "2월 29", "2월 29"},
		{"non numeric day", "10월 1 x", "10월 1 x"},
		{"no days", "10월", "10월"},
		{"day zero", "10월 0", "10월 0"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.text, ref)
			require.ErrorIs(t, err, ErrInvalidDateText)

			var perr *ParseError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tc.segment, perr.Segment)
		})
	}
}

func TestParseLeapDayUsesInferredYear(t *testing.T) {
	// February 2028 is a leap month; reference in March 2027 rolls February forward.
	ref := time.Date(2027, time.March, 1, 0, 0, 0, 0, seoul)
	got, err := Parse("2월 29", ref)
	require.NoError(t, err)
	assert.True(t, got.Has(model.D(2028, time.February, 29)))
}

func TestFormatParseRoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	refs := []time.Time{
		time.Date(2026, time.January, 15, 0, 0, 0, 0, seoul),
		time.Date(2026, time.November, 30, 23, 0, 0, 0, seoul),
		time.Date(2027, time.March, 1, 0, 0, 0, 0, seoul),
	}

	for _, ref := range refs {
		windowStart := model.D(ref.Year(), ref.Month(), 1)
		window := model.NextMonths(windowStart, 12)

		for i := 0; i < 50; i++ {
			set := model.NewDateSet()
			n := rnd.Intn(40)
			for j := 0; j < n; j++ {
				set.Add(window.Start.AddDays(rnd.Intn(window.Days())))
			}

			got, err := Parse(Format(set), ref)
			require.NoError(t, err)
			require.True(t, set.Equal(got), "ref=%s set=%v got=%v", ref, set.Sorted(), got.Sorted())
		}
	}
}
