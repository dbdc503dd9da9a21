package trend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func datesFromIntervals(intervals ...int) []time.Time {
	current := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	out := []time.Time{current}
	for _, days := range intervals {
		current = current.AddDate(0, 0, days)
		out = append(out, current)
	}
	return out
}

func TestAnalyzeNeedsTwoDates(t *testing.T) {
	_, ok := Analyze(nil, Thresholds{})
	assert.False(t, ok)

	_, ok = Analyze(datesFromIntervals(), Thresholds{})
	assert.False(t, ok)
}

func TestAnalyzeClassification(t *testing.T) {
	cases := []struct {
		name      string
		intervals []int
		want      Classification
	}{
		{"shortening", []int{30, 26, 21}, Shortening},
		{"lengthening", []int{25, 30, 35}, Lengthening},
		{"irregular jump", []int{28, 38, 29}, Irregular},
		{"stable", []int{28, 29, 28}, Stable},
		{"two intervals default stable", []int{28, 26}, Stable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snapshot, ok := Analyze(datesFromIntervals(tc.intervals...), Thresholds{})
			require.True(t, ok)
			assert.Equal(t, tc.want, snapshot.Classification)
			assert.Equal(t, tc.intervals, snapshot.Intervals)
		})
	}
}

func TestAnalyzeAverageInterval(t *testing.T) {
	snapshot, ok := Analyze(datesFromIntervals(28, 30), Thresholds{})
	require.True(t, ok)
	assert.InDelta(t, 29.0, snapshot.AverageInterval, 0.001)
}

func TestAnalyzeStabilityScore(t *testing.T) {
	// Window keeps the last six intervals, dropping the noisy early ones.
	snapshot, ok := Analyze(datesFromIntervals(10, 45, 28, 28, 28, 28, 28, 28), Thresholds{})
	require.True(t, ok)
	require.NotNil(t, snapshot.StabilityScore)
	assert.InDelta(t, 0.0, *snapshot.StabilityScore, 0.001)
}

func TestAnalyzeStabilityNeedsTwoIntervals(t *testing.T) {
	snapshot, ok := Analyze(datesFromIntervals(28), Thresholds{})
	require.True(t, ok)
	assert.Nil(t, snapshot.StabilityScore)
	assert.Equal(t, Stable, snapshot.Classification)
}

func TestAnalyzeUnorderedInput(t *testing.T) {
	dates := datesFromIntervals(30, 26, 21)
	// Shuffle the fixture; Analyze must not depend on input order.
	shuffled := []time.Time{dates[2], dates[0], dates[3], dates[1]}

	snapshot, ok := Analyze(shuffled, Thresholds{})
	require.True(t, ok)
	assert.Equal(t, Shortening, snapshot.Classification)
}
