// Package trend classifies cycle interval patterns from period dates.
package trend

import (
	"math"
	"sort"
	"time"
)

type Classification string

const (
	Stable      Classification = "stable"
	Shortening  Classification = "shortening"
	Lengthening Classification = "lengthening"
	Irregular   Classification = "irregular"
)

// Thresholds tune the classification. Zero values fall back to the
// defaults (shift 3 days, irregular 7 days, stability window 6).
type Thresholds struct {
	ShiftDays       float64
	IrregularDays   float64
	StabilityWindow int
}

func (t Thresholds) withDefaults() Thresholds {
	if t.ShiftDays <= 0 {
		t.ShiftDays = 3
	}
	if t.IrregularDays <= 0 {
		t.IrregularDays = 7
	}
	if t.StabilityWindow <= 0 {
		t.StabilityWindow = 6
	}
	return t
}

type Snapshot struct {
	Classification  Classification `json:"classification"`
	Intervals       []int          `json:"intervals"`
	AverageInterval float64        `json:"average_interval"`
	// StabilityScore is the sample standard deviation of recent intervals.
	// Nil when fewer than two intervals exist.
	StabilityScore *float64 `json:"stability_score,omitempty"`
}

// Analyze derives a cycle snapshot from period start dates. It needs at
// least two dates; ok is false otherwise.
func Analyze(dates []time.Time, th Thresholds) (Snapshot, bool) {
	if len(dates) < 2 {
		return Snapshot{}, false
	}
	th = th.withDefaults()

	ordered := make([]time.Time, len(dates))
	for i, d := range dates {
		ordered[i] = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Before(ordered[j]) })

	intervals := make([]int, 0, len(ordered)-1)
	for i := 1; i < len(ordered); i++ {
		days := int(ordered[i].Sub(ordered[i-1]).Hours() / 24)
		if days <= 0 {
			continue
		}
		intervals = append(intervals, days)
	}
	if len(intervals) == 0 {
		return Snapshot{}, false
	}

	sum := 0
	for _, v := range intervals {
		sum += v
	}
	average := float64(sum) / float64(len(intervals))

	return Snapshot{
		Classification:  classify(intervals, th),
		Intervals:       intervals,
		AverageInterval: average,
		StabilityScore:  stability(intervals, th.StabilityWindow),
	}, true
}

// classify looks at the two deltas across the last three intervals. A
// consistent move beyond the shift threshold marks a direction; a single
// jump beyond the irregular threshold marks irregularity.
func classify(intervals []int, th Thresholds) Classification {
	if len(intervals) < 3 {
		return Stable
	}

	last := intervals[len(intervals)-3:]
	d1 := float64(last[1] - last[0])
	d2 := float64(last[2] - last[1])

	switch {
	case d1 < -th.ShiftDays && d2 < -th.ShiftDays:
		return Shortening
	case d1 > th.ShiftDays && d2 > th.ShiftDays:
		return Lengthening
	case math.Abs(d1) > th.IrregularDays || math.Abs(d2) > th.IrregularDays:
		return Irregular
	default:
		return Stable
	}
}

func stability(intervals []int, window int) *float64 {
	if len(intervals) < 2 {
		return nil
	}
	if len(intervals) > window {
		intervals = intervals[len(intervals)-window:]
	}

	sum := 0.0
	for _, v := range intervals {
		sum += float64(v)
	}
	mean := sum / float64(len(intervals))

	variance := 0.0
	for _, v := range intervals {
		diff := float64(v) - mean
		variance += diff * diff
	}
	variance /= float64(len(intervals) - 1)

	score := math.Sqrt(variance)
	return &score
}
