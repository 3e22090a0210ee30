package rules

import (
	"sort"

	"github.com/latchkey-dev/latchkey/internal/domain"
)

// improvementRate is the percentage score change between the earliest
// and latest entries of the history. Fewer than two entries yields 0.
// A zero earliest score yields 100 when the latest is positive, else 0.
func improvementRate(history []domain.PerformanceEntry) float64 {
	if len(history) < 2 {
		return 0
	}

	sorted := sortChronological(history)
	earliest := sorted[0].Score
	latest := sorted[len(sorted)-1].Score

	if earliest == 0 {
		if latest > 0 {
			return 100
		}
		return 0
	}

	return (latest - earliest) / earliest * 100
}

// mistakeReduction compares the mistake rate of the first half of the
// history against the second half. The split point is the ceiling of
// n/2 so an odd-length history weights the first half heavier. The
// mistake rate of a window is 1 minus its average score over 100;
// the reduction is floored at zero.
func mistakeReduction(history []domain.PerformanceEntry) float64 {
	if len(history) < 2 {
		return 0
	}

	sorted := sortChronological(history)
	mid := (len(sorted) + 1) / 2

	first := mistakeRate(sorted[:mid])
	second := mistakeRate(sorted[mid:])

	reduction := first - second
	if reduction < 0 {
		return 0
	}
	return reduction
}

func mistakeRate(window []domain.PerformanceEntry) float64 {
	if len(window) == 0 {
		return 0
	}
	var sum float64
	for _, e := range window {
		sum += e.Score
	}
	return 1 - (sum/float64(len(window)))/100
}

// sortChronological returns a copy ordered oldest first. Callers pass
// history in arbitrary order.
func sortChronological(history []domain.PerformanceEntry) []domain.PerformanceEntry {
	sorted := make([]domain.PerformanceEntry, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return sorted
}
