package rules

import (
	"testing"
	"time"

	"github.com/latchkey-dev/latchkey/internal/domain"
)

func history(scores ...float64) []domain.PerformanceEntry {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := make([]domain.PerformanceEntry, len(scores))
	for i, s := range scores {
		entries[i] = domain.PerformanceEntry{
			Score:     s,
			Timestamp: base.Add(time.Duration(i) * 24 * time.Hour),
		}
	}
	return entries
}

func TestImprovementRate(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		want   float64
	}{
		{"fifty percent gain", []float64{50, 75}, 50.0},
		{"from zero with gain", []float64{0, 10}, 100.0},
		{"from zero to zero", []float64{0, 0}, 0.0},
		{"decline", []float64{80, 60}, -25.0},
		{"single entry", []float64{90}, 0.0},
		{"empty", nil, 0.0},
		{"middle ignored", []float64{50, 5, 100}, 100.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := improvementRate(history(tt.scores...))
			if got != tt.want {
				t.Errorf("improvementRate(%v) = %.2f, want %.2f", tt.scores, got, tt.want)
			}
		})
	}
}

func TestImprovementRateUnsortedInput(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []domain.PerformanceEntry{
		{Score: 75, Timestamp: base.Add(48 * time.Hour)},
		{Score: 50, Timestamp: base},
		{Score: 60, Timestamp: base.Add(24 * time.Hour)},
	}

	if got := improvementRate(entries); got != 50.0 {
		t.Errorf("expected chronological ordering before computing, got %.2f", got)
	}
}

func TestMistakeReduction(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		want   float64
	}{
		// First half [60 70] rate 0.35, second half [90 100] rate 0.05
		{"clear reduction", []float64{60, 70, 90, 100}, 0.30},
		// Odd length: ceil split puts three entries in the first half
		{"odd split", []float64{50, 50, 50, 100, 100}, 0.50},
		{"regression floors at zero", []float64{100, 100, 50, 50}, 0.0},
		{"single entry", []float64{40}, 0.0},
		{"empty", nil, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mistakeReduction(history(tt.scores...))
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("mistakeReduction(%v) = %.4f, want %.4f", tt.scores, got, tt.want)
			}
		})
	}
}

func TestCompletionStreak(t *testing.T) {
	criteria := &domain.Criteria{
		Behavior: &domain.BehaviorCriteria{CompletionStreak: intPtr(5)},
	}

	ectx := baseContext()
	ectx.CurrentStreak = 5
	if report := MatchCriteria(criteria, ectx); !report.Passed {
		t.Errorf("streak at threshold should pass: %v", report.Failed)
	}

	ectx.CurrentStreak = 4
	if report := MatchCriteria(criteria, ectx); report.Passed {
		t.Error("streak below threshold should fail")
	}
}

func TestBehaviorCriteriaCombined(t *testing.T) {
	criteria := &domain.Criteria{
		Behavior: &domain.BehaviorCriteria{
			CompletionStreak: intPtr(3),
			ImprovementRate:  floatPtr(20),
		},
	}

	ectx := baseContext()
	ectx.CurrentStreak = 4
	ectx.RecentPerformance = history(50, 75)
	if report := MatchCriteria(criteria, ectx); !report.Passed {
		t.Errorf("both behavior checks satisfied, should pass: %v", report.Failed)
	}

	// Improvement threshold missed
	ectx.RecentPerformance = history(70, 75)
	if report := MatchCriteria(criteria, ectx); report.Passed {
		t.Error("improvement 7.1%% should fail a 20%% threshold")
	}
}
