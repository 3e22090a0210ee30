package rules

import (
	"testing"
	"time"

	"github.com/latchkey-dev/latchkey/internal/domain"
)

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

// Wednesday 2025-03-12 16:30 UTC
var afternoon = time.Date(2025, 3, 12, 16, 30, 0, 0, time.UTC)

func baseContext() *domain.EvaluationContext {
	return &domain.EvaluationContext{
		UserID:       "child-001",
		Score:        95,
		Subject:      "math",
		YearLevel:    5,
		ExerciseType: "quiz",
		Difficulty:   "medium",
		TimeTaken:    240,
		CompletedAt:  afternoon,
		IsCorrect:    true,
	}
}

func TestEmptyCriteriaMatchesEverything(t *testing.T) {
	report := MatchCriteria(&domain.Criteria{}, baseContext())

	if !report.Passed {
		t.Fatalf("empty criteria should pass, failed: %v", report.Failed)
	}
	if len(report.Matched) != 0 {
		t.Errorf("unset criteria must not be recorded as matched, got %v", report.Matched)
	}
	if report.Confidence() != 1.0 {
		t.Errorf("expected confidence 1.0 with no criteria, got %.2f", report.Confidence())
	}
}

func TestNilCriteriaMatchesEverything(t *testing.T) {
	report := MatchCriteria(nil, baseContext())
	if !report.Passed {
		t.Fatal("nil criteria should pass")
	}
}

func TestMinScoreBoundaryInclusive(t *testing.T) {
	criteria := &domain.Criteria{MinScore: floatPtr(90)}

	ectx := baseContext()
	ectx.Score = 90
	if report := MatchCriteria(criteria, ectx); !report.Passed {
		t.Errorf("score exactly at minScore must pass: %v", report.Failed)
	}

	ectx.Score = 89.9
	if report := MatchCriteria(criteria, ectx); report.Passed {
		t.Error("score 89.9 must fail minScore 90")
	}
}

func TestMaxScoreBoundaryInclusive(t *testing.T) {
	criteria := &domain.Criteria{MaxScore: floatPtr(70)}

	ectx := baseContext()
	ectx.Score = 70
	if report := MatchCriteria(criteria, ectx); !report.Passed {
		t.Errorf("score exactly at maxScore must pass: %v", report.Failed)
	}

	ectx.Score = 70.1
	if report := MatchCriteria(criteria, ectx); report.Passed {
		t.Error("score 70.1 must fail maxScore 70")
	}
}

func TestSubjectMatch(t *testing.T) {
	criteria := &domain.Criteria{Subjects: []string{"math", "science"}}

	if report := MatchCriteria(criteria, baseContext()); !report.Passed {
		t.Errorf("math should match: %v", report.Failed)
	}

	ectx := baseContext()
	ectx.Subject = "history"
	report := MatchCriteria(criteria, ectx)
	if report.Passed {
		t.Error("history should not match [math science]")
	}
	if len(report.Failed) != 1 {
		t.Fatalf("expected 1 failed category, got %v", report.Failed)
	}
}

func TestTimeLimitBoundary(t *testing.T) {
	criteria := &domain.Criteria{TimeLimit: &domain.TimeLimit{MaxSeconds: 300}}

	tests := []struct {
		name      string
		timeTaken int
		pass      bool
	}{
		{"exactly at limit", 300, true},
		{"one over", 301, false},
		{"well under", 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ectx := baseContext()
			ectx.TimeTaken = tt.timeTaken
			report := MatchCriteria(criteria, ectx)
			if report.Passed != tt.pass {
				t.Errorf("timeTaken=%d: passed=%v, want %v", tt.timeTaken, report.Passed, tt.pass)
			}
		})
	}
}

func TestBonusThresholdNeverFails(t *testing.T) {
	criteria := &domain.Criteria{
		TimeLimit: &domain.TimeLimit{MaxSeconds: 600, BonusUnderSeconds: 120},
	}

	// Too slow for the bonus but inside the limit
	ectx := baseContext()
	ectx.TimeTaken = 500
	report := MatchCriteria(criteria, ectx)
	if !report.Passed {
		t.Fatalf("missing the bonus threshold must not fail the rule: %v", report.Failed)
	}
	for _, m := range report.Matched {
		if m == speedBonusToken {
			t.Error("speed bonus token recorded for a slow attempt")
		}
	}

	// Fast enough for the bonus
	ectx.TimeTaken = 90
	report = MatchCriteria(criteria, ectx)
	if !report.Passed {
		t.Fatalf("fast attempt should pass: %v", report.Failed)
	}
	found := false
	for _, m := range report.Matched {
		if m == speedBonusToken {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %s token in %v", speedBonusToken, report.Matched)
	}
}

func TestTimeOfDayInclusive(t *testing.T) {
	criteria := &domain.Criteria{TimeOfDay: &domain.HourRange{StartHour: 15, EndHour: 18}}

	tests := []struct {
		hour int
		pass bool
	}{
		{15, true},
		{18, true},
		{14, false},
		{19, false},
	}

	for _, tt := range tests {
		ectx := baseContext()
		ectx.CompletedAt = time.Date(2025, 3, 12, tt.hour, 0, 0, 0, time.UTC)
		report := MatchCriteria(criteria, ectx)
		if report.Passed != tt.pass {
			t.Errorf("hour %d: passed=%v, want %v", tt.hour, report.Passed, tt.pass)
		}
	}
}

func TestDayOfWeek(t *testing.T) {
	criteria := &domain.Criteria{DaysOfWeek: []string{"saturday", "sunday"}}

	// afternoon is a Wednesday
	if report := MatchCriteria(criteria, baseContext()); report.Passed {
		t.Error("wednesday should not match a weekend-only rule")
	}

	ectx := baseContext()
	ectx.CompletedAt = time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC) // Saturday
	if report := MatchCriteria(criteria, ectx); !report.Passed {
		t.Errorf("saturday should match: %v", report.Failed)
	}
}

func TestConfidenceRatio(t *testing.T) {
	criteria := &domain.Criteria{
		Subjects:  []string{"math"},
		MinScore:  floatPtr(90),
		TimeLimit: &domain.TimeLimit{MaxSeconds: 100},
	}

	// Subject and score match, time limit fails: 2 of 3
	report := MatchCriteria(criteria, baseContext())
	if report.Passed {
		t.Fatal("time limit should have failed")
	}
	if got := report.Confidence(); got < 0.66 || got > 0.67 {
		t.Errorf("expected confidence 2/3, got %.3f", got)
	}
}

func TestAllFailuresReported(t *testing.T) {
	criteria := &domain.Criteria{
		Subjects: []string{"science"},
		MinScore: floatPtr(99),
	}

	report := MatchCriteria(criteria, baseContext())
	if len(report.Failed) != 2 {
		t.Errorf("expected both failures reported, got %v", report.Failed)
	}
}
