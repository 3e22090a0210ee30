// Package rules implements the unlock rule evaluation engine.
package rules

import (
	"fmt"
	"strings"

	"github.com/latchkey-dev/latchkey/internal/domain"
)

// CriteriaReport is the outcome of matching one rule's criteria against
// an evaluation context.
type CriteriaReport struct {
	Passed bool

	// Matched holds the category tokens that were set and satisfied
	Matched []string

	// Failed holds "category: detail" entries for set-but-unsatisfied
	// categories
	Failed []string

	// Category counts backing the confidence score. Informational
	// tokens (speed bonus) do not count toward either.
	CategoriesPresent int
	CategoriesMatched int
}

// Confidence returns matched/present clamped to [0,1]. A rule with no
// criteria set reports 1.0.
func (r *CriteriaReport) Confidence() float64 {
	if r.CategoriesPresent == 0 {
		return 1.0
	}
	c := float64(r.CategoriesMatched) / float64(r.CategoriesPresent)
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// criterionCheck is one category of the conjunctive criteria predicate.
// present reports whether the author set the category; check runs only
// when present and returns a failure detail when unsatisfied.
type criterionCheck struct {
	name    string
	present func(c *domain.Criteria) bool
	check   func(c *domain.Criteria, ectx *domain.EvaluationContext) (bool, string)
}

// criterionChecks is the fixed, ordered list of supported categories.
// Adding a criterion type means adding an entry here; nothing is
// discovered by reflection.
var criterionChecks = []criterionCheck{
	{
		name:    "subject",
		present: func(c *domain.Criteria) bool { return len(c.Subjects) > 0 },
		check: func(c *domain.Criteria, ectx *domain.EvaluationContext) (bool, string) {
			if containsString(c.Subjects, ectx.Subject) {
				return true, ""
			}
			return false, fmt.Sprintf("subject %q not in %v", ectx.Subject, c.Subjects)
		},
	},
	{
		name:    "yearLevel",
		present: func(c *domain.Criteria) bool { return len(c.YearLevels) > 0 },
		check: func(c *domain.Criteria, ectx *domain.EvaluationContext) (bool, string) {
			for _, y := range c.YearLevels {
				if y == ectx.YearLevel {
					return true, ""
				}
			}
			return false, fmt.Sprintf("year level %d not in %v", ectx.YearLevel, c.YearLevels)
		},
	},
	{
		name:    "minScore",
		present: func(c *domain.Criteria) bool { return c.MinScore != nil },
		check: func(c *domain.Criteria, ectx *domain.EvaluationContext) (bool, string) {
			if ectx.Score >= *c.MinScore {
				return true, ""
			}
			return false, fmt.Sprintf("score %.1f below minimum %.1f", ectx.Score, *c.MinScore)
		},
	},
	{
		name:    "maxScore",
		present: func(c *domain.Criteria) bool { return c.MaxScore != nil },
		check: func(c *domain.Criteria, ectx *domain.EvaluationContext) (bool, string) {
			if ectx.Score <= *c.MaxScore {
				return true, ""
			}
			return false, fmt.Sprintf("score %.1f above maximum %.1f", ectx.Score, *c.MaxScore)
		},
	},
	{
		name: "timeLimit",
		present: func(c *domain.Criteria) bool {
			return c.TimeLimit != nil && (c.TimeLimit.MaxSeconds > 0 || c.TimeLimit.BonusUnderSeconds > 0)
		},
		check: func(c *domain.Criteria, ectx *domain.EvaluationContext) (bool, string) {
			if c.TimeLimit.MaxSeconds > 0 && ectx.TimeTaken > c.TimeLimit.MaxSeconds {
				return false, fmt.Sprintf("took %ds, limit %ds", ectx.TimeTaken, c.TimeLimit.MaxSeconds)
			}
			return true, ""
		},
	},
	{
		name:    "exerciseType",
		present: func(c *domain.Criteria) bool { return len(c.ExerciseTypes) > 0 },
		check: func(c *domain.Criteria, ectx *domain.EvaluationContext) (bool, string) {
			if containsString(c.ExerciseTypes, ectx.ExerciseType) {
				return true, ""
			}
			return false, fmt.Sprintf("exercise type %q not in %v", ectx.ExerciseType, c.ExerciseTypes)
		},
	},
	{
		name:    "difficulty",
		present: func(c *domain.Criteria) bool { return len(c.Difficulties) > 0 },
		check: func(c *domain.Criteria, ectx *domain.EvaluationContext) (bool, string) {
			if containsString(c.Difficulties, ectx.Difficulty) {
				return true, ""
			}
			return false, fmt.Sprintf("difficulty %q not in %v", ectx.Difficulty, c.Difficulties)
		},
	},
	{
		name:    "timeOfDay",
		present: func(c *domain.Criteria) bool { return c.TimeOfDay != nil },
		check: func(c *domain.Criteria, ectx *domain.EvaluationContext) (bool, string) {
			hour := ectx.CompletedAt.Hour()
			if hour >= c.TimeOfDay.StartHour && hour <= c.TimeOfDay.EndHour {
				return true, ""
			}
			return false, fmt.Sprintf("hour %d outside [%d,%d]", hour, c.TimeOfDay.StartHour, c.TimeOfDay.EndHour)
		},
	},
	{
		name:    "dayOfWeek",
		present: func(c *domain.Criteria) bool { return len(c.DaysOfWeek) > 0 },
		check: func(c *domain.Criteria, ectx *domain.EvaluationContext) (bool, string) {
			day := strings.ToLower(ectx.CompletedAt.Weekday().String())
			for _, d := range c.DaysOfWeek {
				if strings.EqualFold(d, day) {
					return true, ""
				}
			}
			return false, fmt.Sprintf("%s not in %v", day, c.DaysOfWeek)
		},
	},
	{
		name: "behavior",
		present: func(c *domain.Criteria) bool {
			b := c.Behavior
			return b != nil && (b.CompletionStreak != nil || b.ImprovementRate != nil || b.MistakeReduction != nil)
		},
		check:   checkBehavior,
	},
	{
		name:    "customConditions",
		present: func(c *domain.Criteria) bool { return len(c.CustomConditions) > 0 },
		check:   checkCustomConditions,
	},
}

// speedBonusToken marks speed-bonus eligibility in the matched list. It
// is informational: it never gates triggering and never counts toward
// the confidence ratio.
const speedBonusToken = "speedBonus"

// MatchCriteria evaluates every set category of the rule's criteria
// against the context. All set categories must pass for the rule to
// trigger; every category is evaluated even after a failure so the
// report lists all failures and the confidence ratio stays meaningful.
func MatchCriteria(c *domain.Criteria, ectx *domain.EvaluationContext) *CriteriaReport {
	report := &CriteriaReport{Passed: true}
	if c == nil {
		return report
	}

	for _, crit := range criterionChecks {
		if !crit.present(c) {
			continue
		}
		report.CategoriesPresent++

		ok, detail := crit.check(c, ectx)
		if ok {
			report.CategoriesMatched++
			report.Matched = append(report.Matched, crit.name)
		} else {
			report.Passed = false
			report.Failed = append(report.Failed, fmt.Sprintf("%s: %s", crit.name, detail))
		}
	}

	if report.Passed && c.TimeLimit != nil && c.TimeLimit.BonusUnderSeconds > 0 &&
		ectx.TimeTaken <= c.TimeLimit.BonusUnderSeconds {
		report.Matched = append(report.Matched, speedBonusToken)
	}

	return report
}

func checkBehavior(c *domain.Criteria, ectx *domain.EvaluationContext) (bool, string) {
	b := c.Behavior

	if b.CompletionStreak != nil && ectx.CurrentStreak < *b.CompletionStreak {
		return false, fmt.Sprintf("streak %d below %d", ectx.CurrentStreak, *b.CompletionStreak)
	}

	if b.ImprovementRate != nil {
		rate := improvementRate(ectx.RecentPerformance)
		if rate < *b.ImprovementRate {
			return false, fmt.Sprintf("improvement %.1f%% below %.1f%%", rate, *b.ImprovementRate)
		}
	}

	if b.MistakeReduction != nil {
		reduction := mistakeReduction(ectx.RecentPerformance)
		if reduction < *b.MistakeReduction {
			return false, fmt.Sprintf("mistake reduction %.3f below %.3f", reduction, *b.MistakeReduction)
		}
	}

	return true, ""
}

func checkCustomConditions(c *domain.Criteria, ectx *domain.EvaluationContext) (bool, string) {
	tree := ectx.FieldTree()
	for _, cond := range c.CustomConditions {
		ok, err := evalCondition(tree, cond)
		if err != nil {
			return false, fmt.Sprintf("condition %q %s: %v", cond.Field, cond.Operator, err)
		}
		if !ok {
			return false, fmt.Sprintf("condition %q %s %v not satisfied", cond.Field, cond.Operator, cond.Value)
		}
	}
	return true, ""
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}
