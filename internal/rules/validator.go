package rules

import (
	"fmt"
	"strings"

	"github.com/latchkey-dev/latchkey/internal/domain"
)

// ValidationIssue is one problem found in an authored rule.
type ValidationIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult reports whether a rule is safe to save. Errors block
// saving; warnings flag suspicious-but-legal authoring.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

func (r *ValidationResult) addError(field, format string, args ...any) {
	r.Errors = append(r.Errors, ValidationIssue{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (r *ValidationResult) addWarning(field, format string, args ...any) {
	r.Warnings = append(r.Warnings, ValidationIssue{Field: field, Message: fmt.Sprintf(format, args...)})
}

var validDays = map[string]bool{
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
	"friday": true, "saturday": true, "sunday": true,
}

var validOperators = map[string]bool{
	domain.OpEquals:      true,
	domain.OpGreaterThan: true,
	domain.OpLessThan:    true,
	domain.OpContains:    true,
	domain.OpBetween:     true,
}

// ValidateRule checks an authored rule before it is saved. It never
// mutates the rule.
func ValidateRule(rule *domain.UnlockRule) *ValidationResult {
	result := &ValidationResult{}

	if rule == nil {
		result.addError("rule", "rule is required")
		return result
	}
	if strings.TrimSpace(rule.Name) == "" {
		result.addError("name", "name is required")
	}
	if rule.Criteria == nil {
		result.addError("criteria", "criteria block is required")
	} else {
		validateCriteria(rule.Criteria, result)
	}
	if rule.Action == nil {
		result.addError("action", "action block is required")
	} else {
		validateAction(rule.Action, result)
	}
	if rule.Limits != nil {
		validateLimits(rule.Limits, result)
	}
	if rule.ValidFrom != nil && rule.ValidTo != nil && rule.ValidTo.Before(*rule.ValidFrom) {
		result.addError("validTo", "validity window ends before it starts")
	}

	result.Valid = len(result.Errors) == 0
	return result
}

func validateCriteria(c *domain.Criteria, result *ValidationResult) {
	if len(c.Subjects) == 0 {
		result.addError("criteria.subjects", "at least one subject is required")
	}
	for i, s := range c.Subjects {
		if strings.TrimSpace(s) == "" {
			result.addError("criteria.subjects", "subject at index %d is blank", i)
		}
	}

	if c.MinScore != nil && (*c.MinScore < 0 || *c.MinScore > 100) {
		result.addError("criteria.minScore", "minScore %.1f outside [0,100]", *c.MinScore)
	}
	if c.MaxScore != nil && (*c.MaxScore < 0 || *c.MaxScore > 100) {
		result.addError("criteria.maxScore", "maxScore %.1f outside [0,100]", *c.MaxScore)
	}
	if c.MinScore != nil && c.MaxScore != nil && *c.MinScore > *c.MaxScore {
		result.addError("criteria.minScore", "minScore %.1f exceeds maxScore %.1f", *c.MinScore, *c.MaxScore)
	}

	if c.TimeLimit != nil {
		if c.TimeLimit.MaxSeconds < 0 {
			result.addError("criteria.timeLimit.maxSeconds", "maxSeconds must not be negative")
		}
		if c.TimeLimit.BonusUnderSeconds < 0 {
			result.addError("criteria.timeLimit.bonusUnderSeconds", "bonusUnderSeconds must not be negative")
		}
		if c.TimeLimit.MaxSeconds > 0 && c.TimeLimit.BonusUnderSeconds > c.TimeLimit.MaxSeconds {
			result.addWarning("criteria.timeLimit.bonusUnderSeconds",
				"bonus threshold %ds exceeds the %ds limit and can never apply alone",
				c.TimeLimit.BonusUnderSeconds, c.TimeLimit.MaxSeconds)
		}
	}

	if c.TimeOfDay != nil {
		if c.TimeOfDay.StartHour < 0 || c.TimeOfDay.StartHour > 23 {
			result.addError("criteria.timeOfDay.startHour", "startHour %d outside [0,23]", c.TimeOfDay.StartHour)
		}
		if c.TimeOfDay.EndHour < 0 || c.TimeOfDay.EndHour > 23 {
			result.addError("criteria.timeOfDay.endHour", "endHour %d outside [0,23]", c.TimeOfDay.EndHour)
		}
		if c.TimeOfDay.StartHour > c.TimeOfDay.EndHour {
			result.addError("criteria.timeOfDay", "startHour %d after endHour %d", c.TimeOfDay.StartHour, c.TimeOfDay.EndHour)
		}
	}

	for _, d := range c.DaysOfWeek {
		if !validDays[strings.ToLower(d)] {
			result.addError("criteria.daysOfWeek", "unknown day %q", d)
		}
	}

	for i, cond := range c.CustomConditions {
		field := fmt.Sprintf("criteria.customConditions[%d]", i)
		if strings.TrimSpace(cond.Field) == "" {
			result.addError(field, "condition field path is required")
		}
		if !validOperators[cond.Operator] {
			result.addError(field, "unsupported operator %q", cond.Operator)
		}
		if cond.Operator == domain.OpBetween {
			if bounds, ok := cond.Value.([]any); !ok || len(bounds) != 2 {
				result.addError(field, "between requires a two-element bounds array")
			}
		}
	}
}

func validateAction(a *domain.Action, result *ValidationResult) {
	if a.UnlockMinutes < 0 {
		result.addError("action.unlockMinutes", "unlockMinutes must not be negative")
	}
	if a.BonusMinutes < 0 {
		result.addError("action.bonusMinutes", "bonusMinutes must not be negative")
	}
	if a.UnlockMinutes > 480 {
		result.addWarning("action.unlockMinutes", "%d minutes exceeds 8 hours per grant", a.UnlockMinutes)
	}
}

func validateLimits(l *domain.Limits, result *ValidationResult) {
	if l.MaxDaily != nil && *l.MaxDaily < 0 {
		result.addError("limits.maxDaily", "maxDaily must not be negative")
	}
	if l.MaxWeekly != nil && *l.MaxWeekly < 0 {
		result.addError("limits.maxWeekly", "maxWeekly must not be negative")
	}
	if l.CooldownMinutes != nil && *l.CooldownMinutes < 0 {
		result.addError("limits.cooldownMinutes", "cooldownMinutes must not be negative")
	}
	if l.MaxTriggers != nil && *l.MaxTriggers < 0 {
		result.addError("limits.maxTriggers", "maxTriggers must not be negative")
	}
	if l.MaxDaily != nil && l.MaxWeekly != nil && *l.MaxDaily*7 > *l.MaxWeekly {
		result.addWarning("limits.maxDaily", "daily cap %d allows up to %d grants per week, above the weekly cap %d", *l.MaxDaily, *l.MaxDaily*7, *l.MaxWeekly)
	}
}
