package domain

import "time"

// UnlockRule is an admin-authored policy unit. When a graded attempt
// matches the rule's criteria, the rule's action grants reward time.
type UnlockRule struct {
	ID          string `json:"id"`
	FamilyID    string `json:"familyId,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Whether the rule participates in evaluation
	IsActive bool `json:"isActive"`

	// Higher priority rules are evaluated and reported first
	Priority int `json:"priority"`

	// Criteria is the conjunctive predicate the attempt must satisfy.
	// A nil criteria (or one with no fields set) matches every context.
	Criteria *Criteria `json:"criteria"`

	// Action is what a triggered rule grants
	Action *Action `json:"action"`

	// Limits caps how often the rule may grant (nil = unlimited)
	Limits *Limits `json:"limits,omitempty"`

	// Stackable is defined on the model but not consulted during
	// aggregation: simultaneous triggers always sum.
	Stackable bool `json:"stackable"`

	// Validity window (nil bound = unbounded)
	ValidFrom *time.Time `json:"validFrom,omitempty"`
	ValidTo   *time.Time `json:"validTo,omitempty"`

	// AppliesTo restricts the rule to specific user ids (empty = all users)
	AppliesTo []string `json:"appliesTo,omitempty"`

	// Free-form authoring metadata (tags, category, notes)
	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Criteria is a conjunction of independently-optional predicates.
// Every field that is set must pass for the rule to trigger; an unset
// field trivially passes and is not reported as matched.
type Criteria struct {
	Subjects   []string `json:"subjects,omitempty"`
	YearLevels []int    `json:"yearLevels,omitempty"`

	// Score bounds, each in [0,100], inclusive on both ends
	MinScore *float64 `json:"minScore,omitempty"`
	MaxScore *float64 `json:"maxScore,omitempty"`

	TimeLimit *TimeLimit `json:"timeLimit,omitempty"`

	ExerciseTypes []string `json:"exerciseTypes,omitempty"`
	Difficulties  []string `json:"difficulties,omitempty"`

	// TimeOfDay matches the hour component of the completion timestamp
	// against an inclusive [StartHour, EndHour] range.
	TimeOfDay *HourRange `json:"timeOfDay,omitempty"`

	// DaysOfWeek holds lowercase weekday names ("monday", ...)
	DaysOfWeek []string `json:"daysOfWeek,omitempty"`

	Behavior *BehaviorCriteria `json:"behaviorModifiers,omitempty"`

	// CustomConditions is the generic field-path escape hatch. All
	// listed conditions must pass.
	CustomConditions []CustomCondition `json:"customConditions,omitempty"`
}

// TimeLimit constrains how long the attempt took.
type TimeLimit struct {
	// MaxSeconds fails the rule when the attempt took longer (0 = unset)
	MaxSeconds int `json:"maxSeconds,omitempty"`

	// BonusUnderSeconds is informational only: eligibility is recorded
	// in the diagnostics but missing it never fails the rule.
	BonusUnderSeconds int `json:"bonusUnderSeconds,omitempty"`
}

// HourRange is an inclusive range of hours in [0,23].
type HourRange struct {
	StartHour int `json:"startHour"`
	EndHour   int `json:"endHour"`
}

// BehaviorCriteria are thresholds derived from historical performance
// trends rather than the current attempt alone.
type BehaviorCriteria struct {
	// CompletionStreak passes when the current streak meets the threshold
	CompletionStreak *int `json:"completionStreak,omitempty"`

	// ImprovementRate is the percentage score change between the earliest
	// and latest entries of the recent performance history
	ImprovementRate *float64 `json:"improvementRate,omitempty"`

	// MistakeReduction compares the mistake rate of the first half of the
	// history against the second half
	MistakeReduction *float64 `json:"mistakeReduction,omitempty"`
}

// CustomCondition names a dotted field path into the evaluation context,
// an operator, and a comparison value.
type CustomCondition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// Supported custom-condition operators.
const (
	OpEquals      = "equals"
	OpGreaterThan = "greaterThan"
	OpLessThan    = "lessThan"
	OpContains    = "contains"
	OpBetween     = "between"
)

// Action is what a triggered rule grants.
type Action struct {
	UnlockMinutes int      `json:"unlockMinutes"`
	BonusMinutes  int      `json:"bonusMinutes,omitempty"`
	Message       string   `json:"message,omitempty"`
	Achievements  []string `json:"achievements,omitempty"`
	NotifyParent  bool     `json:"notifyParent,omitempty"`

	Restrictions *Restrictions `json:"restrictions,omitempty"`
}

// Restrictions scope how granted time may be spent.
type Restrictions struct {
	AllowedApps []string     `json:"allowedApps,omitempty"`
	BlockedApps []string     `json:"blockedApps,omitempty"`
	TimeWindows []TimeWindow `json:"timeWindows,omitempty"`
}

// TimeWindow is a daily wall-clock window with "HH:MM" bounds.
type TimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Limits governs per-rule usage: caps, cooldowns and approval gates.
// Nil pointer fields mean the corresponding cap is not set.
type Limits struct {
	MaxDaily        *int `json:"maxDaily,omitempty"`
	MaxWeekly       *int `json:"maxWeekly,omitempty"`
	CooldownMinutes *int `json:"cooldownMinutes,omitempty"`
	MaxTriggers     *int `json:"maxTriggers,omitempty"`

	// RequiresParentalApproval holds the grant until a parent approves
	RequiresParentalApproval bool `json:"requiresParentalApproval,omitempty"`
}
