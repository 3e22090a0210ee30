package domain

import "time"

// RuleEvaluationResult is the per-rule outcome of an evaluation.
type RuleEvaluationResult struct {
	RuleID   string `json:"ruleId"`
	RuleName string `json:"ruleName,omitempty"`
	Priority int    `json:"priority"`

	Triggered bool `json:"triggered"`

	// Reason explains why the rule did not trigger
	Reason string `json:"reason,omitempty"`

	// Confidence is the diagnostic matched/specified criteria ratio in
	// [0,1]. It never influences whether the rule triggered.
	Confidence float64 `json:"confidence"`

	// Granted action, echoed from the rule when triggered
	UnlockMinutes int           `json:"unlockMinutes,omitempty"`
	BonusMinutes  int           `json:"bonusMinutes,omitempty"`
	Message       string        `json:"message,omitempty"`
	Achievements  []string      `json:"achievements,omitempty"`
	Restrictions  *Restrictions `json:"restrictions,omitempty"`
	NotifyParent  bool          `json:"notifyParent,omitempty"`

	// Diagnostics
	MatchedCriteria []string  `json:"matchedCriteria,omitempty"`
	FailedCriteria  []string  `json:"failedCriteria,omitempty"`
	EvaluatedAt     time.Time `json:"evaluatedAt"`
	ProcessUs       int64     `json:"processUs"`
}

// FailedEvaluationToken marks results whose criteria evaluation itself
// failed rather than merely not matching.
const FailedEvaluationToken = "evaluation-error"

// ParentNotification is one message queued for delivery to a parent.
type ParentNotification struct {
	RuleID    string    `json:"ruleId"`
	UserID    string    `json:"userId"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// CombinedRestrictions merges the restrictions of all granted rules.
type CombinedRestrictions struct {
	AllowedApps []string     `json:"allowedApps,omitempty"`
	BlockedApps []string     `json:"blockedApps,omitempty"`
	TimeWindows []TimeWindow `json:"timeWindows,omitempty"`

	EffectiveUntil time.Time `json:"effectiveUntil"`
}

// EvaluationSummary is the statistics block of a response.
type EvaluationSummary struct {
	RulesEvaluated int `json:"rulesEvaluated"`
	RulesTriggered int `json:"rulesTriggered"`
	RulesBlocked   int `json:"rulesBlocked"`

	// HighestPriorityRule is the id of the highest-priority rule that
	// triggered and survived limit enforcement (empty if none)
	HighestPriorityRule string `json:"highestPriorityRule,omitempty"`

	// EvaluationUs is the wall-clock duration of the whole request
	EvaluationUs int64 `json:"evaluationUs"`

	// NextEligibleAt is a fixed 60s re-evaluation throttle hint
	NextEligibleAt time.Time `json:"nextEligibleAt"`
}

// UnlockEvaluationResponse is the aggregate outcome for one attempt.
type UnlockEvaluationResponse struct {
	EvaluationID string `json:"evaluationId"`
	UserID       string `json:"userId"`

	TotalUnlockMinutes int `json:"totalUnlockMinutes"`
	TotalBonusMinutes  int `json:"totalBonusMinutes,omitempty"`

	// RuleResults lists every evaluated rule in priority order
	RuleResults []RuleEvaluationResult `json:"ruleResults"`

	Message      string                `json:"message"`
	Achievements []string              `json:"achievements,omitempty"`
	Restrictions *CombinedRestrictions `json:"restrictions,omitempty"`

	ParentNotifications []ParentNotification `json:"parentNotifications,omitempty"`

	Summary EvaluationSummary `json:"summary"`

	Timestamp time.Time `json:"timestamp"`
}

// TriggeredRules returns the results that triggered and survived limit
// enforcement, preserving priority order.
func (r *UnlockEvaluationResponse) TriggeredRules() []RuleEvaluationResult {
	var triggered []RuleEvaluationResult
	for _, res := range r.RuleResults {
		if res.Triggered {
			triggered = append(triggered, res)
		}
	}
	return triggered
}

// EvaluationRecord wraps a persisted response.
type EvaluationRecord struct {
	ID        string                   `json:"id"`
	FamilyID  string                   `json:"familyId"`
	UserID    string                   `json:"userId"`
	AttemptID string                   `json:"attemptId,omitempty"`
	Response  UnlockEvaluationResponse `json:"response"`
	CreatedAt time.Time                `json:"createdAt"`
}
