// Package limits enforces per-rule usage caps against the usage ledger.
package limits

import (
	"context"
	"fmt"
	"time"

	"github.com/latchkey-dev/latchkey/internal/domain"
)

// Enforcer applies each rule's Limits block to its usage history.
type Enforcer struct {
	ledger domain.UsageLedger
}

// New creates an enforcer. A nil ledger yields a pass-through enforcer
// that never blocks and never records.
func New(ledger domain.UsageLedger) *Enforcer {
	return &Enforcer{ledger: ledger}
}

// Enforce demotes triggered results whose rule exceeds its caps, is in
// cooldown, or awaits parental approval. It issues a single batched
// usage query for all limited rules. The results slice is mutated in
// place; the return value is the number of rules blocked. A ledger
// failure is an evaluation failure, not a silent grant.
func (e *Enforcer) Enforce(ctx context.Context, familyID, userID string, results []domain.RuleEvaluationResult, rulesByID map[string]*domain.UnlockRule, now time.Time) (int, error) {
	if e.ledger == nil {
		return 0, nil
	}

	var limitedIDs []string
	for i := range results {
		if !results[i].Triggered {
			continue
		}
		rule := rulesByID[results[i].RuleID]
		if rule != nil && rule.Limits != nil {
			limitedIDs = append(limitedIDs, rule.ID)
		}
	}
	if len(limitedIDs) == 0 {
		return 0, nil
	}

	usage, err := e.ledger.GetUsage(ctx, familyID, userID, limitedIDs)
	if err != nil {
		return 0, fmt.Errorf("usage lookup: %w", err)
	}

	blocked := 0
	for i := range results {
		if !results[i].Triggered {
			continue
		}
		rule := rulesByID[results[i].RuleID]
		if rule == nil || rule.Limits == nil {
			continue
		}

		if reason := checkLimits(rule.Limits, usage[rule.ID], now); reason != "" {
			results[i].Triggered = false
			results[i].Reason = reason
			results[i].UnlockMinutes = 0
			results[i].BonusMinutes = 0
			blocked++
		}
	}
	return blocked, nil
}

// checkLimits returns a block reason, or empty when the rule may grant.
func checkLimits(l *domain.Limits, u domain.RuleUsage, now time.Time) string {
	if l.MaxDaily != nil && u.DailyCount >= *l.MaxDaily {
		return fmt.Sprintf("daily limit reached (%d of %d)", u.DailyCount, *l.MaxDaily)
	}
	if l.MaxWeekly != nil && u.WeeklyCount >= *l.MaxWeekly {
		return fmt.Sprintf("weekly limit reached (%d of %d)", u.WeeklyCount, *l.MaxWeekly)
	}
	if l.CooldownMinutes != nil && !u.LastGrantAt.IsZero() {
		cooldown := time.Duration(*l.CooldownMinutes) * time.Minute
		if elapsed := now.Sub(u.LastGrantAt); elapsed < cooldown {
			return fmt.Sprintf("in cooldown for another %s", (cooldown - elapsed).Round(time.Second))
		}
	}
	if l.MaxTriggers != nil && u.TotalCount >= *l.MaxTriggers {
		return fmt.Sprintf("lifetime trigger limit reached (%d)", *l.MaxTriggers)
	}
	if l.RequiresParentalApproval && !u.HasApproval {
		return "awaiting parental approval"
	}
	return ""
}

// RecordGrants writes one ledger entry per surviving triggered result.
// Recording failures are returned so callers can log them; the grant
// itself has already been decided.
func (e *Enforcer) RecordGrants(ctx context.Context, familyID, userID string, results []domain.RuleEvaluationResult) error {
	if e.ledger == nil {
		return nil
	}
	for _, res := range results {
		if !res.Triggered {
			continue
		}
		minutes := res.UnlockMinutes + res.BonusMinutes
		if err := e.ledger.RecordGrant(ctx, familyID, userID, res.RuleID, minutes); err != nil {
			return fmt.Errorf("record grant for rule %s: %w", res.RuleID, err)
		}
	}
	return nil
}
