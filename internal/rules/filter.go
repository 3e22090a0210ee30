package rules

import (
	"time"

	"github.com/latchkey-dev/latchkey/internal/domain"
)

// Filter returns the rules eligible for evaluation: active, inside
// their validity window at now, scoped to the requesting family (or
// global), applying to the user, and inside the request's explicit
// rule subset when one is given. Filtered-out rules are simply absent
// from the response.
func Filter(rules []*domain.UnlockRule, familyID string, req *domain.UnlockEvaluationRequest, now time.Time) []*domain.UnlockRule {
	var subset map[string]bool
	if len(req.RuleIDs) > 0 {
		subset = make(map[string]bool, len(req.RuleIDs))
		for _, id := range req.RuleIDs {
			subset[id] = true
		}
	}

	var eligible []*domain.UnlockRule
	for _, rule := range rules {
		if !rule.IsActive {
			continue
		}
		if rule.ValidFrom != nil && now.Before(*rule.ValidFrom) {
			continue
		}
		if rule.ValidTo != nil && now.After(*rule.ValidTo) {
			continue
		}
		if rule.FamilyID != "" && rule.FamilyID != domain.GlobalFamilyID && rule.FamilyID != familyID {
			continue
		}
		if len(rule.AppliesTo) > 0 && !containsString(rule.AppliesTo, req.UserID) {
			continue
		}
		if subset != nil && !subset[rule.ID] {
			continue
		}
		eligible = append(eligible, rule)
	}
	return eligible
}
