// Package aggregate folds per-rule results into one unlock decision.
package aggregate

import (
	"fmt"
	"strings"
	"time"

	"github.com/latchkey-dev/latchkey/internal/domain"
)

// Fallback messages used when no triggered rule carries its own.
const (
	grantedMessageFormat = "Great work! You earned %d minutes of screen time."
	noGrantMessage       = "Keep practicing! Complete more exercises to earn screen time."
)

// restrictionTTL is how long merged restrictions stay in force.
const restrictionTTL = 24 * time.Hour

// nextEligibleDelay is the fixed re-evaluation throttle hint.
const nextEligibleDelay = 60 * time.Second

// Input is everything the aggregator needs to build a response.
type Input struct {
	EvaluationID string
	UserID       string

	// Results in descending priority order, limits already enforced
	Results []domain.RuleEvaluationResult

	// Blocked is the number of rules demoted by limit enforcement
	Blocked int

	// StartTime is when the evaluation request began
	StartTime time.Time
}

// Aggregator combines rule results. It is stateless.
type Aggregator struct{}

// New creates an aggregator.
func New() *Aggregator {
	return &Aggregator{}
}

// Combine sums the grants of every triggered rule and assembles the
// response. Triggered rules always stack.
func (a *Aggregator) Combine(in Input) *domain.UnlockEvaluationResponse {
	now := time.Now()

	resp := &domain.UnlockEvaluationResponse{
		EvaluationID: in.EvaluationID,
		UserID:       in.UserID,
		RuleResults:  in.Results,
		Timestamp:    now,
	}

	var (
		messages      []string
		seenAchieve   = map[string]bool{}
		restricted    []*domain.Restrictions
		notifications []domain.ParentNotification
		triggered     int
		highestRule   string
	)

	for _, res := range in.Results {
		if !res.Triggered {
			continue
		}
		triggered++
		if highestRule == "" {
			highestRule = res.RuleID
		}

		resp.TotalUnlockMinutes += res.UnlockMinutes
		resp.TotalBonusMinutes += res.BonusMinutes

		if res.Message != "" {
			messages = append(messages, res.Message)
		}

		// Union in first-appearance order across rules
		for _, ach := range res.Achievements {
			if !seenAchieve[ach] {
				seenAchieve[ach] = true
				resp.Achievements = append(resp.Achievements, ach)
			}
		}

		if res.Restrictions != nil {
			restricted = append(restricted, res.Restrictions)
		}

		if res.NotifyParent && res.Message != "" {
			notifications = append(notifications, domain.ParentNotification{
				RuleID:    res.RuleID,
				UserID:    in.UserID,
				Message:   res.Message,
				CreatedAt: now,
			})
		}
	}

	switch {
	case len(messages) > 0:
		resp.Message = strings.Join(messages, " ")
	case resp.TotalUnlockMinutes+resp.TotalBonusMinutes > 0:
		resp.Message = fmt.Sprintf(grantedMessageFormat, resp.TotalUnlockMinutes+resp.TotalBonusMinutes)
	default:
		resp.Message = noGrantMessage
	}

	resp.ParentNotifications = notifications
	resp.Restrictions = mergeRestrictions(restricted, now)
	resp.Summary = domain.EvaluationSummary{
		RulesEvaluated:      len(in.Results),
		RulesTriggered:      triggered,
		RulesBlocked:        in.Blocked,
		HighestPriorityRule: highestRule,
		EvaluationUs:        now.Sub(in.StartTime).Microseconds(),
		NextEligibleAt:      now.Add(nextEligibleDelay),
	}

	return resp
}

// mergeRestrictions unions the app lists and appends every time window.
func mergeRestrictions(all []*domain.Restrictions, now time.Time) *domain.CombinedRestrictions {
	if len(all) == 0 {
		return nil
	}

	merged := &domain.CombinedRestrictions{
		EffectiveUntil: now.Add(restrictionTTL),
	}
	seenAllowed := map[string]bool{}
	seenBlocked := map[string]bool{}

	for _, r := range all {
		for _, app := range r.AllowedApps {
			if !seenAllowed[app] {
				seenAllowed[app] = true
				merged.AllowedApps = append(merged.AllowedApps, app)
			}
		}
		for _, app := range r.BlockedApps {
			if !seenBlocked[app] {
				seenBlocked[app] = true
				merged.BlockedApps = append(merged.BlockedApps, app)
			}
		}
		merged.TimeWindows = append(merged.TimeWindows, r.TimeWindows...)
	}
	return merged
}
