package rules

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/latchkey-dev/latchkey/internal/domain"
)

// HistoryGetter returns a user's recent performance entries since a
// point in time, newest-last not required.
type HistoryGetter func(ctx context.Context, familyID, userID string, since time.Time, limit int) ([]domain.PerformanceEntry, error)

// historyWindow bounds how far back behavior trends look.
const (
	historyWindow  = 30 * 24 * time.Hour
	historyEntries = 20
)

// Engine evaluates loaded unlock rules against graded attempts.
type Engine struct {
	mu            sync.RWMutex
	rules         map[string]*domain.UnlockRule
	historyGetter HistoryGetter

	// matchFn is swappable so tests can exercise fault isolation
	matchFn func(c *domain.Criteria, ectx *domain.EvaluationContext) *CriteriaReport
}

// NewEngine creates a rule evaluation engine. historyGetter may be nil,
// in which case behavior trends see only the history carried on the
// request.
func NewEngine(historyGetter HistoryGetter) *Engine {
	return &Engine{
		rules:         make(map[string]*domain.UnlockRule),
		historyGetter: historyGetter,
		matchFn:       MatchCriteria,
	}
}

// LoadRule validates and loads a rule into the engine.
func (e *Engine) LoadRule(rule *domain.UnlockRule) error {
	if result := ValidateRule(rule); !result.Valid {
		return fmt.Errorf("rule %s: %s", rule.ID, result.Errors[0].Message)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[rule.ID] = rule
	return nil
}

// LoadRules loads multiple rules, skipping inactive ones.
func (e *Engine) LoadRules(rules []*domain.UnlockRule) error {
	for _, rule := range rules {
		if rule.IsActive {
			if err := e.LoadRule(rule); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules replaces all loaded rules atomically. This enables
// hot-reloading of rules from the database.
func (e *Engine) ReloadRules(rules []*domain.UnlockRule) error {
	next := make(map[string]*domain.UnlockRule)
	for _, rule := range rules {
		if !rule.IsActive {
			continue
		}
		if result := ValidateRule(rule); !result.Valid {
			return fmt.Errorf("rule %s: %s", rule.ID, result.Errors[0].Message)
		}
		next[rule.ID] = rule
	}

	e.mu.Lock()
	e.rules = next
	e.mu.Unlock()
	return nil
}

// UnloadRule removes a rule from the engine.
func (e *Engine) UnloadRule(ruleID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.rules, ruleID)
}

// GetLoadedRules returns the currently loaded rules.
func (e *Engine) GetLoadedRules() []*domain.UnlockRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.UnlockRule, 0, len(e.rules))
	for _, rule := range e.rules {
		rules = append(rules, rule)
	}
	return rules
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = make(map[string]*domain.UnlockRule)
	return nil
}

// EvaluateAll evaluates every eligible rule against the request and
// returns one result per rule in descending priority order, alongside
// the rules themselves in matching order. A failure inside one rule
// produces a non-triggering result for that rule only.
func (e *Engine) EvaluateAll(ctx context.Context, familyID string, req *domain.UnlockEvaluationRequest) ([]domain.RuleEvaluationResult, []*domain.UnlockRule, error) {
	now := time.Now()

	eligible := Filter(e.GetLoadedRules(), familyID, req, now)
	if len(eligible) == 0 {
		return nil, nil, nil
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		return eligible[i].ID < eligible[j].ID
	})

	ectx := req.Context
	e.hydrateHistory(ctx, familyID, req.UserID, &ectx, eligible, now)

	results := make([]domain.RuleEvaluationResult, len(eligible))
	for i, rule := range eligible {
		results[i] = e.evaluateRule(rule, &ectx)
	}
	return results, eligible, nil
}

// hydrateHistory fetches recent performance from storage when a rule
// needs a trend and the request carried no history. Fetch errors leave
// the history empty rather than failing the evaluation.
func (e *Engine) hydrateHistory(ctx context.Context, familyID, userID string, ectx *domain.EvaluationContext, rules []*domain.UnlockRule, now time.Time) {
	if e.historyGetter == nil || len(ectx.RecentPerformance) > 0 {
		return
	}

	needed := false
	for _, rule := range rules {
		if rule.Criteria != nil && rule.Criteria.Behavior != nil {
			b := rule.Criteria.Behavior
			if b.ImprovementRate != nil || b.MistakeReduction != nil {
				needed = true
				break
			}
		}
	}
	if !needed {
		return
	}

	history, err := e.historyGetter(ctx, familyID, userID, now.Add(-historyWindow), historyEntries)
	if err == nil {
		ectx.RecentPerformance = history
	}
}

// evaluateRule evaluates one rule with fault isolation: a panic inside
// criteria matching degrades to a non-triggering result.
func (e *Engine) evaluateRule(rule *domain.UnlockRule, ectx *domain.EvaluationContext) (result domain.RuleEvaluationResult) {
	start := time.Now()
	result = domain.RuleEvaluationResult{
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		Priority:    rule.Priority,
		EvaluatedAt: start,
	}

	defer func() {
		if r := recover(); r != nil {
			result.Triggered = false
			result.Confidence = 0
			result.Reason = fmt.Sprintf("evaluation failed: %v", r)
			result.FailedCriteria = append(result.FailedCriteria, domain.FailedEvaluationToken)
			result.ProcessUs = time.Since(start).Microseconds()
		}
	}()

	report := e.matchFn(rule.Criteria, ectx)
	result.Confidence = report.Confidence()
	result.MatchedCriteria = report.Matched
	result.FailedCriteria = report.Failed

	if report.Passed {
		result.Triggered = true
		if rule.Action != nil {
			result.UnlockMinutes = rule.Action.UnlockMinutes
			result.BonusMinutes = rule.Action.BonusMinutes
			result.Message = rule.Action.Message
			result.Achievements = rule.Action.Achievements
			result.Restrictions = rule.Action.Restrictions
			result.NotifyParent = rule.Action.NotifyParent
		}
	} else {
		result.Reason = strings.Join(report.Failed, "; ")
	}

	result.ProcessUs = time.Since(start).Microseconds()
	return result
}
