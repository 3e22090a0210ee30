package rules

import (
	"context"
	"testing"
	"time"

	"github.com/latchkey-dev/latchkey/internal/domain"
)

func mathRule(id string, priority int, minutes int) *domain.UnlockRule {
	return &domain.UnlockRule{
		ID:       id,
		Name:     "Math rule " + id,
		IsActive: true,
		Priority: priority,
		Criteria: &domain.Criteria{
			Subjects: []string{"math"},
			MinScore: floatPtr(90),
		},
		Action: &domain.Action{UnlockMinutes: minutes},
	}
}

func evalRequest() *domain.UnlockEvaluationRequest {
	return &domain.UnlockEvaluationRequest{
		UserID:  "child-001",
		Context: *baseContext(),
	}
}

func TestEngineLoadAndCount(t *testing.T) {
	engine := NewEngine(nil)
	defer engine.Close()

	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}

	if err := engine.LoadRule(mathRule("r1", 1, 30)); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}
	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 rule, got %d", engine.RulesCount())
	}
}

func TestEngineRejectsInvalidRule(t *testing.T) {
	engine := NewEngine(nil)
	defer engine.Close()

	rule := mathRule("bad", 1, 30)
	rule.Action = nil
	if err := engine.LoadRule(rule); err == nil {
		t.Error("expected error loading a rule without an action")
	}
}

func TestEngineSkipsInactiveRules(t *testing.T) {
	engine := NewEngine(nil)
	defer engine.Close()

	inactive := mathRule("r1", 1, 30)
	inactive.IsActive = false
	if err := engine.LoadRules([]*domain.UnlockRule{inactive, mathRule("r2", 1, 15)}); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if engine.RulesCount() != 1 {
		t.Errorf("expected only the active rule loaded, got %d", engine.RulesCount())
	}
}

func TestEngineReloadReplacesRules(t *testing.T) {
	engine := NewEngine(nil)
	defer engine.Close()

	engine.LoadRule(mathRule("r1", 1, 30))
	engine.LoadRule(mathRule("r2", 1, 15))

	if err := engine.ReloadRules([]*domain.UnlockRule{mathRule("r3", 1, 10)}); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 rule after reload, got %d", engine.RulesCount())
	}
}

func TestEvaluateAllTriggersMatchingRule(t *testing.T) {
	engine := NewEngine(nil)
	defer engine.Close()
	engine.LoadRule(mathRule("r1", 1, 30))

	results, _, err := engine.EvaluateAll(context.Background(), "fam-1", evalRequest())
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !results[0].Triggered {
		t.Errorf("score 95 should trigger a minScore 90 rule: %s", results[0].Reason)
	}
	if results[0].UnlockMinutes != 30 {
		t.Errorf("expected 30 minutes, got %d", results[0].UnlockMinutes)
	}
}

func TestEvaluateAllPriorityOrder(t *testing.T) {
	engine := NewEngine(nil)
	defer engine.Close()
	engine.LoadRule(mathRule("low", 5, 10))
	engine.LoadRule(mathRule("high", 10, 20))

	results, _, err := engine.EvaluateAll(context.Background(), "fam-1", evalRequest())
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].RuleID != "high" || results[1].RuleID != "low" {
		t.Errorf("expected [high low], got [%s %s]", results[0].RuleID, results[1].RuleID)
	}
	// Priority orders reporting only; both rules are still evaluated
	if !results[0].Triggered || !results[1].Triggered {
		t.Error("both rules should trigger regardless of priority")
	}
}

func TestEvaluateAllFiltersScope(t *testing.T) {
	engine := NewEngine(nil)
	defer engine.Close()

	otherFamily := mathRule("other", 1, 30)
	otherFamily.FamilyID = "fam-2"
	engine.LoadRule(otherFamily)

	otherUser := mathRule("scoped", 1, 30)
	otherUser.AppliesTo = []string{"child-999"}
	engine.LoadRule(otherUser)

	expired := mathRule("expired", 1, 30)
	past := time.Now().Add(-time.Hour)
	expired.ValidTo = &past
	engine.LoadRule(expired)

	engine.LoadRule(mathRule("mine", 1, 30))

	results, _, err := engine.EvaluateAll(context.Background(), "fam-1", evalRequest())
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if len(results) != 1 || results[0].RuleID != "mine" {
		t.Fatalf("expected only the in-scope rule, got %d results", len(results))
	}
}

func TestEvaluateAllExplicitSubset(t *testing.T) {
	engine := NewEngine(nil)
	defer engine.Close()
	engine.LoadRule(mathRule("r1", 1, 30))
	engine.LoadRule(mathRule("r2", 1, 15))

	req := evalRequest()
	req.RuleIDs = []string{"r2"}

	results, _, err := engine.EvaluateAll(context.Background(), "fam-1", req)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if len(results) != 1 || results[0].RuleID != "r2" {
		t.Fatalf("expected only r2, got %d results", len(results))
	}
}

func TestEvaluateAllFaultIsolation(t *testing.T) {
	engine := NewEngine(nil)
	defer engine.Close()
	engine.LoadRule(mathRule("healthy", 5, 30))

	broken := mathRule("broken", 10, 15)
	broken.Description = "panics"
	engine.LoadRule(broken)

	inner := engine.matchFn
	engine.matchFn = func(c *domain.Criteria, ectx *domain.EvaluationContext) *CriteriaReport {
		if c == brokenCriteria(engine) {
			panic("boom")
		}
		return inner(c, ectx)
	}

	results, _, err := engine.EvaluateAll(context.Background(), "fam-1", evalRequest())
	if err != nil {
		t.Fatalf("a single rule failure must not fail the batch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	failed := results[0] // highest priority, the one that panicked
	if failed.Triggered {
		t.Error("failed rule must not trigger")
	}
	hasToken := false
	for _, f := range failed.FailedCriteria {
		if f == domain.FailedEvaluationToken {
			hasToken = true
		}
	}
	if !hasToken {
		t.Errorf("expected %s token, got %v", domain.FailedEvaluationToken, failed.FailedCriteria)
	}
	if !results[1].Triggered {
		t.Errorf("healthy rule should still trigger: %s", results[1].Reason)
	}
}

// brokenCriteria finds the criteria pointer of the rule named "broken".
func brokenCriteria(e *Engine) *domain.Criteria {
	for _, r := range e.GetLoadedRules() {
		if r.ID == "broken" {
			return r.Criteria
		}
	}
	return nil
}

func TestEvaluateAllHydratesHistory(t *testing.T) {
	getter := func(ctx context.Context, familyID, userID string, since time.Time, limit int) ([]domain.PerformanceEntry, error) {
		return history(50, 75), nil
	}
	engine := NewEngine(getter)
	defer engine.Close()

	rule := mathRule("trend", 1, 30)
	rule.Criteria.Behavior = &domain.BehaviorCriteria{ImprovementRate: floatPtr(40)}
	engine.LoadRule(rule)

	req := evalRequest()
	req.Context.RecentPerformance = nil

	results, _, err := engine.EvaluateAll(context.Background(), "fam-1", req)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if !results[0].Triggered {
		t.Errorf("hydrated 50%% improvement should satisfy a 40%% threshold: %s", results[0].Reason)
	}
}
