package limits

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/latchkey-dev/latchkey/internal/domain"
)

type stubLedger struct {
	usage    map[string]domain.RuleUsage
	getCalls int
	fail     bool
}

func (s *stubLedger) GetUsage(ctx context.Context, familyID, userID string, ruleIDs []string) (map[string]domain.RuleUsage, error) {
	s.getCalls++
	if s.fail {
		return nil, errors.New("down")
	}
	out := make(map[string]domain.RuleUsage, len(ruleIDs))
	for _, id := range ruleIDs {
		out[id] = s.usage[id]
	}
	return out, nil
}

func (s *stubLedger) RecordGrant(ctx context.Context, familyID, userID, ruleID string, minutes int) error {
	return nil
}

func (s *stubLedger) RecordApproval(ctx context.Context, familyID, userID, ruleID string) error {
	return nil
}

func (s *stubLedger) Ping(ctx context.Context) error { return nil }
func (s *stubLedger) Close() error                   { return nil }

func intPtr(i int) *int { return &i }

func triggered(ruleID string, minutes int) domain.RuleEvaluationResult {
	return domain.RuleEvaluationResult{RuleID: ruleID, Triggered: true, UnlockMinutes: minutes}
}

func limitedRule(id string, l *domain.Limits) *domain.UnlockRule {
	return &domain.UnlockRule{ID: id, Name: id, IsActive: true, Limits: l}
}

func TestNilLedgerPassesThrough(t *testing.T) {
	e := New(nil)
	results := []domain.RuleEvaluationResult{triggered("r1", 30)}
	rules := map[string]*domain.UnlockRule{"r1": limitedRule("r1", &domain.Limits{MaxDaily: intPtr(0)})}

	blocked, err := e.Enforce(context.Background(), "fam", "kid", results, rules, time.Now())
	if err != nil {
		t.Fatalf("enforce failed: %v", err)
	}
	if blocked != 0 || !results[0].Triggered {
		t.Error("nil ledger must never block")
	}
}

func TestUnlimitedRulesSkipTheLedger(t *testing.T) {
	ledger := &stubLedger{}
	e := New(ledger)
	results := []domain.RuleEvaluationResult{triggered("r1", 30)}
	rules := map[string]*domain.UnlockRule{"r1": limitedRule("r1", nil)}

	if _, err := e.Enforce(context.Background(), "fam", "kid", results, rules, time.Now()); err != nil {
		t.Fatalf("enforce failed: %v", err)
	}
	if ledger.getCalls != 0 {
		t.Errorf("no limited rules, expected no usage query, got %d", ledger.getCalls)
	}
}

func TestEnforceCaps(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		limits  *domain.Limits
		usage   domain.RuleUsage
		blocked bool
	}{
		{"under daily cap", &domain.Limits{MaxDaily: intPtr(3)}, domain.RuleUsage{DailyCount: 2}, false},
		{"at daily cap", &domain.Limits{MaxDaily: intPtr(3)}, domain.RuleUsage{DailyCount: 3}, true},
		{"at weekly cap", &domain.Limits{MaxWeekly: intPtr(10)}, domain.RuleUsage{WeeklyCount: 10}, true},
		{"inside cooldown", &domain.Limits{CooldownMinutes: intPtr(30)}, domain.RuleUsage{LastGrantAt: now.Add(-10 * time.Minute)}, true},
		{"cooldown elapsed", &domain.Limits{CooldownMinutes: intPtr(30)}, domain.RuleUsage{LastGrantAt: now.Add(-31 * time.Minute)}, false},
		{"no prior grant", &domain.Limits{CooldownMinutes: intPtr(30)}, domain.RuleUsage{}, false},
		{"lifetime cap", &domain.Limits{MaxTriggers: intPtr(100)}, domain.RuleUsage{TotalCount: 100}, true},
		{"approval missing", &domain.Limits{RequiresParentalApproval: true}, domain.RuleUsage{}, true},
		{"approval present", &domain.Limits{RequiresParentalApproval: true}, domain.RuleUsage{HasApproval: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := &stubLedger{usage: map[string]domain.RuleUsage{"r1": tt.usage}}
			e := New(ledger)
			results := []domain.RuleEvaluationResult{triggered("r1", 30)}
			rules := map[string]*domain.UnlockRule{"r1": limitedRule("r1", tt.limits)}

			blocked, err := e.Enforce(context.Background(), "fam", "kid", results, rules, now)
			if err != nil {
				t.Fatalf("enforce failed: %v", err)
			}
			if (blocked == 1) != tt.blocked {
				t.Errorf("blocked=%d, want blocked=%v", blocked, tt.blocked)
			}
			if results[0].Triggered == tt.blocked {
				t.Errorf("result triggered=%v inconsistent with blocked=%v", results[0].Triggered, tt.blocked)
			}
			if tt.blocked && results[0].Reason == "" {
				t.Error("blocked result must carry a reason")
			}
			if tt.blocked && results[0].UnlockMinutes != 0 {
				t.Error("blocked result must not carry minutes")
			}
		})
	}
}

func TestEnforceBatchesOneQuery(t *testing.T) {
	ledger := &stubLedger{usage: map[string]domain.RuleUsage{}}
	e := New(ledger)
	results := []domain.RuleEvaluationResult{
		triggered("r1", 10),
		triggered("r2", 20),
		triggered("r3", 30),
	}
	rules := map[string]*domain.UnlockRule{
		"r1": limitedRule("r1", &domain.Limits{MaxDaily: intPtr(5)}),
		"r2": limitedRule("r2", &domain.Limits{MaxWeekly: intPtr(5)}),
		"r3": limitedRule("r3", &domain.Limits{MaxTriggers: intPtr(5)}),
	}

	if _, err := e.Enforce(context.Background(), "fam", "kid", results, rules, time.Now()); err != nil {
		t.Fatalf("enforce failed: %v", err)
	}
	if ledger.getCalls != 1 {
		t.Errorf("expected one batched usage query for three rules, got %d", ledger.getCalls)
	}
}

func TestEnforceLedgerError(t *testing.T) {
	e := New(&stubLedger{fail: true})
	results := []domain.RuleEvaluationResult{triggered("r1", 30)}
	rules := map[string]*domain.UnlockRule{"r1": limitedRule("r1", &domain.Limits{MaxDaily: intPtr(1)})}

	if _, err := e.Enforce(context.Background(), "fam", "kid", results, rules, time.Now()); err == nil {
		t.Fatal("expected an error when the ledger is unreachable")
	}
}
