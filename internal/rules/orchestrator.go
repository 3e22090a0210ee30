package rules

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/latchkey-dev/latchkey/internal/aggregate"
	"github.com/latchkey-dev/latchkey/internal/domain"
	"github.com/latchkey-dev/latchkey/internal/limits"
)

// Orchestrator runs the full evaluation pipeline: engine, limit
// enforcement, aggregation, grant recording.
type Orchestrator struct {
	engine     *Engine
	enforcer   *limits.Enforcer
	aggregator *aggregate.Aggregator
	logger     *slog.Logger
}

// NewOrchestrator wires the pipeline stages together.
func NewOrchestrator(engine *Engine, enforcer *limits.Enforcer, aggregator *aggregate.Aggregator, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		engine:     engine,
		enforcer:   enforcer,
		aggregator: aggregator,
		logger:     logger,
	}
}

// Evaluate runs one graded attempt through the pipeline. Zero triggered
// rules is a normal outcome; only infrastructure failures (the usage
// ledger being unreachable) surface as errors.
func (o *Orchestrator) Evaluate(ctx context.Context, familyID string, req *domain.UnlockEvaluationRequest) (*domain.UnlockEvaluationResponse, error) {
	start := time.Now()

	results, rules, err := o.engine.EvaluateAll(ctx, familyID, req)
	if err != nil {
		return nil, fmt.Errorf("rule evaluation: %w", err)
	}

	rulesByID := make(map[string]*domain.UnlockRule, len(rules))
	for _, rule := range rules {
		rulesByID[rule.ID] = rule
	}

	blocked, err := o.enforcer.Enforce(ctx, familyID, req.UserID, results, rulesByID, start)
	if err != nil {
		return nil, fmt.Errorf("limit enforcement: %w", err)
	}

	resp := o.aggregator.Combine(aggregate.Input{
		EvaluationID: uuid.NewString(),
		UserID:       req.UserID,
		Results:      results,
		Blocked:      blocked,
		StartTime:    start,
	})

	if err := o.enforcer.RecordGrants(ctx, familyID, req.UserID, results); err != nil {
		// The decision stands; the miss only loosens future caps
		o.logger.Error("failed to record grants",
			"familyId", familyID,
			"userId", req.UserID,
			"evaluationId", resp.EvaluationID,
			"error", err)
	}

	o.logger.Info("evaluation completed",
		"familyId", familyID,
		"userId", req.UserID,
		"evaluationId", resp.EvaluationID,
		"rulesEvaluated", resp.Summary.RulesEvaluated,
		"rulesTriggered", resp.Summary.RulesTriggered,
		"rulesBlocked", resp.Summary.RulesBlocked,
		"unlockMinutes", resp.TotalUnlockMinutes)

	return resp, nil
}
