// Package worker provides async attempt processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/latchkey-dev/latchkey/internal/domain"
	"github.com/latchkey-dev/latchkey/internal/rules"
)

// Worker processes graded attempts asynchronously from the EventBus.
// It mirrors the synchronous POST /evaluate pipeline for deployments
// where the grading subsystem publishes instead of calling HTTP.
type Worker struct {
	bus          domain.EventBus
	repo         domain.Repository
	orchestrator *rules.Orchestrator

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// FamilyIDs is the list of families to process (empty = global subscription)
	FamilyIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, orchestrator *rules.Orchestrator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:          bus,
		repo:         repo,
		orchestrator: orchestrator,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins processing attempts for the given families.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.FamilyIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, familyID := range cfg.FamilyIDs {
		if err := w.startFamilyWorker(familyID); err != nil {
			slog.Error("failed to start worker for family",
				"family_id", familyID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"family_count", len(cfg.FamilyIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all families (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Messages carry their own family id; the subscription key is only
	// a routing convention here.
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicAttemptGraded, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startFamilyWorker starts a worker for a specific family.
func (w *Worker) startFamilyWorker(familyID string) error {
	sub, err := w.bus.Subscribe(w.ctx, familyID, domain.TopicAttemptGraded, func(ctx context.Context, msg *domain.Message) error {
		return w.processAttempt(ctx, familyID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("family worker started",
		"family_id", familyID,
		"topic", domain.TopicAttemptGraded,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processAttempt(ctx, msg.FamilyID, msg)
}

// AttemptMessage is the message payload for attempt processing.
type AttemptMessage struct {
	AttemptID string                   `json:"attemptId,omitempty"`
	FamilyID  string                   `json:"familyId,omitempty"`
	UserID    string                   `json:"userId"`
	TraceID   string                   `json:"traceId,omitempty"`
	Context   domain.EvaluationContext `json:"context"`
	RuleIDs   []string                 `json:"rules,omitempty"`
}

// processAttempt runs a graded attempt through the evaluation pipeline.
func (w *Worker) processAttempt(ctx context.Context, familyID string, msg *domain.Message) error {
	start := time.Now()

	var attemptMsg AttemptMessage
	if err := json.Unmarshal(msg.Payload, &attemptMsg); err != nil {
		slog.Error("failed to parse attempt message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message family if provided
	if attemptMsg.FamilyID != "" {
		familyID = attemptMsg.FamilyID
	}

	userID := attemptMsg.UserID
	if userID == "" {
		userID = attemptMsg.Context.UserID
	}
	if userID == "" {
		slog.Error("attempt message missing userId", "message_id", msg.ID)
		return nil
	}
	if attemptMsg.Context.UserID == "" {
		attemptMsg.Context.UserID = userID
	}

	traceID := attemptMsg.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("processing attempt",
		"attempt_id", attemptMsg.AttemptID,
		"family_id", familyID,
		"trace_id", traceID,
	)

	req := &domain.UnlockEvaluationRequest{
		UserID:  userID,
		Context: attemptMsg.Context,
		RuleIDs: attemptMsg.RuleIDs,
	}

	resp, err := w.orchestrator.Evaluate(ctx, familyID, req)
	if err != nil {
		slog.Error("evaluation failed",
			"attempt_id", attemptMsg.AttemptID,
			"error", err,
		)
		return err
	}

	if w.repo != nil {
		record := &domain.EvaluationRecord{
			ID:        resp.EvaluationID,
			FamilyID:  familyID,
			UserID:    userID,
			AttemptID: attemptMsg.AttemptID,
			Response:  *resp,
			CreatedAt: time.Now().UTC(),
		}
		if err := w.repo.SaveEvaluation(ctx, familyID, record); err != nil {
			slog.Error("failed to save evaluation",
				"attempt_id", attemptMsg.AttemptID,
				"error", err,
			)
		}
	}

	resultPayload, _ := json.Marshal(resp)
	if err := w.bus.Publish(ctx, familyID, domain.TopicEvaluationCompleted, resultPayload); err != nil {
		slog.Error("failed to publish evaluation result",
			"attempt_id", attemptMsg.AttemptID,
			"error", err,
		)
	}

	if resp.TotalUnlockMinutes > 0 {
		if err := w.bus.Publish(ctx, familyID, domain.TopicUnlockGranted, resultPayload); err != nil {
			slog.Error("failed to publish unlock grant",
				"attempt_id", attemptMsg.AttemptID,
				"error", err,
			)
		}
	}

	for _, n := range resp.ParentNotifications {
		data, err := json.Marshal(n)
		if err != nil {
			continue
		}
		if err := w.bus.Publish(ctx, familyID, domain.TopicParentNotification, data); err != nil {
			slog.Error("failed to publish parent notification",
				"rule_id", n.RuleID,
				"error", err,
			)
		}
	}

	slog.Info("attempt processed",
		"attempt_id", attemptMsg.AttemptID,
		"family_id", familyID,
		"user_id", userID,
		"unlock_minutes", resp.TotalUnlockMinutes,
		"rules_triggered", resp.Summary.RulesTriggered,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stats reports worker state.
type Stats struct {
	SubscriptionCount int `json:"subscriptionCount"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	return Stats{SubscriptionCount: len(w.subscriptions)}
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("workers stopped")
	return nil
}
