package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/latchkey-dev/latchkey/internal/domain"
	"github.com/latchkey-dev/latchkey/internal/rules"
)

// attemptCacheTTL bounds how long a graded attempt stays in the cache
// for history hydration.
const attemptCacheTTL = 24 * time.Hour

// evaluationRateWindow and evaluationRateLimit throttle noisy clients.
// The limit is advisory; exceeding it is logged, not rejected.
const (
	evaluationRateWindow = time.Minute
	evaluationRateLimit  = 30
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo         domain.Repository
	cache        domain.Cache
	bus          domain.EventBus
	engine       *rules.Engine
	orchestrator *rules.Orchestrator
	version      string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, orchestrator *rules.Orchestrator, version string) *Handler {
	return &Handler{
		repo:         repo,
		cache:        cache,
		bus:          bus,
		engine:       engine,
		orchestrator: orchestrator,
		version:      version,
	}
}

// EvaluateResponse is the response for POST /evaluate.
type EvaluateResponse struct {
	domain.UnlockEvaluationResponse
	AttemptID string `json:"attemptId"`
	Metadata  struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Evaluate handles POST /evaluate requests.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	familyID := GetFamilyID(ctx)
	traceID := GetTraceID(ctx)

	var req domain.UnlockEvaluationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.UserID == "" {
		req.UserID = req.Context.UserID
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "userId is required",
		})
		return
	}
	if req.Context.Score < 0 || req.Context.Score > 100 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "context.score must be between 0 and 100",
		})
		return
	}
	if req.Context.UserID == "" {
		req.Context.UserID = req.UserID
	}
	if req.Context.CompletedAt.IsZero() {
		req.Context.CompletedAt = time.Now().UTC()
	}

	// Persist the graded attempt so later evaluations can hydrate
	// recent-performance history from it.
	attempt := &domain.Attempt{
		ID:        uuid.New().String(),
		FamilyID:  familyID,
		Context:   req.Context,
		CreatedAt: time.Now().UTC(),
	}

	if h.repo != nil {
		if err := h.repo.SaveAttempt(ctx, familyID, attempt); err != nil {
			slog.Error("failed to save attempt", "error", err)
			// The evaluation itself takes precedence over the audit trail
		}
	}
	if h.cache != nil {
		if err := h.cache.SetAttempt(ctx, familyID, attempt.ID, attempt, attemptCacheTTL); err != nil {
			slog.Warn("failed to cache attempt", "error", err)
		}
	}

	resp, err := h.orchestrator.Evaluate(ctx, familyID, &req)
	if err != nil {
		slog.Error("evaluation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "evaluation failed",
		})
		return
	}

	if h.repo != nil {
		record := &domain.EvaluationRecord{
			ID:        resp.EvaluationID,
			FamilyID:  familyID,
			UserID:    req.UserID,
			AttemptID: attempt.ID,
			Response:  *resp,
			CreatedAt: time.Now().UTC(),
		}
		if err := h.repo.SaveEvaluation(ctx, familyID, record); err != nil {
			slog.Error("failed to save evaluation", "error", err)
		}
	}

	h.publishOutcome(r, familyID, resp)
	h.noteEvaluationRate(r, familyID, req.UserID)

	out := EvaluateResponse{
		UnlockEvaluationResponse: *resp,
		AttemptID:                attempt.ID,
	}
	out.Metadata.TraceID = traceID
	out.Metadata.TotalMs = time.Since(start).Milliseconds()
	out.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, out)
}

// publishOutcome emits evaluation events to the bus. Delivery failures
// are logged; the synchronous response already carries the decision.
func (h *Handler) publishOutcome(r *http.Request, familyID string, resp *domain.UnlockEvaluationResponse) {
	if h.bus == nil {
		return
	}
	ctx := r.Context()

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal evaluation event", "error", err)
		return
	}

	if err := h.bus.Publish(ctx, familyID, domain.TopicEvaluationCompleted, payload); err != nil {
		slog.Warn("failed to publish evaluation event", "error", err)
	}

	if resp.TotalUnlockMinutes > 0 {
		if err := h.bus.Publish(ctx, familyID, domain.TopicUnlockGranted, payload); err != nil {
			slog.Warn("failed to publish unlock event", "error", err)
		}
	}

	for _, n := range resp.ParentNotifications {
		data, err := json.Marshal(n)
		if err != nil {
			continue
		}
		if err := h.bus.Publish(ctx, familyID, domain.TopicParentNotification, data); err != nil {
			slog.Warn("failed to publish parent notification", "error", err)
		}
	}
}

// noteEvaluationRate tracks per-user evaluation frequency in the cache.
func (h *Handler) noteEvaluationRate(r *http.Request, familyID, userID string) {
	if h.cache == nil {
		return
	}
	count, err := h.cache.IncrementCounter(r.Context(), familyID, "evaluations:"+userID, evaluationRateWindow)
	if err != nil {
		return
	}
	if count > evaluationRateLimit {
		slog.Warn("high evaluation rate",
			"family_id", familyID,
			"user_id", userID,
			"count", count,
		)
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetEvaluation retrieves an evaluation by ID.
func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	familyID := GetFamilyID(ctx)
	evalID := chi.URLParam(r, "id")

	if evalID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "evaluation id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	record, err := h.repo.GetEvaluation(ctx, familyID, evalID)
	if err != nil {
		slog.Error("failed to get evaluation", "id", evalID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "evaluation not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// GetAttempt retrieves a graded attempt by ID.
func (h *Handler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	familyID := GetFamilyID(ctx)
	attemptID := chi.URLParam(r, "id")

	if attemptID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "attempt id is required",
		})
		return
	}

	// Cache first, repository on miss
	if h.cache != nil {
		if attempt, err := h.cache.GetAttempt(ctx, familyID, attemptID); err == nil && attempt != nil {
			writeJSON(w, http.StatusOK, attempt)
			return
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	attempt, err := h.repo.GetAttempt(ctx, familyID, attemptID)
	if err != nil {
		slog.Error("failed to get attempt", "id", attemptID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "attempt not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, attempt)
}

// ListRules returns the family's rules from the repository.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	familyID := GetFamilyID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	activeOnly := r.URL.Query().Get("active") == "true"

	dbRules, err := h.repo.ListRules(ctx, familyID, activeOnly)
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  dbRules,
		"count":  len(dbRules),
		"source": "database",
	})
}

// GetRule retrieves a rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	familyID := GetFamilyID(ctx)
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	rule, err := h.repo.GetRule(ctx, familyID, ruleID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreateRule validates and saves a rule, then loads it into the engine.
// Validation errors reject the rule; warnings are returned alongside it.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	familyID := GetFamilyID(ctx)

	var rule domain.UnlockRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.FamilyID = familyID
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	validation := rules.ValidateRule(&rule)
	if !validation.Valid {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  "rule validation failed",
			"issues": validation.Errors,
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveRule(ctx, familyID, &rule); err != nil {
			slog.Error("failed to save rule", "id", rule.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	if rule.IsActive {
		if err := h.engine.LoadRule(&rule); err != nil {
			slog.Error("failed to load rule into engine", "id", rule.ID, "error", err)
		}
	}

	slog.Info("rule created", "id", rule.ID, "name", rule.Name, "family_id", familyID)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":     rule,
		"warnings": validation.Warnings,
	})
}

// DeleteRule deactivates a rule and unloads it from the engine.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	familyID := GetFamilyID(ctx)
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.DeleteRule(ctx, familyID, ruleID); err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}
	}

	h.engine.UnloadRule(ruleID)

	slog.Info("rule deleted", "id", ruleID, "family_id", familyID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "rule deleted",
	})
}

// ValidateRuleHandler runs validation without persisting anything.
func (h *Handler) ValidateRuleHandler(w http.ResponseWriter, r *http.Request) {
	var rule domain.UnlockRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	writeJSON(w, http.StatusOK, rules.ValidateRule(&rule))
}

// ReloadRules reloads the family's rules and the shared global rules
// from the database into the engine without a restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	familyID := GetFamilyID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbRules, err := h.repo.ListRules(ctx, familyID, true)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if familyID != domain.GlobalFamilyID {
		globalRules, err := h.repo.ListRules(ctx, domain.GlobalFamilyID, true)
		if err != nil {
			slog.Error("failed to list global rules", "error", err)
		} else {
			dbRules = append(dbRules, globalRules...)
		}
	}

	if err := h.engine.LoadRules(dbRules); err != nil {
		slog.Error("failed to load rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded from database", "count", len(dbRules), "family_id", familyID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
