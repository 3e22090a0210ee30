package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/latchkey-dev/latchkey/internal/aggregate"
	"github.com/latchkey-dev/latchkey/internal/domain"
	"github.com/latchkey-dev/latchkey/internal/limits"
	"github.com/latchkey-dev/latchkey/internal/rules"
)

// createTestServer creates a server with a loaded engine for testing.
// Repository, cache, and bus are nil; handlers degrade gracefully.
func createTestServer() *Server {
	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	engine := rules.NewEngine(nil)

	minScore := 90.0
	testRule := &domain.UnlockRule{
		ID:       "test-rule-001",
		Name:     "High Score Test Rule",
		IsActive: true,
		Priority: 10,
		Criteria: &domain.Criteria{
			Subjects: []string{"math"},
			MinScore: &minScore,
		},
		Action: &domain.Action{
			UnlockMinutes: 30,
			Message:       "You earned 30 minutes!",
		},
	}
	if err := engine.LoadRule(testRule); err != nil {
		panic(err)
	}

	orchestrator := rules.NewOrchestrator(engine, limits.New(nil), aggregate.New(), nil)

	return NewServer(cfg, nil, nil, nil, engine, orchestrator, "test-v1")
}

func TestEvaluateEndpoint(t *testing.T) {
	server := createTestServer()

	t.Run("SuccessfulEvaluation", func(t *testing.T) {
		reqBody := domain.UnlockEvaluationRequest{
			UserID: "child-001",
			Context: domain.EvaluationContext{
				UserID:  "child-001",
				Score:   95,
				Subject: "math",
			},
		}

		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Family-ID", "fam-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp EvaluateResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.EvaluationID == "" {
			t.Error("expected evaluationId in response")
		}
		if resp.AttemptID == "" {
			t.Error("expected attemptId in response")
		}
		if resp.TotalUnlockMinutes != 30 {
			t.Errorf("expected 30 unlock minutes, got %d", resp.TotalUnlockMinutes)
		}
		if resp.Summary.RulesTriggered != 1 {
			t.Errorf("expected 1 triggered rule, got %d", resp.Summary.RulesTriggered)
		}
		if resp.Metadata.Version != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp.Metadata.Version)
		}
		if resp.Metadata.TraceID == "" {
			t.Error("expected traceId in metadata")
		}
	})

	t.Run("LowScoreDoesNotTrigger", func(t *testing.T) {
		reqBody := domain.UnlockEvaluationRequest{
			UserID: "child-001",
			Context: domain.EvaluationContext{
				Score:   50,
				Subject: "math",
			},
		}

		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBuffer(body))
		req.Header.Set("X-Family-ID", "fam-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp EvaluateResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.TotalUnlockMinutes != 0 {
			t.Errorf("expected no unlock minutes, got %d", resp.TotalUnlockMinutes)
		}
		if resp.Summary.RulesEvaluated != 1 {
			t.Errorf("expected 1 evaluated rule, got %d", resp.Summary.RulesEvaluated)
		}
	})

	t.Run("MissingFamilyID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBufferString("{}"))
		req.Header.Set("Content-Type", "application/json")
		// No X-Family-ID header

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBufferString("not-json"))
		req.Header.Set("X-Family-ID", "fam-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingUserID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBufferString(`{"context":{"score":95}}`))
		req.Header.Set("X-Family-ID", "fam-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ScoreOutOfRange", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBufferString(`{"userId":"child-001","context":{"score":120}}`))
		req.Header.Set("X-Family-ID", "fam-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestValidateEndpoint(t *testing.T) {
	server := createTestServer()

	t.Run("ValidRule", func(t *testing.T) {
		body := `{"name":"Weekend Bonus","isActive":true,"criteria":{"subjects":["math"],"minScore":80},"action":{"unlockMinutes":20}}`
		req := httptest.NewRequest(http.MethodPost, "/rules/validate", bytes.NewBufferString(body))
		req.Header.Set("X-Family-ID", "fam-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var result rules.ValidationResult
		if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if !result.Valid {
			t.Errorf("expected valid rule, got errors: %+v", result.Errors)
		}
	})

	t.Run("InvalidRule", func(t *testing.T) {
		body := `{"name":"","criteria":{"minScore":150},"action":{"unlockMinutes":-5}}`
		req := httptest.NewRequest(http.MethodPost, "/rules/validate", bytes.NewBufferString(body))
		req.Header.Set("X-Family-ID", "fam-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var result rules.ValidationResult
		if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if result.Valid {
			t.Error("expected invalid rule")
		}
		if len(result.Errors) == 0 {
			t.Error("expected validation errors")
		}
	})
}

func TestCreateRuleEndpoint(t *testing.T) {
	server := createTestServer()

	t.Run("RejectsInvalidRule", func(t *testing.T) {
		body := `{"name":"","action":{"unlockMinutes":10}}`
		req := httptest.NewRequest(http.MethodPost, "/rules", bytes.NewBufferString(body))
		req.Header.Set("X-Family-ID", "fam-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("CreatesAndLoadsRule", func(t *testing.T) {
		body := `{"name":"Perfect Score","isActive":true,"criteria":{"subjects":["math"],"minScore":100},"action":{"unlockMinutes":60}}`
		req := httptest.NewRequest(http.MethodPost, "/rules", bytes.NewBufferString(body))
		req.Header.Set("X-Family-ID", "fam-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		if server.Handler().engine.RulesCount() != 2 {
			t.Errorf("expected 2 loaded rules, got %d", server.Handler().engine.RulesCount())
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer()

	// Health works without a family header
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("expected healthy, got %s", resp["status"])
	}
	if resp["version"] != "test-v1" {
		t.Errorf("expected version test-v1, got %s", resp["version"])
	}
}

func TestMiddleware(t *testing.T) {
	server := createTestServer()

	t.Run("TraceHeaders", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Header().Get(RequestIDHeader) == "" {
			t.Error("expected X-Request-ID header")
		}
		if rr.Header().Get(TraceIDHeader) == "" {
			t.Error("expected X-Trace-ID header")
		}
	})

	t.Run("GlobalScopeHeaderRejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/rules", nil)
		req.Header.Set(FamilyIDHeader, "*")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for the shared-rule scope in the family header, got %d", rr.Code)
		}
	})

	t.Run("PreflightRequest", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/evaluate", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", rr.Code)
		}
		if rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
			t.Errorf("unexpected allow-origin: %s", rr.Header().Get("Access-Control-Allow-Origin"))
		}
	})
}
