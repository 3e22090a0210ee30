package domain

import (
	"context"
	"time"
)

// UsageLedger tracks how often each rule has granted time, backing the
// daily/weekly caps, cooldowns, lifetime maximums and approval gates.
type UsageLedger interface {
	// GetUsage returns usage for all requested rule ids in one call.
	// Rules with no recorded usage are present with zero counts.
	GetUsage(ctx context.Context, familyID string, userID string, ruleIDs []string) (map[string]RuleUsage, error)

	// RecordGrant records one grant of unlock minutes for a rule.
	RecordGrant(ctx context.Context, familyID string, userID string, ruleID string, minutes int) error

	// RecordApproval marks a parental approval for a rule and user.
	RecordApproval(ctx context.Context, familyID string, userID string, ruleID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RuleUsage is the per-rule usage snapshot for one user.
type RuleUsage struct {
	DailyCount  int       `json:"dailyCount"`
	WeeklyCount int       `json:"weeklyCount"`
	TotalCount  int       `json:"totalCount"`
	LastGrantAt time.Time `json:"lastGrantAt,omitempty"`
	HasApproval bool      `json:"hasApproval"`
}

// LedgerConfig holds configuration for usage ledger initialization.
type LedgerConfig struct {
	// Driver is the ledger backend: "sql" or "redis"
	Driver string

	// SQL ledger shares the repository database
	Repository RepositoryConfig

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}
