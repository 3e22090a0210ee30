// Package domain defines the core types and component interfaces for Latchkey.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require familyID for strict per-family isolation.
type Repository interface {
	// Attempt operations
	SaveAttempt(ctx context.Context, familyID string, attempt *Attempt) error
	GetAttempt(ctx context.Context, familyID string, attemptID string) (*Attempt, error)
	GetAttemptsByUser(ctx context.Context, familyID string, userID string, since time.Time) ([]*Attempt, error)

	// Unlock rule operations
	SaveRule(ctx context.Context, familyID string, rule *UnlockRule) error
	GetRule(ctx context.Context, familyID string, ruleID string) (*UnlockRule, error)
	ListRules(ctx context.Context, familyID string, activeOnly bool) ([]*UnlockRule, error)
	DeleteRule(ctx context.Context, familyID string, ruleID string) error

	// Evaluation results
	SaveEvaluation(ctx context.Context, familyID string, record *EvaluationRecord) error
	GetEvaluation(ctx context.Context, familyID string, evalID string) (*EvaluationRecord, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// GlobalFamilyID marks rules shared across all families.
const GlobalFamilyID = "*"

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
