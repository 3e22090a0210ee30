// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/latchkey-dev/latchkey/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// Open opens a raw database handle for the configured driver. The usage
// ledger shares this so both layers hit the same database file.
func Open(cfg domain.RepositoryConfig) (*sql.DB, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return db, nil
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveAttempt stores a graded attempt with family isolation.
func (r *SQLRepository) SaveAttempt(ctx context.Context, familyID string, attempt *domain.Attempt) error {
	if familyID == "" {
		return fmt.Errorf("%w: familyID is required", ErrInvalidInput)
	}

	ectx, err := json.Marshal(attempt.Context)
	if err != nil {
		return fmt.Errorf("failed to encode attempt context: %w", err)
	}

	query := `
		INSERT INTO attempts (
			id, family_id, user_id, subject, score, time_taken,
			completed_at, context, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		attempt.ID, familyID,
		attempt.Context.UserID, attempt.Context.Subject,
		attempt.Context.Score, attempt.Context.TimeTaken,
		attempt.Context.CompletedAt, string(ectx), attempt.CreatedAt,
	)
	return err
}

// GetAttempt retrieves an attempt by ID with family isolation.
func (r *SQLRepository) GetAttempt(ctx context.Context, familyID string, attemptID string) (*domain.Attempt, error) {
	if familyID == "" {
		return nil, fmt.Errorf("%w: familyID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, family_id, context, created_at
		FROM attempts
		WHERE family_id = ? AND id = ?
	`

	var attempt domain.Attempt
	var ectx string

	err := r.db.QueryRowContext(ctx, r.rebind(query), familyID, attemptID).Scan(
		&attempt.ID, &attempt.FamilyID, &ectx, &attempt.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(ectx), &attempt.Context); err != nil {
		return nil, fmt.Errorf("failed to parse attempt context: %w", err)
	}

	return &attempt, nil
}

// GetAttemptsByUser retrieves a user's attempts since a point in time,
// newest first.
func (r *SQLRepository) GetAttemptsByUser(ctx context.Context, familyID string, userID string, since time.Time) ([]*domain.Attempt, error) {
	if familyID == "" {
		return nil, fmt.Errorf("%w: familyID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, family_id, context, created_at
		FROM attempts
		WHERE family_id = ? AND user_id = ? AND completed_at >= ?
		ORDER BY completed_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), familyID, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []*domain.Attempt
	for rows.Next() {
		var attempt domain.Attempt
		var ectx string

		if err := rows.Scan(&attempt.ID, &attempt.FamilyID, &ectx, &attempt.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(ectx), &attempt.Context); err != nil {
			return nil, fmt.Errorf("failed to parse attempt context for %s: %w", attempt.ID, err)
		}
		attempts = append(attempts, &attempt)
	}

	return attempts, rows.Err()
}

// SaveRule upserts an unlock rule with family isolation.
func (r *SQLRepository) SaveRule(ctx context.Context, familyID string, rule *domain.UnlockRule) error {
	if familyID == "" {
		return fmt.Errorf("%w: familyID is required", ErrInvalidInput)
	}

	criteria, _ := json.Marshal(rule.Criteria)
	action, _ := json.Marshal(rule.Action)
	limits, _ := json.Marshal(rule.Limits)
	appliesTo, _ := json.Marshal(rule.AppliesTo)
	metadata, _ := json.Marshal(rule.Metadata)

	isActive := 0
	if rule.IsActive {
		isActive = 1
	}
	stackable := 0
	if rule.Stackable {
		stackable = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO unlock_rules (
			id, family_id, name, description, priority, is_active,
			criteria, action, limits, stackable, valid_from, valid_to,
			applies_to, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, family_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			priority = excluded.priority,
			is_active = excluded.is_active,
			criteria = excluded.criteria,
			action = excluded.action,
			limits = excluded.limits,
			stackable = excluded.stackable,
			valid_from = excluded.valid_from,
			valid_to = excluded.valid_to,
			applies_to = excluded.applies_to,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, familyID, rule.Name, rule.Description,
		rule.Priority, isActive,
		string(criteria), string(action), string(limits), stackable,
		nullableTime(rule.ValidFrom), nullableTime(rule.ValidTo),
		string(appliesTo), string(metadata),
		now, now,
	)
	return err
}

// GetRule retrieves an unlock rule with family isolation.
func (r *SQLRepository) GetRule(ctx context.Context, familyID string, ruleID string) (*domain.UnlockRule, error) {
	if familyID == "" {
		return nil, fmt.Errorf("%w: familyID is required", ErrInvalidInput)
	}

	query := ruleSelectColumns + `
		FROM unlock_rules
		WHERE family_id = ? AND id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), familyID, ruleID)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListRules retrieves unlock rules for a family, highest priority first.
func (r *SQLRepository) ListRules(ctx context.Context, familyID string, activeOnly bool) ([]*domain.UnlockRule, error) {
	if familyID == "" {
		return nil, fmt.Errorf("%w: familyID is required", ErrInvalidInput)
	}

	query := ruleSelectColumns + `
		FROM unlock_rules
		WHERE family_id = ?
	`
	if activeOnly {
		query += " AND is_active = 1"
	}
	query += " ORDER BY priority DESC, name"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), familyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.UnlockRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// DeleteRule soft-deletes a rule by setting is_active = 0.
func (r *SQLRepository) DeleteRule(ctx context.Context, familyID string, ruleID string) error {
	if familyID == "" {
		return fmt.Errorf("%w: familyID is required", ErrInvalidInput)
	}

	query := `
		UPDATE unlock_rules
		SET is_active = 0, updated_at = ?
		WHERE family_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), familyID, ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveEvaluation stores an evaluation record with family isolation.
func (r *SQLRepository) SaveEvaluation(ctx context.Context, familyID string, record *domain.EvaluationRecord) error {
	if familyID == "" {
		return fmt.Errorf("%w: familyID is required", ErrInvalidInput)
	}

	response, err := json.Marshal(record.Response)
	if err != nil {
		return fmt.Errorf("failed to encode evaluation response: %w", err)
	}

	query := `
		INSERT INTO evaluations (
			id, family_id, user_id, attempt_id, response, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		record.ID, familyID, record.UserID, record.AttemptID,
		string(response), record.CreatedAt,
	)
	return err
}

// GetEvaluation retrieves an evaluation record with family isolation.
func (r *SQLRepository) GetEvaluation(ctx context.Context, familyID string, evalID string) (*domain.EvaluationRecord, error) {
	if familyID == "" {
		return nil, fmt.Errorf("%w: familyID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, family_id, user_id, attempt_id, response, created_at
		FROM evaluations
		WHERE family_id = ? AND id = ?
	`

	var record domain.EvaluationRecord
	var response string

	err := r.db.QueryRowContext(ctx, r.rebind(query), familyID, evalID).Scan(
		&record.ID, &record.FamilyID, &record.UserID, &record.AttemptID,
		&response, &record.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(response), &record.Response); err != nil {
		return nil, fmt.Errorf("failed to parse evaluation response: %w", err)
	}

	return &record, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

const ruleSelectColumns = `
		SELECT id, family_id, name, description, priority, is_active,
			   criteria, action, limits, stackable, valid_from, valid_to,
			   applies_to, metadata, created_at, updated_at
`

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.UnlockRule, error) {
	var rule domain.UnlockRule
	var criteria, action, limits, appliesTo, metadata string
	var isActive, stackable int
	var validFrom, validTo sql.NullTime

	err := row.Scan(
		&rule.ID, &rule.FamilyID, &rule.Name, &rule.Description,
		&rule.Priority, &isActive,
		&criteria, &action, &limits, &stackable,
		&validFrom, &validTo,
		&appliesTo, &metadata,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.IsActive = isActive == 1
	rule.Stackable = stackable == 1
	if validFrom.Valid {
		t := validFrom.Time
		rule.ValidFrom = &t
	}
	if validTo.Valid {
		t := validTo.Time
		rule.ValidTo = &t
	}

	if err := json.Unmarshal([]byte(criteria), &rule.Criteria); err != nil {
		return nil, fmt.Errorf("failed to parse criteria for rule %s: %w", rule.ID, err)
	}
	if err := json.Unmarshal([]byte(action), &rule.Action); err != nil {
		return nil, fmt.Errorf("failed to parse action for rule %s: %w", rule.ID, err)
	}
	json.Unmarshal([]byte(limits), &rule.Limits)
	json.Unmarshal([]byte(appliesTo), &rule.AppliesTo)
	json.Unmarshal([]byte(metadata), &rule.Metadata)

	return &rule, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	return Rebind(r.driver, query)
}

// Rebind converts ? placeholders to the driver's placeholder syntax.
func Rebind(driver, query string) string {
	if driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
