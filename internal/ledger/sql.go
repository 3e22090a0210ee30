package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/latchkey-dev/latchkey/internal/domain"
	"github.com/latchkey-dev/latchkey/internal/repository"
)

// SQLLedger implements domain.UsageLedger on the repository database.
// Works with both SQLite and PostgreSQL drivers.
type SQLLedger struct {
	db     *sql.DB
	driver string
}

const schemaGrants = `
CREATE TABLE IF NOT EXISTS usage_grants (
    id TEXT PRIMARY KEY,
    family_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    rule_id TEXT NOT NULL,
    minutes INTEGER NOT NULL,
    granted_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_grants_rule ON usage_grants(family_id, user_id, rule_id, granted_at);
`

const schemaApprovals = `
CREATE TABLE IF NOT EXISTS parental_approvals (
    family_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    rule_id TEXT NOT NULL,
    approved_at TIMESTAMP NOT NULL,
    PRIMARY KEY (family_id, user_id, rule_id)
);
`

// NewSQL creates a SQL-backed usage ledger.
func NewSQL(cfg domain.RepositoryConfig) (*SQLLedger, error) {
	db, err := repository.Open(cfg)
	if err != nil {
		return nil, err
	}

	l := &SQLLedger{db: db, driver: cfg.Driver}
	for _, schema := range []string{schemaGrants, schemaApprovals} {
		if _, err := db.Exec(schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run ledger migrations: %w", err)
		}
	}
	return l, nil
}

// GetUsage fetches every grant for the requested rules in one query and
// folds them into daily/weekly/total counts. Day boundaries are UTC
// midnight; weeks start Monday 00:00 UTC.
func (l *SQLLedger) GetUsage(ctx context.Context, familyID, userID string, ruleIDs []string) (map[string]domain.RuleUsage, error) {
	usage := make(map[string]domain.RuleUsage, len(ruleIDs))
	for _, id := range ruleIDs {
		usage[id] = domain.RuleUsage{}
	}
	if len(ruleIDs) == 0 {
		return usage, nil
	}

	now := time.Now().UTC()
	dayStart := dayStartUTC(now)
	weekStart := weekStartUTC(now)

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ruleIDs)), ", ")
	args := []any{familyID, userID}
	for _, id := range ruleIDs {
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		SELECT rule_id, granted_at
		FROM usage_grants
		WHERE family_id = ? AND user_id = ? AND rule_id IN (%s)
	`, placeholders)

	rows, err := l.db.QueryContext(ctx, l.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var ruleID string
		var grantedAt time.Time
		if err := rows.Scan(&ruleID, &grantedAt); err != nil {
			return nil, err
		}

		u := usage[ruleID]
		u.TotalCount++
		grantedAt = grantedAt.UTC()
		if !grantedAt.Before(dayStart) {
			u.DailyCount++
		}
		if !grantedAt.Before(weekStart) {
			u.WeeklyCount++
		}
		if grantedAt.After(u.LastGrantAt) {
			u.LastGrantAt = grantedAt
		}
		usage[ruleID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	approvalQuery := fmt.Sprintf(`
		SELECT rule_id
		FROM parental_approvals
		WHERE family_id = ? AND user_id = ? AND rule_id IN (%s)
	`, placeholders)

	approvals, err := l.db.QueryContext(ctx, l.rebind(approvalQuery), args...)
	if err != nil {
		return nil, err
	}
	defer approvals.Close()

	for approvals.Next() {
		var ruleID string
		if err := approvals.Scan(&ruleID); err != nil {
			return nil, err
		}
		u := usage[ruleID]
		u.HasApproval = true
		usage[ruleID] = u
	}

	return usage, approvals.Err()
}

// RecordGrant appends one grant row.
func (l *SQLLedger) RecordGrant(ctx context.Context, familyID, userID, ruleID string, minutes int) error {
	query := `
		INSERT INTO usage_grants (id, family_id, user_id, rule_id, minutes, granted_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := l.db.ExecContext(ctx, l.rebind(query),
		uuid.NewString(), familyID, userID, ruleID, minutes, time.Now().UTC())
	return err
}

// RecordApproval upserts a parental approval.
func (l *SQLLedger) RecordApproval(ctx context.Context, familyID, userID, ruleID string) error {
	query := `
		INSERT INTO parental_approvals (family_id, user_id, rule_id, approved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(family_id, user_id, rule_id) DO UPDATE SET
			approved_at = excluded.approved_at
	`
	_, err := l.db.ExecContext(ctx, l.rebind(query),
		familyID, userID, ruleID, time.Now().UTC())
	return err
}

// Ping checks database connectivity.
func (l *SQLLedger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close closes the database connection.
func (l *SQLLedger) Close() error {
	return l.db.Close()
}

func (l *SQLLedger) rebind(query string) string {
	return repository.Rebind(l.driver, query)
}

func dayStartUTC(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func weekStartUTC(now time.Time) time.Time {
	day := dayStartUTC(now)
	// Weekday() is Sunday=0; shift so Monday opens the week
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
