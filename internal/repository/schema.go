package repository

// Schema definitions for the Latchkey database.
// Compatible with both SQLite and PostgreSQL.

const schemaAttempts = `
CREATE TABLE IF NOT EXISTS attempts (
    id TEXT PRIMARY KEY,
    family_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    subject TEXT NOT NULL,
    score REAL NOT NULL,
    time_taken INTEGER NOT NULL,
    completed_at TIMESTAMP NOT NULL,
    context TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attempts_family ON attempts(family_id);
CREATE INDEX IF NOT EXISTS idx_attempts_user ON attempts(family_id, user_id, completed_at);
`

const schemaUnlockRules = `
CREATE TABLE IF NOT EXISTS unlock_rules (
    id TEXT NOT NULL,
    family_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    priority INTEGER NOT NULL DEFAULT 0,
    is_active INTEGER NOT NULL DEFAULT 1,
    criteria TEXT NOT NULL,
    action TEXT NOT NULL,
    limits TEXT,
    stackable INTEGER NOT NULL DEFAULT 0,
    valid_from TIMESTAMP,
    valid_to TIMESTAMP,
    applies_to TEXT,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, family_id)
);

CREATE INDEX IF NOT EXISTS idx_unlock_rules_family ON unlock_rules(family_id);
CREATE INDEX IF NOT EXISTS idx_unlock_rules_active ON unlock_rules(family_id, is_active);
`

const schemaEvaluations = `
CREATE TABLE IF NOT EXISTS evaluations (
    id TEXT PRIMARY KEY,
    family_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    attempt_id TEXT,
    response TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evaluations_family ON evaluations(family_id);
CREATE INDEX IF NOT EXISTS idx_evaluations_user ON evaluations(family_id, user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_evaluations_attempt ON evaluations(family_id, attempt_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaAttempts,
		schemaUnlockRules,
		schemaEvaluations,
	}
}
