// Package ledger tracks per-rule grant usage for limit enforcement.
package ledger

import (
	"fmt"

	"github.com/latchkey-dev/latchkey/internal/domain"
)

// New creates a usage ledger based on configuration.
// Community tier shares the SQL database; Pro tier uses Redis counters.
func New(cfg domain.LedgerConfig) (domain.UsageLedger, error) {
	switch cfg.Driver {
	case "sql":
		return NewSQL(cfg.Repository)
	case "redis":
		return NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unsupported ledger driver: %s", cfg.Driver)
	}
}
