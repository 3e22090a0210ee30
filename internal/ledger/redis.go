package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/latchkey-dev/latchkey/internal/domain"
)

// RedisLedger implements domain.UsageLedger on Redis counters.
// Day and week counters expire on their own; the grant itself is the
// atomic unit, so all counters move in one Lua script.
type RedisLedger struct {
	client *redis.Client
}

// NewRedis creates a Redis-backed usage ledger.
func NewRedis(addr, password string, db int) (*RedisLedger, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisLedger{client: client}, nil
}

// grantScript bumps the day, week and total counters and stamps the
// last grant time in a single atomic step.
var grantScript = redis.NewScript(`
	redis.call('INCR', KEYS[1])
	redis.call('EXPIRE', KEYS[1], ARGV[1])
	redis.call('INCR', KEYS[2])
	redis.call('EXPIRE', KEYS[2], ARGV[2])
	redis.call('INCR', KEYS[3])
	redis.call('SET', KEYS[4], ARGV[3])
	return 1
`)

const (
	dayTTL  = 2 * 24 * time.Hour
	weekTTL = 8 * 24 * time.Hour
)

// GetUsage reads the counters for every requested rule in one pipeline.
func (l *RedisLedger) GetUsage(ctx context.Context, familyID, userID string, ruleIDs []string) (map[string]domain.RuleUsage, error) {
	usage := make(map[string]domain.RuleUsage, len(ruleIDs))
	if len(ruleIDs) == 0 {
		return usage, nil
	}

	now := time.Now().UTC()
	pipe := l.client.Pipeline()

	type ruleCmds struct {
		day, week, total, last *redis.StringCmd
		approval               *redis.IntCmd
	}
	cmds := make(map[string]ruleCmds, len(ruleIDs))

	for _, ruleID := range ruleIDs {
		cmds[ruleID] = ruleCmds{
			day:      pipe.Get(ctx, l.dayKey(familyID, userID, ruleID, now)),
			week:     pipe.Get(ctx, l.weekKey(familyID, userID, ruleID, now)),
			total:    pipe.Get(ctx, l.totalKey(familyID, userID, ruleID)),
			last:     pipe.Get(ctx, l.lastKey(familyID, userID, ruleID)),
			approval: pipe.Exists(ctx, l.approvalKey(familyID, userID, ruleID)),
		}
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("usage pipeline: %w", err)
	}

	for ruleID, c := range cmds {
		var u domain.RuleUsage
		u.DailyCount = intResult(c.day)
		u.WeeklyCount = intResult(c.week)
		u.TotalCount = intResult(c.total)
		if ts, err := c.last.Result(); err == nil {
			if t, perr := time.Parse(time.RFC3339Nano, ts); perr == nil {
				u.LastGrantAt = t
			}
		}
		u.HasApproval = c.approval.Val() > 0
		usage[ruleID] = u
	}

	return usage, nil
}

// RecordGrant bumps all counters atomically.
func (l *RedisLedger) RecordGrant(ctx context.Context, familyID, userID, ruleID string, minutes int) error {
	now := time.Now().UTC()
	keys := []string{
		l.dayKey(familyID, userID, ruleID, now),
		l.weekKey(familyID, userID, ruleID, now),
		l.totalKey(familyID, userID, ruleID),
		l.lastKey(familyID, userID, ruleID),
	}
	return grantScript.Run(ctx, l.client, keys,
		int(dayTTL.Seconds()),
		int(weekTTL.Seconds()),
		now.Format(time.RFC3339Nano),
	).Err()
}

// RecordApproval sets the approval flag; it does not expire.
func (l *RedisLedger) RecordApproval(ctx context.Context, familyID, userID, ruleID string) error {
	return l.client.Set(ctx, l.approvalKey(familyID, userID, ruleID),
		time.Now().UTC().Format(time.RFC3339Nano), 0).Err()
}

// Ping checks Redis connectivity.
func (l *RedisLedger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (l *RedisLedger) Close() error {
	return l.client.Close()
}

func (l *RedisLedger) baseKey(familyID, userID, ruleID string) string {
	return "latchkey:" + familyID + ":usage:" + userID + ":" + ruleID
}

func (l *RedisLedger) dayKey(familyID, userID, ruleID string, now time.Time) string {
	return l.baseKey(familyID, userID, ruleID) + ":day:" + now.Format("2006-01-02")
}

func (l *RedisLedger) weekKey(familyID, userID, ruleID string, now time.Time) string {
	year, week := now.ISOWeek()
	return fmt.Sprintf("%s:week:%d-%02d", l.baseKey(familyID, userID, ruleID), year, week)
}

func (l *RedisLedger) totalKey(familyID, userID, ruleID string) string {
	return l.baseKey(familyID, userID, ruleID) + ":total"
}

func (l *RedisLedger) lastKey(familyID, userID, ruleID string) string {
	return l.baseKey(familyID, userID, ruleID) + ":last"
}

func (l *RedisLedger) approvalKey(familyID, userID, ruleID string) string {
	return l.baseKey(familyID, userID, ruleID) + ":approved"
}

func intResult(cmd *redis.StringCmd) int {
	n, err := cmd.Int()
	if err != nil {
		return 0
	}
	return n
}
