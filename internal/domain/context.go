package domain

import "time"

// EvaluationContext is the immutable snapshot of one completed exercise
// attempt, produced by the grading subsystem. The engine never re-derives
// correctness or score itself.
type EvaluationContext struct {
	UserID string `json:"userId"`

	// Score in [0,100] as graded upstream
	Score float64 `json:"score"`

	Subject      string `json:"subject"`
	YearLevel    int    `json:"yearLevel,omitempty"`
	ExerciseType string `json:"exerciseType,omitempty"`
	Difficulty   string `json:"difficulty,omitempty"`

	// TimeTaken is the attempt duration in seconds
	TimeTaken int `json:"timeTaken"`

	CompletedAt time.Time `json:"completedAt"`
	IsCorrect   bool      `json:"isCorrect"`

	// CurrentStreak is the consecutive-completion streak (0 if unknown)
	CurrentStreak int `json:"currentStreak,omitempty"`

	// RecentPerformance holds past attempts, in any order; the engine
	// sorts chronologically before computing behavior trends.
	RecentPerformance []PerformanceEntry `json:"recentPerformance,omitempty"`

	TodayStats  *ActivityStats `json:"todayStats,omitempty"`
	WeeklyStats *WeeklyStats   `json:"weeklyStats,omitempty"`
}

// PerformanceEntry is one past attempt in the recent history.
type PerformanceEntry struct {
	Score     float64   `json:"score"`
	Subject   string    `json:"subject,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ActivityStats aggregates a single day of activity.
type ActivityStats struct {
	ExercisesCompleted int     `json:"exercisesCompleted"`
	MinutesEarned      int     `json:"minutesEarned"`
	AverageScore       float64 `json:"averageScore"`
}

// WeeklyStats aggregates the current week of activity.
type WeeklyStats struct {
	ExercisesCompleted int     `json:"exercisesCompleted"`
	MinutesEarned      int     `json:"minutesEarned"`
	AverageScore       float64 `json:"averageScore"`
	StreakDays         int     `json:"streakDays"`
}

// FieldTree projects the context onto a tree of named fields for the
// custom-condition path accessor. The projection is explicit so the set
// of reachable fields stays auditable.
func (c *EvaluationContext) FieldTree() map[string]any {
	tree := map[string]any{
		"userId":        c.UserID,
		"score":         c.Score,
		"subject":       c.Subject,
		"yearLevel":     float64(c.YearLevel),
		"exerciseType":  c.ExerciseType,
		"difficulty":    c.Difficulty,
		"timeTaken":     float64(c.TimeTaken),
		"completedAt":   c.CompletedAt,
		"isCorrect":     c.IsCorrect,
		"currentStreak": float64(c.CurrentStreak),
	}

	if len(c.RecentPerformance) > 0 {
		entries := make([]any, len(c.RecentPerformance))
		for i, p := range c.RecentPerformance {
			entries[i] = map[string]any{
				"score":     p.Score,
				"subject":   p.Subject,
				"timestamp": p.Timestamp,
			}
		}
		tree["recentPerformance"] = entries
	}

	if c.TodayStats != nil {
		tree["todayStats"] = map[string]any{
			"exercisesCompleted": float64(c.TodayStats.ExercisesCompleted),
			"minutesEarned":      float64(c.TodayStats.MinutesEarned),
			"averageScore":       c.TodayStats.AverageScore,
		}
	}

	if c.WeeklyStats != nil {
		tree["weeklyStats"] = map[string]any{
			"exercisesCompleted": float64(c.WeeklyStats.ExercisesCompleted),
			"minutesEarned":      float64(c.WeeklyStats.MinutesEarned),
			"averageScore":       c.WeeklyStats.AverageScore,
			"streakDays":         float64(c.WeeklyStats.StreakDays),
		}
	}

	return tree
}

// Attempt is a persisted evaluation context, stored so the engine can
// hydrate recent-performance history and so parents can audit grants.
type Attempt struct {
	ID       string `json:"id"`
	FamilyID string `json:"familyId"`

	Context EvaluationContext `json:"context"`

	CreatedAt time.Time `json:"createdAt"`
}

// UnlockEvaluationRequest asks the engine to evaluate one graded attempt.
type UnlockEvaluationRequest struct {
	UserID  string            `json:"userId"`
	Context EvaluationContext `json:"context"`

	// RuleIDs, if present, restricts evaluation to that explicit subset
	// (still subject to the active/date/scope filter).
	RuleIDs []string `json:"rules,omitempty"`
}
