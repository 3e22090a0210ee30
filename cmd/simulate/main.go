// Simulation tool for exercising Latchkey with synthetic graded attempts.
//
// Usage:
//   go run cmd/simulate/main.go -url http://localhost:8080 -count 1000
//
// This tool:
//   1. Generates synthetic graded exercise attempts across users/subjects
//   2. Sends each attempt to Latchkey for evaluation
//   3. Tracks trigger rates, granted minutes, limit blocks, and latency
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// AttemptRequest is the Latchkey API request format.
type AttemptRequest struct {
	UserID  string  `json:"userId"`
	Context Context `json:"context"`
}

// Context is the graded attempt snapshot.
type Context struct {
	UserID       string    `json:"userId"`
	Score        float64   `json:"score"`
	Subject      string    `json:"subject"`
	YearLevel    int       `json:"yearLevel,omitempty"`
	ExerciseType string    `json:"exerciseType,omitempty"`
	Difficulty   string    `json:"difficulty,omitempty"`
	TimeTaken    int       `json:"timeTaken"`
	CompletedAt  time.Time `json:"completedAt"`
	IsCorrect    bool      `json:"isCorrect"`
}

// EvaluateResponse is the subset of the Latchkey response we track.
type EvaluateResponse struct {
	EvaluationID       string `json:"evaluationId"`
	TotalUnlockMinutes int    `json:"totalUnlockMinutes"`
	TotalBonusMinutes  int    `json:"totalBonusMinutes"`
	Summary            struct {
		RulesEvaluated int `json:"rulesEvaluated"`
		RulesTriggered int `json:"rulesTriggered"`
		RulesBlocked   int `json:"rulesBlocked"`
	} `json:"summary"`
}

// Metrics tracks simulation results.
type Metrics struct {
	TotalProcessed int64
	TotalErrors    int64

	Granted        int64 // attempts that earned minutes
	NoGrant        int64
	TotalMinutes   int64
	TotalBonus     int64
	RulesTriggered int64
	RulesBlocked   int64

	ProcessingTimeMs int64
}

var subjects = []string{"math", "reading", "science", "spelling", "history"}
var exerciseTypes = []string{"quiz", "practice", "homework", "challenge"}
var difficulties = []string{"easy", "medium", "hard"}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Latchkey base URL")
	familyID := flag.String("family", "simulation-family", "Family ID for requests")
	users := flag.Int("users", 4, "Number of simulated learners")
	count := flag.Int("count", 1000, "Number of attempts to send")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	verbose := flag.Bool("verbose", false, "Print each attempt result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          LATCHKEY SIMULATION - Synthetic Attempts             ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nLatchkey URL: %s\n", *baseURL)
	fmt.Printf("Family ID:    %s\n", *familyID)
	fmt.Printf("Users:        %d\n", *users)
	fmt.Printf("Attempts:     %d\n", *count)
	fmt.Printf("Workers:      %d\n", *workers)
	fmt.Printf("Seed:         %d\n", *seed)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Latchkey not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Latchkey is running:")
		fmt.Println("  go run cmd/latchkey/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Latchkey is healthy")

	rng := rand.New(rand.NewSource(*seed))
	attempts := make([]AttemptRequest, *count)
	for i := range attempts {
		attempts[i] = randomAttempt(rng, *users)
	}
	fmt.Printf("✓ Generated %d attempts\n", len(attempts))

	fmt.Printf("\nRunning simulation with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runSimulation(attempts, *baseURL, *familyID, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// randomAttempt produces a plausible graded attempt. Scores skew high
// so grant paths get exercised; a tail of low scores keeps the
// no-grant path covered too.
func randomAttempt(rng *rand.Rand, users int) AttemptRequest {
	userID := fmt.Sprintf("child-%03d", rng.Intn(users)+1)

	score := 60 + rng.Float64()*40
	if rng.Float64() < 0.2 {
		score = rng.Float64() * 60
	}

	return AttemptRequest{
		UserID: userID,
		Context: Context{
			UserID:       userID,
			Score:        float64(int(score*10)) / 10,
			Subject:      subjects[rng.Intn(len(subjects))],
			YearLevel:    3 + rng.Intn(6),
			ExerciseType: exerciseTypes[rng.Intn(len(exerciseTypes))],
			Difficulty:   difficulties[rng.Intn(len(difficulties))],
			TimeTaken:    60 + rng.Intn(540),
			CompletedAt:  time.Now().UTC().Add(-time.Duration(rng.Intn(3600)) * time.Second),
			IsCorrect:    score >= 50,
		},
	}
}

func runSimulation(attempts []AttemptRequest, baseURL, familyID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan AttemptRequest, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for attempt := range work {
				start := time.Now()
				result, err := evaluateAttempt(client, baseURL, familyID, attempt)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", attempt.UserID, err)
					}
					continue
				}

				if result.TotalUnlockMinutes > 0 {
					atomic.AddInt64(&metrics.Granted, 1)
					atomic.AddInt64(&metrics.TotalMinutes, int64(result.TotalUnlockMinutes))
					atomic.AddInt64(&metrics.TotalBonus, int64(result.TotalBonusMinutes))
				} else {
					atomic.AddInt64(&metrics.NoGrant, 1)
				}
				atomic.AddInt64(&metrics.RulesTriggered, int64(result.Summary.RulesTriggered))
				atomic.AddInt64(&metrics.RulesBlocked, int64(result.Summary.RulesBlocked))

				if verbose {
					fmt.Printf("%-10s | %-8s | score %5.1f | %2d min | triggered %d | blocked %d\n",
						attempt.UserID,
						attempt.Context.Subject,
						attempt.Context.Score,
						result.TotalUnlockMinutes,
						result.Summary.RulesTriggered,
						result.Summary.RulesBlocked,
					)
				}
			}
		}()
	}

	for _, attempt := range attempts {
		work <- attempt
	}
	close(work)

	wg.Wait()

	return metrics
}

func evaluateAttempt(client *http.Client, baseURL, familyID string, attempt AttemptRequest) (*EvaluateResponse, error) {
	body, err := json.Marshal(attempt)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Family-ID", familyID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result EvaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                     SIMULATION RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 ATTEMPTS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n🔓 GRANTS\n")
	fmt.Printf("   Granted:          %d\n", m.Granted)
	fmt.Printf("   No Grant:         %d\n", m.NoGrant)
	if m.Granted+m.NoGrant > 0 {
		rate := float64(m.Granted) / float64(m.Granted+m.NoGrant) * 100
		fmt.Printf("   Grant Rate:       %.2f%%\n", rate)
	}
	fmt.Printf("   Minutes Granted:  %d (+%d bonus)\n", m.TotalMinutes, m.TotalBonus)
	fmt.Printf("   Rules Triggered:  %d\n", m.RulesTriggered)
	fmt.Printf("   Rules Blocked:    %d (by usage limits)\n", m.RulesBlocked)

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		rps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f attempts/sec\n", rps)
	}

	fmt.Println()
}
