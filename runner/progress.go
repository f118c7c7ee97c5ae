package runner

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/op-harness/types"
)

// ProgressIndicator interface for UI updates
type ProgressIndicator interface {
	StartRun(runID string, totalTests int)
	StartTest(testName string)
	RetryTest(testName string, attempt int, delay time.Duration)
	CompleteTest(testName string, status types.Status)
	CompleteRun(runID string)
}

// noOpProgressIndicator provides a no-op implementation of ProgressIndicator
type noOpProgressIndicator struct{}

// NewNoOpProgressIndicator creates a progress indicator that does nothing
func NewNoOpProgressIndicator() ProgressIndicator {
	return &noOpProgressIndicator{}
}

func (n *noOpProgressIndicator) StartRun(runID string, totalTests int)                       {}
func (n *noOpProgressIndicator) StartTest(testName string)                                   {}
func (n *noOpProgressIndicator) RetryTest(testName string, attempt int, delay time.Duration) {}
func (n *noOpProgressIndicator) CompleteTest(testName string, status types.Status)           {}
func (n *noOpProgressIndicator) CompleteRun(runID string)                                    {}

// consoleProgressIndicator periodically logs how far a run has progressed
type consoleProgressIndicator struct {
	logger log.Logger
	ticker *time.Ticker
	stopCh chan struct{}
	mu     sync.RWMutex

	runID          string
	completedTests int
	totalTests     int
	runStartTime   time.Time
	statuses       map[types.Status]int

	// Track currently running tests
	runningTests map[string]time.Time // test name -> start time
}

// NewConsoleProgressIndicator creates a progress indicator that shows updates in the console.
// Updates stop once the run completes.
func NewConsoleProgressIndicator(logger log.Logger, updateInterval time.Duration) ProgressIndicator {
	if updateInterval == 0 {
		updateInterval = DefaultProgressInterval
	}

	indicator := &consoleProgressIndicator{
		logger:       logger,
		ticker:       time.NewTicker(updateInterval),
		stopCh:       make(chan struct{}),
		runningTests: make(map[string]time.Time),
		statuses:     make(map[types.Status]int),
	}

	go indicator.progressReporter()

	return indicator
}

func (c *consoleProgressIndicator) StartRun(runID string, totalTests int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.runID = runID
	c.totalTests = totalTests
	c.completedTests = 0
	c.runStartTime = time.Now()
	c.runningTests = make(map[string]time.Time)
	c.statuses = make(map[types.Status]int)

	c.logger.Info("Starting run", "runID", runID, "totalTests", totalTests)
}

// StartTest tracks when a test starts running
func (c *consoleProgressIndicator) StartTest(testName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.runningTests[testName] = time.Now()
	c.logger.Debug("Test started", "test", testName, "runningTests", len(c.runningTests))
}

func (c *consoleProgressIndicator) RetryTest(testName string, attempt int, delay time.Duration) {
	c.logger.Info("Retrying test", "test", testName, "attempt", attempt, "delay", delay)
}

func (c *consoleProgressIndicator) CompleteTest(testName string, status types.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.runningTests, testName)
	c.completedTests++
	c.statuses[status]++

	// Log individual test completion at debug level to avoid spam
	c.logger.Debug("Test completed", "test", testName, "status", status, "completed", c.completedTests, "total", c.totalTests, "runningTests", len(c.runningTests))
}

func (c *consoleProgressIndicator) CompleteRun(runID string) {
	c.mu.Lock()
	duration := time.Since(c.runStartTime).Truncate(time.Millisecond)
	c.logger.Info("Completed run", "runID", runID, "totalTests", c.totalTests, "completed", c.completedTests, "duration", duration)
	c.runningTests = make(map[string]time.Time)
	c.mu.Unlock()

	c.Stop()
}

// progressReporter runs in a goroutine and periodically reports progress
func (c *consoleProgressIndicator) progressReporter() {
	for {
		select {
		case <-c.ticker.C:
			c.reportProgress()
		case <-c.stopCh:
			return
		}
	}
}

func (c *consoleProgressIndicator) reportProgress() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// A tick may still be pending after Stop
	select {
	case <-c.stopCh:
		return
	default:
	}

	var percentComplete float64
	if c.totalTests > 0 {
		percentComplete = float64(c.completedTests) * 100.0 / float64(c.totalTests)
	}

	c.logger.Info("Progress update",
		"runID", c.runID,
		"completed", c.completedTests,
		"total", c.totalTests,
		"percent", fmt.Sprintf("%.1f%%", percentComplete),
		"passed", c.statuses[types.StatusPassed],
		"failed", c.statuses[types.StatusFailed]+c.statuses[types.StatusTimedOut],
		"numRunning", len(c.runningTests),
		"longestRunning", formatRunningTests(c.runningTests, 3),
	)
}

// Stop stops the progress indicator. It is safe to call more than once.
func (c *consoleProgressIndicator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.stopCh:
		return
	default:
	}
	c.ticker.Stop()
	close(c.stopCh)
}

// formatRunningTests formats the longest running tests into a display string
func formatRunningTests(runningTests map[string]time.Time, maxShow int) string {
	if len(runningTests) == 0 {
		return ""
	}

	type runningTest struct {
		name     string
		duration time.Duration
	}

	var running []runningTest
	now := time.Now()
	for testName, startTime := range runningTests {
		running = append(running, runningTest{
			name:     testName,
			duration: now.Sub(startTime),
		})
	}

	// Longest running first, name breaks ties
	sort.Slice(running, func(i, j int) bool {
		if running[i].duration == running[j].duration {
			return running[i].name < running[j].name
		}
		return running[i].duration > running[j].duration
	})

	var runningStrs []string
	for i, test := range running {
		if i >= maxShow {
			break
		}
		runningStrs = append(runningStrs, fmt.Sprintf("%s (%v)", test.name, test.duration.Truncate(time.Second)))
	}
	if len(running) > maxShow {
		runningStrs = append(runningStrs, fmt.Sprintf("+%d more", len(running)-maxShow))
	}

	return strings.Join(runningStrs, ", ")
}
