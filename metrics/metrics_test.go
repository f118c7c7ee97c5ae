package metrics

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/ethereum-optimism/op-harness/types"
)

func TestErrToLabel(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{
			name: "nil error",
			err:  nil,
		},
		{
			name: "simple error",
			err:  errors.New("test error"),
		},
		{
			name: "error with special chars",
			err:  errors.New("test@error#123"),
		},
		{
			name: "error with multiple spaces",
			err:  errors.New("test   error"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := errToLabel(tt.err)
			validLabelRegex := regexp.MustCompile(`[a-zA-Z_][a-zA-Z0-9_]*`)
			if !validLabelRegex.MatchString(result) {
				t.Errorf("errLabel() = %v, is not a valid Prometheus label", result)
			}
		})
	}
}

func TestRecordError(t *testing.T) {
	// just test that it doesn't panic
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("RecordError panic'd")
		}
	}()

	RecordError("test_error")
	RecordErrorDetails("test", nil)
	RecordErrorDetails("test", errors.New("sample error"))
}

func TestRecordAttempt(t *testing.T) {
	before := testutil.ToFloat64(attemptsTotal.WithLabelValues("run1", "a", "failed"))
	RecordAttempt("run1", "a", types.StatusFailed)
	RecordAttempt("run1", "a", types.StatusFailed)
	RecordAttempt("run1", "a", types.Status("bogus"))

	assert.Equal(t, before+2, testutil.ToFloat64(attemptsTotal.WithLabelValues("run1", "a", "failed")))
}

func TestRecordTestResultAndRun(t *testing.T) {
	RecordTestResult("run2", types.StatusPassed, time.Second)
	RecordTestResult("run2", types.StatusTimedOut, 2*time.Second)
	RecordRun("run2", "fail", 3*time.Second)

	assert.Equal(t, float64(1), testutil.ToFloat64(testsTotal.WithLabelValues("run2", "passed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(runResults.WithLabelValues("run2", "fail")))
	assert.Equal(t, float64(3), testutil.ToFloat64(runDuration.WithLabelValues("run2")))
}

func TestEnvironmentGauge(t *testing.T) {
	before := testutil.ToFloat64(activeEnvironments)
	EnvironmentAcquired()
	EnvironmentAcquired()
	EnvironmentReleased()
	assert.Equal(t, before+1, testutil.ToFloat64(activeEnvironments))
	EnvironmentReleased()

	RecordResourceProvisioned(types.ResourceRedis, nil, time.Millisecond)
	RecordResourceProvisioned(types.ResourceRedis, errors.New("boom"), time.Millisecond)
	RecordTeardownError(types.ResourceProcess)
	assert.Equal(t, float64(1), testutil.ToFloat64(teardownErrorsTotal.WithLabelValues("process")))
}
