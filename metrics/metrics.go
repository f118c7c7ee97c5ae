package metrics

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/op-harness/types"
)

const (
	MetricsNamespace = "op_harness"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "attempts_total",
		Help:      "Count of test attempts by outcome",
	}, []string{
		"run_id",
		"name",
		"status",
	})

	testsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "tests_total",
		Help:      "Count of final test outcomes",
	}, []string{
		"run_id",
		"status",
	})

	testDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "test_duration_seconds",
		Help:      "Duration of tests from dispatch to final teardown",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{
		"status",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Result of a run",
	}, []string{
		"run_id",
		"result",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Wall clock duration of a run",
	}, []string{
		"run_id",
	})

	activeEnvironments = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "active_environments",
		Help:      "Number of provisioned environments not yet released",
	})

	resourcesProvisioned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "resources_provisioned_total",
		Help:      "Count of resource provisioning attempts",
	}, []string{
		"kind",
		"result",
	})

	resourceProvisionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "resource_provision_seconds",
		Help:      "Time taken to bring a resource up",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{
		"kind",
	})

	teardownErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "teardown_errors_total",
		Help:      "Count of resources that failed to tear down cleanly",
	}, []string{
		"kind",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordAttempt(runID string, name string, status types.Status) {
	if !status.IsValid() {
		log.Error("RecordAttempt - invalid status", "status", status)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "attempts_total",
			"run_id", runID,
			"test", name,
			"status", status)
	}
	attemptsTotal.WithLabelValues(runID, name, string(status)).Inc()
}

func RecordTestResult(runID string, status types.Status, duration time.Duration) {
	if !status.IsValid() {
		log.Error("RecordTestResult - invalid status", "status", status)
		return
	}
	testsTotal.WithLabelValues(runID, string(status)).Inc()
	testDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}

func RecordRun(runID string, result string, duration time.Duration) {
	runResults.WithLabelValues(runID, result).Set(1)
	runDuration.WithLabelValues(runID).Set(duration.Seconds())
}

func RecordResourceProvisioned(kind types.ResourceKind, err error, duration time.Duration) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	resourcesProvisioned.WithLabelValues(string(kind), result).Inc()
	resourceProvisionDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
}

func RecordTeardownError(kind types.ResourceKind) {
	teardownErrorsTotal.WithLabelValues(string(kind)).Inc()
}

func EnvironmentAcquired() {
	activeEnvironments.Inc()
}

func EnvironmentReleased() {
	activeEnvironments.Dec()
}
