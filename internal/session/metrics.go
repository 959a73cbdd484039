package session

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "leaplint"
	metricsSubsystem = "session"
)

type metrics struct {
	runsStarted      prometheus.Counter
	runsApplied      prometheus.Counter
	runsSuppressed   prometheus.Counter
	staleResults     prometheus.Counter
	invocationErrors prometheus.Counter
	runDuration      prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "runs_started_total",
			Help:      "Lint invocations started.",
		}),
		runsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "runs_applied_total",
			Help:      "Lint results applied to the session.",
		}),
		runsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "runs_suppressed_total",
			Help:      "Lint runs skipped because the engine requires input.",
		}),
		staleResults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "stale_results_total",
			Help:      "Lint results discarded because a newer run superseded them.",
		}),
		invocationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "invocation_errors_total",
			Help:      "Engine calls that failed or panicked.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "run_duration_seconds",
			Help:      "Time from invocation to completion of a lint run.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.runsStarted, err = register(reg, m.runsStarted); err != nil {
		return nil, err
	}
	if m.runsApplied, err = register(reg, m.runsApplied); err != nil {
		return nil, err
	}
	if m.runsSuppressed, err = register(reg, m.runsSuppressed); err != nil {
		return nil, err
	}
	if m.staleResults, err = register(reg, m.staleResults); err != nil {
		return nil, err
	}
	if m.invocationErrors, err = register(reg, m.invocationErrors); err != nil {
		return nil, err
	}
	if m.runDuration, err = register(reg, m.runDuration); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg. A collector left behind by an earlier session on
// the same registry is reused so counts survive a reload.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var alreadyErr prometheus.AlreadyRegisteredError
		if errors.As(err, &alreadyErr) {
			if existing, ok := alreadyErr.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("failed to register session metrics: %w", err)
	}
	return c, nil
}
