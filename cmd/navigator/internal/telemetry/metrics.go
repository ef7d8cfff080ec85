package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AuthMetrics holds counters for the identity pipeline. Instruments come from
// the global meter provider, so they are no-ops until one is installed.
type AuthMetrics struct {
	ProbeCounter metric.Int64Counter // edge probe outcomes
	SyncCounter  metric.Int64Counter // directory sync outcomes
	LoginCounter metric.Int64Counter // local login attempts
	StateCounter metric.Int64Counter // published session states
}

// NewAuthMetrics creates the identity pipeline instruments.
func NewAuthMetrics() (*AuthMetrics, error) {
	meter := otel.Meter("navigator/auth")

	probeCounter, err := meter.Int64Counter(
		"navigator.edge.probe.count",
		metric.WithDescription("Edge identity probe outcomes"),
		metric.WithUnit("{probe}"),
	)
	if err != nil {
		return nil, err
	}

	syncCounter, err := meter.Int64Counter(
		"navigator.directory.sync.count",
		metric.WithDescription("Directory synchronization outcomes"),
		metric.WithUnit("{sync}"),
	)
	if err != nil {
		return nil, err
	}

	loginCounter, err := meter.Int64Counter(
		"navigator.login.count",
		metric.WithDescription("Local login attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	stateCounter, err := meter.Int64Counter(
		"navigator.session.state.count",
		metric.WithDescription("Published session states"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	return &AuthMetrics{
		ProbeCounter: probeCounter,
		SyncCounter:  syncCounter,
		LoginCounter: loginCounter,
		StateCounter: stateCounter,
	}, nil
}

var (
	defaultMetrics     *AuthMetrics
	defaultMetricsOnce sync.Once
)

// Metrics returns the process-wide instruments, creating them on first use.
// Returns nil if instrument creation failed; Record* helpers accept nil.
func Metrics() *AuthMetrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewAuthMetrics()
		if err == nil {
			defaultMetrics = m
		}
	})
	return defaultMetrics
}

// RecordProbe counts an edge probe outcome.
func (m *AuthMetrics) RecordProbe(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.ProbeCounter.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrProbeOutcome, outcome)))
}

// RecordSync counts a directory sync outcome.
func (m *AuthMetrics) RecordSync(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.SyncCounter.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrSyncOutcome, outcome)))
}

// RecordLogin counts a local login attempt.
func (m *AuthMetrics) RecordLogin(ctx context.Context, success bool) {
	if m == nil {
		return
	}
	m.LoginCounter.Add(ctx, 1, metric.WithAttributes(attribute.Bool("login.success", success)))
}

// RecordState counts a published session state.
func (m *AuthMetrics) RecordState(ctx context.Context, state, mode string) {
	if m == nil {
		return
	}
	m.StateCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrSessionState, state),
		attribute.String(AttrAuthMode, mode),
	))
}
