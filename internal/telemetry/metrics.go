// Package telemetry exposes the service's security counters through an
// OpenTelemetry meter. Counting is best-effort: instrument creation can fail,
// recording cannot.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the counters the auth surfaces increment.
type Metrics struct {
	loginsSucceeded metric.Int64Counter
	loginsDenied    metric.Int64Counter
	lockouts        metric.Int64Counter
	sessionsCreated metric.Int64Counter
	sessionsRevoked metric.Int64Counter
	mfaFailures     metric.Int64Counter
	csrfRejections  metric.Int64Counter
	gateDenials     metric.Int64Counter
}

// NewMetrics creates the instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.loginsSucceeded, err = meter.Int64Counter("auth.logins.succeeded"); err != nil {
		return nil, err
	}
	if m.loginsDenied, err = meter.Int64Counter("auth.logins.denied"); err != nil {
		return nil, err
	}
	if m.lockouts, err = meter.Int64Counter("auth.lockouts"); err != nil {
		return nil, err
	}
	if m.sessionsCreated, err = meter.Int64Counter("auth.sessions.created"); err != nil {
		return nil, err
	}
	if m.sessionsRevoked, err = meter.Int64Counter("auth.sessions.revoked"); err != nil {
		return nil, err
	}
	if m.mfaFailures, err = meter.Int64Counter("auth.mfa.failures"); err != nil {
		return nil, err
	}
	if m.csrfRejections, err = meter.Int64Counter("auth.csrf.rejections"); err != nil {
		return nil, err
	}
	if m.gateDenials, err = meter.Int64Counter("auth.gate.denials"); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) LoginSucceeded(ctx context.Context) {
	if m != nil {
		m.loginsSucceeded.Add(ctx, 1)
	}
}

// LoginDenied counts a rejected login; reason is a low-cardinality label such
// as invalid_credentials or locked.
func (m *Metrics) LoginDenied(ctx context.Context, reason string) {
	if m != nil {
		m.loginsDenied.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

func (m *Metrics) Lockout(ctx context.Context) {
	if m != nil {
		m.lockouts.Add(ctx, 1)
	}
}

func (m *Metrics) SessionCreated(ctx context.Context) {
	if m != nil {
		m.sessionsCreated.Add(ctx, 1)
	}
}

func (m *Metrics) SessionRevoked(ctx context.Context, reason string) {
	if m != nil {
		m.sessionsRevoked.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

func (m *Metrics) MFAFailure(ctx context.Context) {
	if m != nil {
		m.mfaFailures.Add(ctx, 1)
	}
}

func (m *Metrics) CSRFRejected(ctx context.Context) {
	if m != nil {
		m.csrfRejections.Add(ctx, 1)
	}
}

// GateDenial counts a request blocked by the auth gate, labeled with the
// machine-readable error code.
func (m *Metrics) GateDenial(ctx context.Context, code string) {
	if m != nil {
		m.gateDenials.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
	}
}
