package telemetry

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	sums := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			sums[m.Name] = total
		}
	}
	return sums
}

func TestMetrics_Counters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	ctx := context.Background()
	m.LoginSucceeded(ctx)
	m.LoginDenied(ctx, "invalid_credentials")
	m.LoginDenied(ctx, "locked")
	m.SessionCreated(ctx)
	m.SessionRevoked(ctx, "logout")
	m.MFAFailure(ctx)
	m.GateDenial(ctx, "MFA_REQUIRED")

	sums := collect(t, reader)
	want := map[string]int64{
		"auth.logins.succeeded": 1,
		"auth.logins.denied":    2,
		"auth.sessions.created": 1,
		"auth.sessions.revoked": 1,
		"auth.mfa.failures":     1,
		"auth.gate.denials":     1,
	}
	for name, n := range want {
		if sums[name] != n {
			t.Errorf("%s = %d, want %d", name, sums[name], n)
		}
	}
}

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.LoginSucceeded(context.Background())
	m.SessionRevoked(context.Background(), "logout")
}
