package telemetry_test

import (
	"context"
	"testing"

	"github.com/abates/network-lab-runner/internal/telemetry"
)

func TestSetupTracing(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
	}{
		{"disabled", ""},
		// Non-routable, so nothing is exported before shutdown.
		{"enabled", "http://192.0.2.1:4318"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := telemetry.SetupTracing(context.Background(), "labfixtures-test", tt.endpoint)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err := shutdown(context.Background()); err != nil {
				t.Fatalf("shutdown error: %v", err)
			}
		})
	}
}

func TestSetupTracing_NoopIgnoresCancelledContext(t *testing.T) {
	shutdown, err := telemetry.SetupTracing(context.Background(), "labfixtures-test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := shutdown(ctx); err != nil {
		t.Errorf("noop shutdown should not error: %v", err)
	}
}
