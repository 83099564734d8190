package telemetry_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"rolegate/internal/platform/telemetry"
)

func TestSetupAndShutdown(t *testing.T) {
	shutdown, err := telemetry.Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}

func TestMetricsHandler(t *testing.T) {
	shutdown, err := telemetry.Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	defer shutdown(context.Background())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	telemetry.MetricsHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *telemetry.GatewayMetrics
	ctx := context.Background()

	// none of these may panic
	m.RecordHTTPRequest(ctx, "GET", "/", 200, 0.01)
	m.RecordAuthValidation(ctx, "success")
	m.RecordAuthzDecision(ctx, "invoices.list", "allowed", "none")
	m.RecordJWKSRefresh(ctx, "success")
	m.RecordRateLimitDecision(ctx, "ip", "allowed")
	m.RecordProxyRequest(ctx, "invoices", 200, 0.01)
}

func TestGatewayMetrics(t *testing.T) {
	shutdown, err := telemetry.Setup(context.Background(), "rolegate")
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	defer shutdown(context.Background())

	m, err := telemetry.NewGatewayMetrics()
	if err != nil {
		t.Fatalf("NewGatewayMetrics failed: %v", err)
	}

	ctx := context.Background()
	m.RecordHTTPRequest(ctx, "GET", "/v1/invoices/", 200, 0.05)
	m.RecordAuthValidation(ctx, "success")
	m.RecordAuthzDecision(ctx, "invoices.void", "denied", "insufficient_role")
	m.RecordJWKSRefresh(ctx, "success")
	m.RecordRateLimitDecision(ctx, "principal", "allowed")
	m.RecordProxyRequest(ctx, "invoices", 200, 0.1)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	telemetry.MetricsHandler().ServeHTTP(rec, req)

	body, _ := io.ReadAll(rec.Body)
	output := string(body)

	expected := []string{
		"rolegate_http_requests_total",
		"rolegate_http_request_duration_seconds",
		"rolegate_auth_validations_total",
		"rolegate_authz_decisions_total",
		"rolegate_jwks_refreshes_total",
		"rolegate_ratelimit_decisions_total",
		"rolegate_proxy_requests_total",
		"rolegate_proxy_duration_seconds",
	}
	for _, metric := range expected {
		if !strings.Contains(output, metric) {
			t.Errorf("metrics output missing %q", metric)
		}
	}
}
