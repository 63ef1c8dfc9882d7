package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Gate decisions recorded by RecordGateDecision
const (
	DecisionProceed  = "proceed"
	DecisionRedirect = "redirect"
	DecisionError    = "error"
	DecisionPass     = "pass"
	DecisionReject   = "reject"
)

// Metrics holds all metric instruments. Every Record method is safe on a
// nil *Metrics.
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Gate Metrics
	GateDecisions metric.Int64Counter

	// Session Lifecycle Metrics
	SessionGrants         metric.Int64Counter
	SessionUninstalls     metric.Int64Counter
	SessionInvalidations  metric.Int64Counter
	SessionCorruptRecords metric.Int64Counter

	// Webhook Metrics
	WebhookReceived metric.Int64Counter

	// Security Metrics
	RateLimitExceeded metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageRecords           metric.Int64ObservableGauge
	StorageActiveRecords     metric.Int64ObservableGauge

	// Proxy Metrics
	ProxyRequestsTotal   metric.Int64Counter
	ProxyRequestDuration metric.Float64Histogram
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	gateMeter := inst.Meter("gate")
	sessionMeter := inst.Meter("session")
	webhookMeter := inst.Meter("webhook")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")
	proxyMeter := inst.Meter("proxy")

	var err error

	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"storegate.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"storegate.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.GateDecisions, err = gateMeter.Int64Counter(
		"storegate.gate.decisions",
		metric.WithDescription("Request gate outcomes"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gate.decisions counter: %w", err)
	}

	m.SessionGrants, err = sessionMeter.Int64Counter(
		"storegate.session.grants",
		metric.WithDescription("Credential grants received from the OAuth engine"),
		metric.WithUnit("{grant}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session.grants counter: %w", err)
	}

	m.SessionUninstalls, err = sessionMeter.Int64Counter(
		"storegate.session.uninstalls",
		metric.WithDescription("Tenant uninstall transitions"),
		metric.WithUnit("{uninstall}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session.uninstalls counter: %w", err)
	}

	m.SessionInvalidations, err = sessionMeter.Int64Counter(
		"storegate.session.invalidations",
		metric.WithDescription("Administrative credential deletions"),
		metric.WithUnit("{invalidation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session.invalidations counter: %w", err)
	}

	m.SessionCorruptRecords, err = sessionMeter.Int64Counter(
		"storegate.session.corrupt_records",
		metric.WithDescription("Stored payloads that failed to decode"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session.corrupt_records counter: %w", err)
	}

	m.WebhookReceived, err = webhookMeter.Int64Counter(
		"storegate.webhook.received",
		metric.WithDescription("Webhook notifications received"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook.received counter: %w", err)
	}

	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"storegate.rate_limit.exceeded",
		metric.WithDescription("Number of rate limit violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"storegate.storage.operations.total",
		metric.WithDescription("Total credential store operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operations.total counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"storegate.storage.operations.duration",
		metric.WithDescription("Credential store operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operations.duration histogram: %w", err)
	}

	m.StorageRecords, err = storageMeter.Int64ObservableGauge(
		"storegate.storage.records",
		metric.WithDescription("Stored credential records"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.records gauge: %w", err)
	}

	m.StorageActiveRecords, err = storageMeter.Int64ObservableGauge(
		"storegate.storage.active_records",
		metric.WithDescription("Active credential records"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.active_records gauge: %w", err)
	}

	m.ProxyRequestsTotal, err = proxyMeter.Int64Counter(
		"storegate.proxy.requests.total",
		metric.WithDescription("Upstream API calls"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy.requests.total counter: %w", err)
	}

	m.ProxyRequestDuration, err = proxyMeter.Float64Histogram(
		"storegate.proxy.requests.duration",
		metric.WithDescription("Upstream API call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy.requests.duration histogram: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with its outcome
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
}

// RecordGateDecision records one of the Decision* outcomes
func (m *Metrics) RecordGateDecision(ctx context.Context, decision string) {
	if m == nil {
		return
	}
	m.GateDecisions.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", decision)))
}

// RecordGrant records a grant of the given credential kind;
// result is "stored", "unchanged" or "error".
func (m *Metrics) RecordGrant(ctx context.Context, kind, result string) {
	if m == nil {
		return
	}
	m.SessionGrants.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("result", result),
	))
}

// RecordUninstall records an uninstall; noop is true when nothing was active
func (m *Metrics) RecordUninstall(ctx context.Context, noop bool) {
	if m == nil {
		return
	}
	m.SessionUninstalls.Add(ctx, 1, metric.WithAttributes(attribute.Bool("noop", noop)))
}

// RecordInvalidation records an administrative deletion
func (m *Metrics) RecordInvalidation(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.SessionInvalidations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordCorruptRecord records a payload decode failure
func (m *Metrics) RecordCorruptRecord(ctx context.Context) {
	if m == nil {
		return
	}
	m.SessionCorruptRecords.Add(ctx, 1)
}

// RecordWebhook records a received notification by canonical topic and result
func (m *Metrics) RecordWebhook(ctx context.Context, topic, result string) {
	if m == nil {
		return
	}
	m.WebhookReceived.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("result", result),
	))
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, backend, operation, result string, durationMs float64) {
	if m == nil {
		return
	}
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("operation", operation),
	))
}

// RecordProxyRequest records an upstream call; outcome is "ok", "rejected",
// "unavailable" or "status".
func (m *Metrics) RecordProxyRequest(ctx context.Context, operation, outcome string, durationMs float64) {
	if m == nil {
		return
	}
	m.ProxyRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
	m.ProxyRequestDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
