package instrumentation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys.
//
// Never attach token values to spans. Tenants (shop domains) are not secret;
// credential ids of online tokens embed a platform user id and are hashed
// or truncated before use.
const (
	AttrTenant         = "storegate.tenant"
	AttrCredentialKind = "storegate.credential.kind"
	AttrSequence       = "storegate.credential.sequence"
	AttrWebhookTopic   = "storegate.webhook.topic"
	AttrGateDecision   = "storegate.gate.decision"

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageType      = "storage.type"

	// Proxy attributes
	AttrProxyOperation = "proxy.operation"
	AttrProxyStatus    = "proxy.status"
	AttrProxyOutcome   = "proxy.outcome"

	// Security attributes
	AttrClientIP       = "security.client_ip"
	AttrAuditEventType = "security.audit.event_type"

	// HTTP attributes (in addition to standard semantic conventions)
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanError marks a span as failed with a message (nil-safe)
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddTenantAttributes tags a span with the tenant it concerns (nil-safe)
func AddTenantAttributes(span trace.Span, tenant string) {
	if tenant != "" {
		SetSpanAttributes(span, attribute.String(AttrTenant, tenant))
	}
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe)
func AddStorageAttributes(span trace.Span, operation, storageType string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
}

// AddProxyAttributes adds upstream call attributes to a span (nil-safe)
func AddProxyAttributes(span trace.Span, operation string, status int, outcome string) {
	SetSpanAttributes(span,
		attribute.String(AttrProxyOperation, operation),
		attribute.Int(AttrProxyStatus, status),
		attribute.String(AttrProxyOutcome, outcome),
	)
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe)
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}

// AddSecurityAttributes adds the client IP to a span (nil-safe).
// Callers must check ShouldLogClientIPs first.
func AddSecurityAttributes(span trace.Span, clientIP string) {
	if clientIP != "" {
		SetSpanAttributes(span, attribute.String(AttrClientIP, clientIP))
	}
}

// StorageRecorder opens a storage.<operation> span and records the
// operation count and duration for one credential store backend.
// A nil *StorageRecorder, or one built from nil instrumentation, does nothing.
type StorageRecorder struct {
	inst    *Instrumentation
	tracer  trace.Tracer
	backend string
}

// NewStorageRecorder returns a recorder for the named backend ("memory", "sqlite", "valkey").
func NewStorageRecorder(inst *Instrumentation, backend string) *StorageRecorder {
	r := &StorageRecorder{inst: inst, backend: backend}
	if inst != nil {
		r.tracer = inst.Tracer("storage")
	}
	return r
}

// Start begins an operation. The returned func must be called exactly once
// with the operation's final error.
func (r *StorageRecorder) Start(ctx context.Context, operation string) (context.Context, func(error)) {
	if r == nil || r.tracer == nil {
		return ctx, func(error) {}
	}

	startTime := time.Now()
	ctx, span := r.tracer.Start(ctx, "storage."+operation)
	AddStorageAttributes(span, operation, r.backend)

	return ctx, func(err error) {
		defer span.End()

		result := "success"
		if err != nil {
			result = "error"
			RecordError(span, err)
		} else {
			SetSpanSuccess(span)
		}
		SetSpanAttributes(span, attribute.String(AttrStorageResult, result))

		durationMs := float64(time.Since(startTime).Microseconds()) / 1000
		r.inst.Metrics().RecordStorageOperation(ctx, r.backend, operation, result, durationMs)
	}
}
