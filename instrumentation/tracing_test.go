package instrumentation

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer() (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	sr := tracetest.NewSpanRecorder()
	return sr, sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
}

func TestRecordError(t *testing.T) {
	sr, tp := newRecordingTracer()
	_, span := tp.Tracer("test").Start(context.Background(), "op")
	RecordError(span, errors.New("boom"))
	span.End()

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	if ended[0].Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", ended[0].Status().Code)
	}
}

func TestSetSpanSuccess(t *testing.T) {
	sr, tp := newRecordingTracer()
	_, span := tp.Tracer("test").Start(context.Background(), "op")
	SetSpanSuccess(span)
	span.End()

	if got := sr.Ended()[0].Status().Code; got != codes.Ok {
		t.Errorf("status = %v, want Ok", got)
	}
}

func TestAttributeHelpers(t *testing.T) {
	sr, tp := newRecordingTracer()
	_, span := tp.Tracer("test").Start(context.Background(), "op")
	AddTenantAttributes(span, "shop1.myshopify.com")
	AddStorageAttributes(span, "put", "sqlite")
	AddProxyAttributes(span, "rest", 401, "rejected")
	AddHTTPAttributes(span, "GET", "/api/products/count", 200)
	AddSecurityAttributes(span, "192.0.2.1")
	span.End()

	got := map[attribute.Key]attribute.Value{}
	for _, kv := range sr.Ended()[0].Attributes() {
		got[kv.Key] = kv.Value
	}

	want := map[string]string{
		AttrTenant:           "shop1.myshopify.com",
		AttrStorageOperation: "put",
		AttrStorageType:      "sqlite",
		AttrProxyOutcome:     "rejected",
		AttrHTTPMethod:       "GET",
		AttrClientIP:         "192.0.2.1",
	}
	for k, v := range want {
		if got[attribute.Key(k)].AsString() != v {
			t.Errorf("attribute %s = %q, want %q", k, got[attribute.Key(k)].AsString(), v)
		}
	}
	if got[attribute.Key(AttrProxyStatus)].AsInt64() != 401 {
		t.Errorf("attribute %s = %v, want 401", AttrProxyStatus, got[attribute.Key(AttrProxyStatus)])
	}
}

func TestNilSafeHelpers_WithNilSpans(t *testing.T) {
	RecordError(nil, errors.New("boom"))
	SetSpanSuccess(nil)
	SetSpanAttributes(nil, attribute.String("k", "v"))
	AddTenantAttributes(nil, "shop1.myshopify.com")
	AddStorageAttributes(nil, "put", "memory")
	AddProxyAttributes(nil, "rest", 200, "ok")
	AddHTTPAttributes(nil, "GET", "/", 200)
	AddSecurityAttributes(nil, "192.0.2.1")
}

func TestAddTenantAttributes_EmptyTenantSkipped(t *testing.T) {
	sr, tp := newRecordingTracer()
	_, span := tp.Tracer("test").Start(context.Background(), "op")
	AddTenantAttributes(span, "")
	span.End()

	if n := len(sr.Ended()[0].Attributes()); n != 0 {
		t.Errorf("attributes = %d, want 0", n)
	}
}
