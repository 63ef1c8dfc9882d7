package security

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		wantKeep bool
	}{
		{name: "valid upstream id", incoming: "abc-123_DEF", wantKeep: true},
		{name: "missing", incoming: "", wantKeep: false},
		{name: "illegal characters", incoming: "abc\r\nSet-Cookie: x", wantKeep: false},
		{name: "too long", incoming: strings.Repeat("a", 129), wantKeep: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if seen == "" {
				t.Fatal("request id missing from context")
			}
			if got := w.Header().Get(RequestIDHeader); got != seen {
				t.Errorf("response header = %q, context = %q", got, seen)
			}
			if tt.wantKeep && seen != tt.incoming {
				t.Errorf("request id = %q, want upstream %q", seen, tt.incoming)
			}
			if !tt.wantKeep && seen == tt.incoming {
				t.Errorf("request id %q should have been replaced", seen)
			}
		})
	}
}

func TestGetRequestID_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := GetRequestID(req.Context()); got != "" {
		t.Errorf("GetRequestID() = %q, want empty", got)
	}
}

func TestLoggerWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	LoggerWithRequestID(WithRequestID(context.Background(), "req-42"), logger).Info("with id")
	if !strings.Contains(buf.String(), "request_id=req-42") {
		t.Errorf("log line %q has no request_id", buf.String())
	}

	buf.Reset()
	LoggerWithRequestID(context.Background(), logger).Info("without id")
	if strings.Contains(buf.String(), "request_id") {
		t.Errorf("log line %q has a request_id without one in the context", buf.String())
	}
}
