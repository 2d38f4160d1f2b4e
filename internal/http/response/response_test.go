package response

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"
)

func TestErrorEnvelope(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), chimiddleware.RequestIDKey, "req-1"))
	rr := httptest.NewRecorder()

	Error(rr, req, http.StatusConflict, "SESSION_ALREADY_ROTATED", "session already rotated", nil)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("expected no-store, got %q", rr.Header().Get("Cache-Control"))
	}
	var body struct {
		Success bool `json:"success"`
		Error   struct {
			Code string `json:"code"`
		} `json:"error"`
		Meta struct {
			RequestID string `json:"request_id"`
			TraceID   string `json:"trace_id"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Success || body.Error.Code != "SESSION_ALREADY_ROTATED" {
		t.Fatalf("unexpected envelope: %+v", body)
	}
	if body.Meta.RequestID != "req-1" || body.Meta.TraceID != "" {
		t.Fatalf("unexpected meta: %+v", body.Meta)
	}
}

func TestJSONIncludesTraceID(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "hdr-7")
	req = req.WithContext(trace.ContextWithSpanContext(req.Context(), sc))
	rr := httptest.NewRecorder()

	JSON(rr, req, http.StatusOK, map[string]string{"status": "ok"})

	var body struct {
		Data map[string]string `json:"data"`
		Meta struct {
			RequestID string `json:"request_id"`
			TraceID   string `json:"trace_id"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data["status"] != "ok" || body.Meta.RequestID != "hdr-7" {
		t.Fatalf("unexpected body: %+v", body)
	}
	if body.Meta.TraceID != traceID.String() {
		t.Fatalf("expected trace id %s, got %q", traceID, body.Meta.TraceID)
	}
}
