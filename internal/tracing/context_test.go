package tracing

import (
	"context"
	"testing"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	if id1 == "" {
		t.Error("NewTraceID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewTraceID returned duplicate IDs")
	}
}

func TestWithTraceID(t *testing.T) {
	ctx := context.Background()
	traceID := "test-trace-id"

	ctx = WithTraceID(ctx, traceID)

	retrieved := GetTraceID(ctx)
	if retrieved != traceID {
		t.Errorf("Expected trace ID %s, got %s", traceID, retrieved)
	}
}

func TestWithSessionID(t *testing.T) {
	ctx := context.Background()
	sessionID := "sess_abc123"

	ctx = WithSessionID(ctx, sessionID)

	retrieved := GetSessionID(ctx)
	if retrieved != sessionID {
		t.Errorf("Expected session ID %s, got %s", sessionID, retrieved)
	}
}

func TestWithRequestID(t *testing.T) {
	ctx := context.Background()
	requestID := "req-42"

	ctx = WithRequestID(ctx, requestID)

	retrieved := GetRequestID(ctx)
	if retrieved != requestID {
		t.Errorf("Expected request ID %s, got %s", requestID, retrieved)
	}
}

func TestGettersEmpty(t *testing.T) {
	ctx := context.Background()

	if GetTraceID(ctx) != "" {
		t.Error("Expected empty trace ID")
	}
	if GetRunID(ctx) != "" {
		t.Error("Expected empty run ID")
	}
	if GetSessionID(ctx) != "" {
		t.Error("Expected empty session ID")
	}
	if GetRequestID(ctx) != "" {
		t.Error("Expected empty request ID")
	}
}

func TestFromContext(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-123")
	ctx = WithRunID(ctx, "run-456")
	ctx = WithSessionID(ctx, "sess_789")
	ctx = WithRequestID(ctx, "req-abc")

	tc := FromContext(ctx)

	if tc.TraceID != "trace-123" {
		t.Errorf("Expected trace ID trace-123, got %s", tc.TraceID)
	}
	if tc.RunID != "run-456" {
		t.Errorf("Expected run ID run-456, got %s", tc.RunID)
	}
	if tc.SessionID != "sess_789" {
		t.Errorf("Expected session ID sess_789, got %s", tc.SessionID)
	}
	if tc.RequestID != "req-abc" {
		t.Errorf("Expected request ID req-abc, got %s", tc.RequestID)
	}
}

func TestNewContext(t *testing.T) {
	ctx := context.Background()

	tc := &TraceContext{
		TraceID:   "trace-123",
		RunID:     "run-456",
		SessionID: "sess_789",
	}

	ctx = NewContext(ctx, tc)

	if GetTraceID(ctx) != "trace-123" {
		t.Error("Trace ID not set correctly")
	}
	if GetRunID(ctx) != "run-456" {
		t.Error("Run ID not set correctly")
	}
	if GetSessionID(ctx) != "sess_789" {
		t.Error("Session ID not set correctly")
	}
}

func TestNewContextPartial(t *testing.T) {
	ctx := context.Background()

	tc := &TraceContext{
		TraceID: "trace-123",
	}

	ctx = NewContext(ctx, tc)

	if GetTraceID(ctx) != "trace-123" {
		t.Error("Trace ID not set correctly")
	}
	if GetRunID(ctx) != "" {
		t.Error("Run ID should be empty")
	}
	if GetSessionID(ctx) != "" {
		t.Error("Session ID should be empty")
	}
}

func TestNewRunContext(t *testing.T) {
	ctx := context.Background()

	ctx = NewRunContext(ctx, "sess_xyz")

	traceID := GetTraceID(ctx)
	if traceID == "" {
		t.Error("Trace ID not generated")
	}
	if len(traceID) != 36 {
		t.Errorf("Expected UUID format (36 chars), got %d chars", len(traceID))
	}

	runID := GetRunID(ctx)
	if runID == "" {
		t.Error("Run ID not generated")
	}

	if GetSessionID(ctx) != "sess_xyz" {
		t.Error("Session ID not set correctly")
	}
}

func TestNewRunContextKeepsTraceID(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-parent")

	ctx = NewRunContext(ctx, "")

	if GetTraceID(ctx) != "trace-parent" {
		t.Error("Existing trace ID should be preserved")
	}
	if GetRunID(ctx) == "" {
		t.Error("Run ID not generated")
	}
	if GetSessionID(ctx) != "" {
		t.Error("Session ID should stay empty")
	}
}
