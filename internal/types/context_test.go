package types

import (
	"context"
	"log/slog"
	"testing"
)

func TestRequestID_RoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")
	if got := GetRequestID(ctx); got != "req-123" {
		t.Errorf("GetRequestID = %q, want req-123", got)
	}
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("empty context should yield empty id, got %q", got)
	}
}

func TestLoggerFromContext(t *testing.T) {
	fallback := slog.Default()
	scoped := slog.Default().With("request_id", "abc")

	if got := LoggerFromContext(context.Background(), fallback); got != fallback {
		t.Error("expected fallback logger when none stored")
	}
	ctx := WithLogger(context.Background(), scoped)
	if got := LoggerFromContext(ctx, fallback); got != scoped {
		t.Error("expected scoped logger from context")
	}
	if got := LoggerFromContext(context.Background(), nil); got == nil {
		t.Error("expected slog.Default when no fallback given")
	}
}

func TestClientKey(t *testing.T) {
	if _, ok := GetClientKey(context.Background()); ok {
		t.Error("expected no client key on empty context")
	}
	ctx := WithClientKey(context.Background(), "203.0.113.9")
	key, ok := GetClientKey(ctx)
	if !ok || key != "203.0.113.9" {
		t.Errorf("GetClientKey = %q, %v", key, ok)
	}
}

func TestIsTestKey(t *testing.T) {
	cases := map[string]bool{
		"sk_test_abc": true,
		"pk_test_abc": true,
		"sk_live_abc": false,
		"":            false,
	}
	for key, want := range cases {
		if got := IsTestKey(key); got != want {
			t.Errorf("IsTestKey(%q) = %v, want %v", key, got, want)
		}
	}
}
