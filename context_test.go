package perfopt

import (
	"context"
	"net/http"
	"testing"
)

func TestNewContext(t *testing.T) {
	req, _ := http.NewRequest("GET", "/api/parts", nil)
	ctx := NewContext(req)

	if ctx.RequestID == "" {
		t.Error("RequestID should not be empty")
	}
	if ctx.StartTime.IsZero() {
		t.Error("StartTime should not be zero")
	}
	if ctx.OriginalReq != req {
		t.Error("OriginalReq should match")
	}
	if ctx.Metadata == nil {
		t.Error("Metadata should be initialized")
	}
}

func TestContextSetGet(t *testing.T) {
	ctx := NewContext(nil)
	ctx.Set("key", "value")

	if val := ctx.Get("key"); val != "value" {
		t.Errorf("expected 'value', got '%v'", val)
	}
	if val := ctx.Get("nonexistent"); val != nil {
		t.Errorf("expected nil, got '%v'", val)
	}
}

func TestContextRoundTrip(t *testing.T) {
	rc := NewContext(nil)
	ctx := WithContext(context.Background(), rc)

	got, ok := FromContext(ctx)
	if !ok || got != rc {
		t.Error("expected to recover the request context")
	}

	if _, ok := FromContext(context.Background()); ok {
		t.Error("expected no request context on a bare context")
	}
}
