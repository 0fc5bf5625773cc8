package perfopt

import (
	"errors"
	"strings"
	"testing"
)

func TestCleanupError(t *testing.T) {
	inner := errors.New("handle closed")
	err := NewCleanupError("emergency", "clear global caches", inner)

	if !strings.Contains(err.Error(), "emergency cleanup") {
		t.Errorf("unexpected message: %s", err.Error())
	}
	if !errors.Is(err, inner) {
		t.Error("expected Unwrap to expose the inner error")
	}

	var target *CleanupError
	if !errors.As(error(err), &target) || target.Tier != "emergency" {
		t.Error("expected errors.As to find the cleanup error")
	}
}

func TestCleanupError_NoOp(t *testing.T) {
	err := NewCleanupError("critical", "", errors.New("boom"))
	if err.Error() != "critical cleanup: boom" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestRecoveredError(t *testing.T) {
	inner := errors.New("nil map")
	if err := RecoveredError(inner); !errors.Is(err, inner) {
		t.Error("expected recovered error to wrap the panic error")
	}
	if err := RecoveredError("oops"); err.Error() != "panic: oops" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}
