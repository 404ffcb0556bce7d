package browser

import (
	"errors"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
)

func TestMapErr_TimeoutsBecomeErrTimeout(t *testing.T) {
	t.Parallel()
	err := mapErr("wait for input[name='email']", playwright.ErrTimeout)
	if !IsTimeout(err) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	other := mapErr("click", errors.New("target closed"))
	if IsTimeout(other) {
		t.Fatalf("non-timeout mapped to ErrTimeout: %v", other)
	}
	if mapErr("noop", nil) != nil {
		t.Fatal("nil should stay nil")
	}
}

func TestMS(t *testing.T) {
	t.Parallel()
	if ms(0) != nil {
		t.Fatal("zero timeout should defer to the context default")
	}
	if got := *ms(1500 * time.Millisecond); got != 1500 {
		t.Fatalf("got %v", got)
	}
}

func TestWaitState(t *testing.T) {
	t.Parallel()
	if waitState(Attached) != playwright.WaitForSelectorStateAttached {
		t.Fatal("attached")
	}
	if waitState(Hidden) != playwright.WaitForSelectorStateHidden {
		t.Fatal("hidden")
	}
	if waitState("") != playwright.WaitForSelectorStateVisible {
		t.Fatal("default should be visible")
	}
}
