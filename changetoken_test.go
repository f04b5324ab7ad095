package storagehandler

import "testing"

func TestCallbackChangeTokenSignal(t *testing.T) {
	token := NewCallbackChangeToken(nil)

	if token.HasChanged() {
		t.Error("fresh token already changed")
	}

	fired := 0
	unregister := token.RegisterChangeCallback(func() { fired++ })

	token.SignalChange()
	if !token.HasChanged() {
		t.Error("HasChanged() = false after signal")
	}
	if fired != 1 {
		t.Errorf("callback fired %d times, want 1", fired)
	}

	// Once changed, the token stays changed.
	token.SignalChange()
	if !token.HasChanged() {
		t.Error("token reverted after second signal")
	}

	unregister()
	token.SignalChange()
	if fired > 2 {
		t.Errorf("callback fired %d times after unregister", fired)
	}
}

func TestCallbackChangeTokenStop(t *testing.T) {
	stopped := false
	token := NewCallbackChangeToken(func() { stopped = true })

	token.Stop()
	if !stopped {
		t.Error("stop hook not invoked")
	}
	// Stop is idempotent.
	token.Stop()
}
