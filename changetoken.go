package storagehandler

import (
	"sync"
	"sync/atomic"
)

// CallbackChangeToken is a ChangeToken signaled by drivers with native
// filesystem events. Tokens are single-use: once signaled they stay
// changed.
type CallbackChangeToken struct {
	mu        sync.Mutex
	changed   atomic.Bool
	callbacks []func()
	stop      func()
}

// NewCallbackChangeToken creates a token. stop, if non-nil, is invoked
// once when the token is stopped and should release the driver's watch
// resources.
func NewCallbackChangeToken(stop func()) *CallbackChangeToken {
	return &CallbackChangeToken{stop: stop}
}

func (t *CallbackChangeToken) HasChanged() bool {
	return t.changed.Load()
}

func (t *CallbackChangeToken) RegisterChangeCallback(callback func()) (unregister func()) {
	t.mu.Lock()
	t.callbacks = append(t.callbacks, callback)
	index := len(t.callbacks) - 1
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if index < len(t.callbacks) {
			t.callbacks[index] = nil
		}
	}
}

// SignalChange marks the token changed and invokes registered callbacks.
// Called by drivers when a matching change is detected.
func (t *CallbackChangeToken) SignalChange() {
	if t.changed.Swap(true) {
		return
	}

	t.mu.Lock()
	callbacks := make([]func(), len(t.callbacks))
	copy(callbacks, t.callbacks)
	t.mu.Unlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb()
		}
	}
}

// Stop releases the watch behind the token.
func (t *CallbackChangeToken) Stop() {
	t.mu.Lock()
	stop := t.stop
	t.stop = nil
	t.mu.Unlock()

	if stop != nil {
		stop()
	}
}
