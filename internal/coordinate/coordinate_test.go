package coordinate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoDeduplicatesConcurrentCallers(t *testing.T) {
	coord := New()

	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})

	fn := func() (interface{}, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		return "session-abc", nil
	}

	const waiters = 8
	results := make([]interface{}, waiters)
	var wg sync.WaitGroup
	wg.Add(waiters)
	for i := 0; i < waiters; i++ {
		go func(i int) {
			defer wg.Done()
			v, err := coord.Do(KeySessionCreate, fn)
			if err != nil {
				t.Errorf("Do returned error: %v", err)
			}
			results[i] = v
		}(i)
	}

	<-started
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected exactly 1 underlying call, got %d", got)
	}
	for i, v := range results {
		if v != "session-abc" {
			t.Errorf("Caller %d got %v, want shared result", i, v)
		}
	}
}

func TestDoRetriesAfterSettled(t *testing.T) {
	coord := New()

	var calls int32
	fn := func() (interface{}, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return nil, fmt.Errorf("backend unavailable")
		}
		return "ok", nil
	}

	if _, err := coord.Do(KeyShopStatus, fn); err == nil {
		t.Fatal("Expected first call to fail")
	}
	// The failed flight is cleared; a later caller issues a new request
	v, err := coord.Do(KeyShopStatus, fn)
	if err != nil || v != "ok" {
		t.Errorf("Second call got (%v, %v), want (ok, nil)", v, err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("Expected 2 underlying calls, got %d", calls)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	coord := New()

	var calls int32
	fn := func() (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}

	coord.Do(ValidateKey("customer-1"), fn)
	coord.Do(ValidateKey("customer-2"), fn)

	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("Different keys must not share flights, got %d calls", calls)
	}
}

func TestGateBroadcastWakesAllWaiters(t *testing.T) {
	gate := NewGate()

	const waiters = 5
	var wg sync.WaitGroup
	wg.Add(waiters)
	errs := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			errs <- gate.Wait(ctx)
		}()
	}

	gate.Open()
	gate.Open() // no-op
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Waiter returned error: %v", err)
		}
	}
	if !gate.IsOpen() {
		t.Error("Gate should report open")
	}
}

func TestGateWaitHonorsContext(t *testing.T) {
	gate := NewGate()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := gate.Wait(ctx); err == nil {
		t.Error("Expected context error from Wait on a closed gate")
	}
}

func TestGateReset(t *testing.T) {
	gate := NewGate()
	gate.Open()
	gate.Reset()

	if gate.IsOpen() {
		t.Fatal("Gate should be closed after Reset")
	}

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- gate.Wait(ctx)
	}()

	gate.Open()
	if err := <-done; err != nil {
		t.Errorf("Waiter after reset returned error: %v", err)
	}
}
