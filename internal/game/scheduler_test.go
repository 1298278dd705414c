package game

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func waitTimers(t *testing.T, fc *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := fc.BlockUntilContext(ctx, n); err != nil {
		t.Fatalf("waiting for %d timers: %v", n, err)
	}
}

func TestSchedulerFires(t *testing.T) {
	fc := clockwork.NewFakeClock()
	ws := NewWindowScheduler(fc)
	defer ws.Close()

	fired := make(chan struct{}, 1)
	ws.Schedule("ABCDE", 10*time.Second, func() { fired <- struct{}{} })
	waitTimers(t, fc, 1)

	fc.Advance(10 * time.Second)
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
	if ws.Pending() != 0 {
		t.Fatal("fired timer should be removed")
	}
}

func TestSchedulerReplaceAndCancel(t *testing.T) {
	fc := clockwork.NewFakeClock()
	ws := NewWindowScheduler(fc)
	defer ws.Close()

	first := make(chan struct{}, 1)
	second := make(chan struct{}, 1)
	ws.Schedule("ABCDE", 5*time.Second, func() { first <- struct{}{} })
	ws.Schedule("ABCDE", 20*time.Second, func() { second <- struct{}{} })
	if ws.Pending() != 1 {
		t.Fatalf("expected one timer per session, got %d", ws.Pending())
	}
	waitTimers(t, fc, 1)

	fc.Advance(5 * time.Second)
	select {
	case <-first:
		t.Fatal("replaced timer fired")
	case <-time.After(50 * time.Millisecond):
	}

	ws.Cancel("ABCDE")
	fc.Advance(time.Minute)
	select {
	case <-second:
		t.Fatal("cancelled timer fired")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSchedulerClosedRejectsNewTimers(t *testing.T) {
	fc := clockwork.NewFakeClock()
	ws := NewWindowScheduler(fc)
	ws.Close()
	ws.Schedule("ABCDE", time.Second, func() { t.Error("should not fire") })
	if ws.Pending() != 0 {
		t.Fatal("closed scheduler should not keep timers")
	}
	fc.Advance(time.Second)
}
