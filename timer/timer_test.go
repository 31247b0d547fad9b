package timer_test

import (
	"testing"
	"time"

	"github.com/cea-hpc/lhsm-coordinator/timer"
)

func TestRearmPicksNearestDeadline(t *testing.T) {
	now := int64(1000)
	e := timer.New(func() int64 { return now },
		timer.SourceFunc(func() (int64, bool) { return 5000, true }),
		timer.SourceFunc(func() (int64, bool) { return 2000, true }),
		timer.SourceFunc(func() (int64, bool) { return 0, false }),
	)

	next, ok := e.Next()
	if !ok || next != 2000 {
		t.Fatalf("got (%d, %v), want (2000, true)", next, ok)
	}
}

func TestRearmNoSourcesReturnsNilChannel(t *testing.T) {
	e := timer.New(func() int64 { return 0 })
	if ch := e.Rearm(); ch != nil {
		t.Fatalf("expected nil channel with no sources")
	}
}

func TestRearmFiresAtDeadline(t *testing.T) {
	now := time.Now().UnixNano()
	e := timer.New(func() int64 { return now },
		timer.SourceFunc(func() (int64, bool) { return now + int64(10*time.Millisecond), true }),
	)
	ch := e.Rearm()
	if ch == nil {
		t.Fatalf("expected a channel")
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("timer did not fire")
	}
}
