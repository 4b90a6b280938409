package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
)

var errUnavailable = errors.New("service unavailable")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(t *testing.T, maxFailures int) (*Breaker, *fakeClock, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	set := NewSet(&Config{MaxFailures: maxFailures, OpenTimeout: time.Minute, HalfOpenProbes: 1}, logger)
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := set.Get("http://ocr.internal/run")
	b.now = clock.Now
	return b, clock, hook
}

func fail() error    { return errUnavailable }
func succeed() error { return nil }

func TestBreaker_InitialState(t *testing.T) {
	b, _, _ := newTestBreaker(t, 3)
	if b.State() != StateClosed {
		t.Errorf("Initial state should be closed, got %v", b.State())
	}
}

func TestBreaker_OpensAfterMaxFailures(t *testing.T) {
	b, _, hook := newTestBreaker(t, 3)

	for i := 0; i < 3; i++ {
		if err := b.Execute(fail); !errors.Is(err, errUnavailable) {
			t.Fatalf("Expected the call's own error, got %v", err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("Breaker should be open after 3 failures, got %v", b.State())
	}

	called := false
	err := b.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Open breaker must not invoke the call")
	}
	if hook.LastEntry() == nil || hook.LastEntry().Data["to"] != "open" {
		t.Error("Expected a state change log entry")
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b, _, _ := newTestBreaker(t, 3)

	_ = b.Execute(fail)
	_ = b.Execute(fail)
	_ = b.Execute(succeed)
	_ = b.Execute(fail)
	_ = b.Execute(fail)

	if b.State() != StateClosed {
		t.Errorf("Non-consecutive failures must not open the breaker, got %v", b.State())
	}
	if b.Failures() != 2 {
		t.Errorf("Expected 2 consecutive failures, got %d", b.Failures())
	}
}

func TestBreaker_CancellationIsNotAFailure(t *testing.T) {
	b, _, _ := newTestBreaker(t, 1)

	_ = b.Execute(func() error { return context.Canceled })
	if b.State() != StateClosed {
		t.Errorf("Cancelled calls must not open the breaker, got %v", b.State())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	t.Run("successful probe closes", func(t *testing.T) {
		b, clock, _ := newTestBreaker(t, 1)
		_ = b.Execute(fail)

		clock.Advance(59 * time.Second)
		if err := b.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("Expected breaker still open, got %v", err)
		}

		clock.Advance(time.Second)
		if b.State() != StateHalfOpen {
			t.Fatalf("Expected half-open after the timeout, got %v", b.State())
		}
		if err := b.Execute(succeed); err != nil {
			t.Fatalf("Probe should be admitted, got %v", err)
		}
		if b.State() != StateClosed {
			t.Errorf("Successful probe should close the breaker, got %v", b.State())
		}
	})

	t.Run("failed probe reopens", func(t *testing.T) {
		b, clock, _ := newTestBreaker(t, 1)
		_ = b.Execute(fail)
		clock.Advance(time.Minute)

		_ = b.Execute(fail)
		if b.State() != StateOpen {
			t.Errorf("Failed probe should reopen the breaker, got %v", b.State())
		}
	})

	t.Run("only one probe in flight", func(t *testing.T) {
		b, clock, _ := newTestBreaker(t, 1)
		_ = b.Execute(fail)
		clock.Advance(time.Minute)

		started := make(chan struct{})
		release := make(chan struct{})
		done := make(chan error)
		go func() {
			done <- b.Execute(func() error {
				close(started)
				<-release
				return nil
			})
		}()
		<-started

		if err := b.Execute(succeed); !errors.Is(err, ErrTooManyProbes) {
			t.Errorf("Expected ErrTooManyProbes, got %v", err)
		}

		close(release)
		if err := <-done; err != nil {
			t.Errorf("First probe should succeed, got %v", err)
		}
	})
}

func TestSet(t *testing.T) {
	logger, _ := test.NewNullLogger()
	set := NewSet(&Config{MaxFailures: 1, OpenTimeout: time.Minute}, logger)

	if set.Get("a") != set.Get("a") {
		t.Error("Get should return the same breaker for an endpoint")
	}
	_ = set.Get("b").Execute(fail)

	states := set.States()
	if len(states) != 2 {
		t.Fatalf("Expected 2 endpoints, got %d", len(states))
	}
	if states[0].Endpoint != "a" || states[0].State != "closed" {
		t.Errorf("Unexpected state for a: %+v", states[0])
	}
	if states[1].Endpoint != "b" || states[1].State != "open" || states[1].Failures != 1 {
		t.Errorf("Unexpected state for b: %+v", states[1])
	}
}
