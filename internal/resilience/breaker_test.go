package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errBroker = errors.New("broker unavailable")

func tripped(t *testing.T, maxFailures int) (*Breaker, *time.Time) {
	t.Helper()
	now := time.Now()
	b := NewBreaker(maxFailures, time.Second)
	b.now = func() time.Time { return now }
	for range maxFailures {
		_ = b.Execute(func() error { return errBroker })
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open after %d failures, got %s", maxFailures, b.State())
	}
	return b, &now
}

func TestClosedStateAllowsCalls(t *testing.T) {
	b := NewBreaker(3, time.Second)
	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !called {
		t.Fatal("expected fn to be called")
	}
}

func TestFailurePassesThroughError(t *testing.T) {
	b := NewBreaker(3, time.Second)
	if err := b.Execute(func() error { return errBroker }); !errors.Is(err, errBroker) {
		t.Fatalf("expected wrapped fn error, got %v", err)
	}
}

func TestOpensAfterMaxFailures(t *testing.T) {
	b, _ := tripped(t, 3)

	called := false
	err := b.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Fatal("fn must not run while open")
	}
}

func TestHalfOpenSuccessCloses(t *testing.T) {
	b, now := tripped(t, 2)
	*now = now.Add(2 * time.Second)

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected probe to run, got %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after successful probe, got %s", b.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b, now := tripped(t, 2)
	*now = now.Add(2 * time.Second)

	_ = b.Execute(func() error { return errBroker })
	if b.State() != StateOpen {
		t.Fatalf("expected open after failed probe, got %s", b.State())
	}
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after reopen, got %v", err)
	}
}

func TestHalfOpenAllowsSingleProbe(t *testing.T) {
	b, now := tripped(t, 1)
	*now = now.Add(2 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe should be rejected, got %v", err)
	}
	close(release)
	wg.Wait()
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Second)

	_ = b.Execute(func() error { return errBroker })
	_ = b.Execute(func() error { return errBroker })
	_ = b.Execute(func() error { return nil })
	_ = b.Execute(func() error { return errBroker })
	_ = b.Execute(func() error { return errBroker })

	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}
}

func TestStateChangeCallback(t *testing.T) {
	now := time.Now()
	b := NewBreaker(1, time.Second)
	b.now = func() time.Time { return now }

	var transitions []string
	b.OnStateChange(func(from, to State) {
		transitions = append(transitions, string(from)+"->"+string(to))
	})

	_ = b.Execute(func() error { return errBroker })
	now = now.Add(2 * time.Second)
	_ = b.Execute(func() error { return nil })

	want := []string{"closed->open", "open->half_open", "half_open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}
