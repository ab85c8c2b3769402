package retry

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func TestPolicyDelay(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{"first retry", 0, 125 * time.Millisecond},
		{"second retry", 1, 250 * time.Millisecond},
		{"third retry", 2, 500 * time.Millisecond},
		{"just under cap", 7, 16 * time.Second},
		{"capped", 8, 30 * time.Second},
		{"far past cap", 200, 30 * time.Second},
		{"negative attempt", -3, 125 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Delay(tt.attempt); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestPolicyDelayZeroInitial(t *testing.T) {
	if got := (Policy{}).Delay(5); got != 0 {
		t.Errorf("Delay(5) = %v, want 0", got)
	}
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	var delays []time.Duration

	err := Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 4 {
			return errors.New("not yet")
		}
		return nil
	},
		WithPolicy(Policy{Initial: time.Millisecond, Max: 2 * time.Millisecond}),
		OnError(func(_ error, _ int, d time.Duration) { delays = append(delays, d) }),
	)

	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, 2 * time.Millisecond}
	if !slices.Equal(delays, want) {
		t.Errorf("delays = %v, want %v", delays, want)
	}
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	failure := errors.New("broker down")

	calls := 0
	err := Do(ctx, func(context.Context) error {
		calls++
		if calls == 3 {
			cancel()
		}
		return failure
	}, WithPolicy(Policy{Initial: time.Millisecond, Max: time.Millisecond}))

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
	if !errors.Is(err, failure) {
		t.Errorf("Do() error = %v, want last failure wrapped", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoCancelledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := Do(ctx, func(context.Context) error {
		called = true
		return nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
	if called {
		t.Error("fn called after cancel")
	}
}

func TestSleepRespectsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := Sleep(ctx, time.Minute)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Sleep() error = %v, want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed >= 5*time.Second {
		t.Errorf("Sleep() took %v", elapsed)
	}
}
