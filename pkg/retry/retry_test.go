package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestDo(t *testing.T) {
	errFlaky := errors.New("flaky")

	tests := []struct {
		name      string
		failFirst int
		attempts  int
		wantCalls int
		wantErr   bool
	}{
		{"success first try", 0, 3, 1, false},
		{"success after retries", 2, 3, 3, false},
		{"exhausted", 5, 3, 3, true},
		{"single attempt", 1, 1, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), func() error {
				calls++
				if calls <= tt.failFirst {
					return errFlaky
				}
				return nil
			}, fastConfig(tt.attempts))

			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestDo_Permanent(t *testing.T) {
	base := errors.New("constraint violation")
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return Permanent(base)
	}, fastConfig(5))

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, base) {
		t.Errorf("err = %v, want %v", err, base)
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		t.Error("permanent wrapper should be stripped from the result")
	}
}

func TestDo_RetryIfAndOnRetry(t *testing.T) {
	var retried []int
	cfg := fastConfig(4)
	cfg.RetryIf = func(err error) bool { return err.Error() == "retry me" }
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) { retried = append(retried, attempt) }

	calls := 0
	_ = Do(context.Background(), func() error {
		calls++
		if calls == 1 {
			return errors.New("retry me")
		}
		return errors.New("stop")
	}, cfg)

	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if len(retried) != 1 || retried[0] != 1 {
		t.Errorf("OnRetry attempts = %v", retried)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, func() error { calls++; return nil }, fastConfig(3))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}

func TestDelay_Capped(t *testing.T) {
	cfg := Config{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 10}
	cfg.normalize()
	if d := cfg.delay(5); d != 3*time.Second {
		t.Errorf("delay = %v, want 3s", d)
	}
}
