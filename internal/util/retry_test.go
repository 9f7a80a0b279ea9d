package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("transient")

func fastConfig(maxRetries int) *RetryConfig {
	return &RetryConfig{MaxRetries: maxRetries, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetry(t *testing.T) {
	tests := []struct {
		name         string
		config       *RetryConfig
		failures     int
		err          error
		wantAttempts int
		wantErr      error
	}{
		{"first try", fastConfig(3), 0, errTest, 1, nil},
		{"succeeds after failures", fastConfig(5), 2, errTest, 3, nil},
		{"runs out", fastConfig(2), 10, errTest, 3, ErrMaxRetriesExceeded},
		{"permanent stops at once", fastConfig(5), 10, Permanent(errTest), 1, errTest},
		{"no retries", fastConfig(0), 10, errTest, 1, ErrMaxRetriesExceeded},
		{"custom RetryIf", &RetryConfig{MaxRetries: 5, BaseDelay: time.Millisecond, RetryIf: func(error) bool { return false }}, 10, errTest, 1, errTest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			res := Retry(context.Background(), tt.config, func() error {
				calls++
				if calls <= tt.failures {
					return tt.err
				}
				return nil
			})
			if res.Attempts != tt.wantAttempts || calls != tt.wantAttempts {
				t.Errorf("attempts = %d (calls %d), want %d", res.Attempts, calls, tt.wantAttempts)
			}
			if tt.wantErr == nil {
				if res.LastError != nil {
					t.Errorf("unexpected error: %v", res.LastError)
				}
				return
			}
			if !errors.Is(res.LastError, tt.wantErr) {
				t.Errorf("error = %v, want %v", res.LastError, tt.wantErr)
			}
		})
	}
}

func TestRetryStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &RetryConfig{MaxRetries: -1, BaseDelay: time.Hour}

	done := make(chan *RetryResult, 1)
	go func() {
		done <- Retry(ctx, cfg, func() error { return errTest })
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case res := <-done:
		if !errors.Is(res.LastError, ErrContextCanceled) || !errors.Is(res.LastError, context.Canceled) {
			t.Errorf("error = %v", res.LastError)
		}
	case <-time.After(time.Second):
		t.Fatal("Retry did not return after cancel")
	}
}

func TestRetryWithValue(t *testing.T) {
	calls := 0
	v, res := RetryWithValue(context.Background(), fastConfig(3), func() (int, error) {
		calls++
		if calls < 2 {
			return 0, errTest
		}
		return 42, nil
	})
	if v != 42 || res.LastError != nil || res.Attempts != 2 {
		t.Errorf("got %d, %+v", v, res)
	}
}

func TestBackoff(t *testing.T) {
	cfg := &RetryConfig{BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Millisecond},
		{2, 20 * time.Millisecond},
		{3, 40 * time.Millisecond},
		{4, 50 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := Backoff(cfg, tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}

	cfg.Jitter = 0.5
	for i := 0; i < 50; i++ {
		if d := Backoff(cfg, 1); d < 5*time.Millisecond || d > 15*time.Millisecond {
			t.Fatalf("jittered delay %s out of range", d)
		}
	}
}

func TestPermanent(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
	err := Permanent(errTest)
	if !IsPermanent(err) || !errors.Is(err, errTest) {
		t.Errorf("Permanent lost its cause: %v", err)
	}
	if IsPermanent(errTest) {
		t.Error("plain error reported permanent")
	}
}
