package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPolicyCalculateDelay(t *testing.T) {
	policy := Policy{
		MaxRetries:        3,
		InitialDelay:      1 * time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
	}

	tests := []struct {
		retryCount int
		expected   time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
	}

	for _, test := range tests {
		if actual := policy.CalculateDelay(test.retryCount); actual != test.expected {
			t.Errorf("CalculateDelay(%d) = %v, want %v", test.retryCount, actual, test.expected)
		}
	}
}

func TestPolicyJitterStaysInRange(t *testing.T) {
	policy := Policy{InitialDelay: time.Second, MaxDelay: time.Minute, BackoffMultiplier: 2, Jitter: 0.5}
	for i := 0; i < 100; i++ {
		d := policy.CalculateDelay(0)
		if d < 500*time.Millisecond || d > 1500*time.Millisecond {
			t.Fatalf("jittered delay %v out of range", d)
		}
	}
}

func TestPolicyValidate(t *testing.T) {
	cases := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{name: "default", policy: DefaultPolicy(), wantErr: false},
		{name: "negative retries", policy: Policy{MaxRetries: -1, InitialDelay: time.Second, MaxDelay: time.Second, BackoffMultiplier: 1}, wantErr: true},
		{name: "initial above max", policy: Policy{InitialDelay: time.Minute, MaxDelay: time.Second, BackoffMultiplier: 1}, wantErr: true},
		{name: "zero multiplier", policy: Policy{InitialDelay: time.Second, MaxDelay: time.Second}, wantErr: true},
		{name: "jitter above one", policy: Policy{InitialDelay: time.Second, MaxDelay: time.Second, BackoffMultiplier: 2, Jitter: 2}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.policy.Validate(); (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func fastPolicy(retries int) Policy {
	return Policy{MaxRetries: retries, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffMultiplier: 2}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("temporary")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	calls := 0
	boom := errors.New("bad request")
	err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		return Permanent(boom)
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(2), func(context.Context) error {
		calls++
		return errors.New("still down")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls (1 + 2 retries), got %d", calls)
	}
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	policy := Policy{MaxRetries: 10, InitialDelay: time.Hour, MaxDelay: time.Hour, BackoffMultiplier: 2}
	err := Do(ctx, policy, func(context.Context) error { return errors.New("down") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
