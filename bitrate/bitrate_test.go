package bitrate

import (
	"errors"
	"testing"
)

func TestCalculateNoSmoothing(t *testing.T) {
	t.Parallel()

	var got float64
	e := New(func(bps float64) { got = bps })

	e.Calculate(100_000)
	if got != 100_000 {
		t.Errorf("first sample: got %v, want 100000", got)
	}

	e.Calculate(50_000)
	if got != 50_000 {
		t.Errorf("factor 1 sample: got %v, want 50000", got)
	}
}

func TestCalculateSmoothing(t *testing.T) {
	t.Parallel()

	e := New(nil)
	if err := e.SetExponentialFactor(0.5); err != nil {
		t.Fatal(err)
	}

	e.Calculate(100)
	e.Calculate(50)

	if got := e.Bitrate(); got != 75 {
		t.Errorf("smoothed estimate: got %v, want 75", got)
	}
}

func TestResetReseedsAverage(t *testing.T) {
	t.Parallel()

	e := New(nil)
	if err := e.SetExponentialFactor(0.1); err != nil {
		t.Fatal(err)
	}

	e.Calculate(1_000_000)
	e.Reset()
	if got := e.Bitrate(); got != 0 {
		t.Errorf("estimate after reset: got %v, want 0", got)
	}

	// The first sample after a reset seeds directly, unweighted by factor.
	e.Calculate(500)
	if got := e.Bitrate(); got != 500 {
		t.Errorf("estimate after reseed: got %v, want 500", got)
	}
}

func TestSetExponentialFactorValidation(t *testing.T) {
	t.Parallel()

	e := New(nil)
	for _, bad := range []float64{0, -0.5, 1.1} {
		if err := e.SetExponentialFactor(bad); !errors.Is(err, ErrInvalidFactor) {
			t.Errorf("factor %v: got %v, want ErrInvalidFactor", bad, err)
		}
	}
	if got := e.ExponentialFactor(); got != DefaultExponentialFactor {
		t.Errorf("factor after rejected sets: got %v, want %v", got, DefaultExponentialFactor)
	}

	if err := e.SetExponentialFactor(0.25); err != nil {
		t.Fatalf("valid factor rejected: %v", err)
	}
	if got := e.ExponentialFactor(); got != 0.25 {
		t.Errorf("factor: got %v, want 0.25", got)
	}
}
