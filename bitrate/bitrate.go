// Package bitrate estimates the pipeline's outgoing bitrate from per-second
// bit samples using exponential smoothing.
package bitrate

import (
	"errors"
	"sync"
)

// DefaultExponentialFactor applies no smoothing: each sample replaces the
// previous estimate.
const DefaultExponentialFactor = 1.0

// ErrInvalidFactor is returned for smoothing factors outside (0, 1].
var ErrInvalidFactor = errors.New("bitrate: exponential factor must be in (0, 1]")

// Estimator keeps an exponentially smoothed bits-per-second figure and hands
// each new estimate to the callback installed at construction.
type Estimator struct {
	mu       sync.Mutex
	factor   float64
	average  float64
	primed   bool
	onSample func(bitsPerSec float64)
}

// New creates an Estimator with no smoothing. onSample may be nil.
func New(onSample func(bitsPerSec float64)) *Estimator {
	return &Estimator{factor: DefaultExponentialFactor, onSample: onSample}
}

// Calculate folds the bits transmitted during the last interval into the
// smoothed estimate and reports it. The first sample after a reset seeds the
// average directly.
func (e *Estimator) Calculate(bits int64) {
	e.mu.Lock()
	if !e.primed {
		e.average = float64(bits)
		e.primed = true
	} else {
		e.average = e.factor*float64(bits) + (1-e.factor)*e.average
	}
	avg := e.average
	cb := e.onSample
	e.mu.Unlock()

	if cb != nil {
		cb(avg)
	}
}

// Bitrate returns the current smoothed estimate in bits per second.
func (e *Estimator) Bitrate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.average
}

// Reset discards the smoothed state so the next sample starts fresh.
func (e *Estimator) Reset() {
	e.mu.Lock()
	e.average = 0
	e.primed = false
	e.mu.Unlock()
}

// ExponentialFactor returns the current smoothing factor.
func (e *Estimator) ExponentialFactor() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.factor
}

// SetExponentialFactor changes the smoothing factor. 1 disables smoothing;
// values toward 0 weight history more heavily.
func (e *Estimator) SetExponentialFactor(f float64) error {
	if f <= 0 || f > 1 {
		return ErrInvalidFactor
	}
	e.mu.Lock()
	e.factor = f
	e.mu.Unlock()
	return nil
}
