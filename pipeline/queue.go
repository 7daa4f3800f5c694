package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zsiec/pulse/media"
)

// DefaultCacheSize is the frame queue capacity a Sender starts with.
const DefaultCacheSize = 200

// Sentinel errors for queue configuration. These enable callers to
// distinguish contract violations using errors.Is.
var (
	ErrThresholdRange  = errors.New("pipeline: congestion threshold outside [0, 100]")
	ErrCacheTruncation = errors.New("pipeline: new cache size below buffered frame count")
	ErrCacheSize       = errors.New("pipeline: cache size must be positive")
)

// frameQueue is a bounded FIFO of pending frames. Producers offer without
// ever blocking; the transmission loop polls with a timeout so it can
// observe cancellation on an idle stream. Capacity can change at runtime as
// long as the new buffer still holds everything currently queued.
type frameQueue struct {
	mu    sync.Mutex
	buf   []*media.Frame // ring
	head  int
	count int

	notify chan struct{}
}

func newFrameQueue(capacity int) *frameQueue {
	return &frameQueue{
		buf:    make([]*media.Frame, capacity),
		notify: make(chan struct{}, 1),
	}
}

// offer appends f if the queue has room and reports whether it was accepted.
func (q *frameQueue) offer(f *media.Frame) bool {
	q.mu.Lock()
	if q.count == len(q.buf) {
		q.mu.Unlock()
		return false
	}
	q.buf[(q.head+q.count)%len(q.buf)] = f
	q.count++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// poll removes the oldest frame, waiting up to timeout for one to arrive.
// It returns ok=false on timeout or when ctx is cancelled.
func (q *frameQueue) poll(ctx context.Context, timeout time.Duration) (*media.Frame, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if q.count > 0 {
			f := q.buf[q.head]
			q.buf[q.head] = nil
			q.head = (q.head + 1) % len(q.buf)
			q.count--
			q.mu.Unlock()
			return f, true
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-timer.C:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
}

// resize swaps the backing buffer for one of the requested capacity, moving
// every buffered frame across in FIFO order. The swap happens under the same
// lock that guards dequeuing, so the consumer always sees one consistent
// buffer. It fails if the buffered count would not fit.
func (q *frameQueue) resize(capacity int) error {
	if capacity <= 0 {
		return fmt.Errorf("%w: %d", ErrCacheSize, capacity)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count > capacity {
		return fmt.Errorf("%w: %d < %d", ErrCacheTruncation, capacity, q.count)
	}

	buf := make([]*media.Frame, capacity)
	for i := 0; i < q.count; i++ {
		buf[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = buf
	q.head = 0
	return nil
}

// congestion reports whether occupancy has reached threshold percent of
// capacity. A threshold outside [0, 100] violates the input contract.
func (q *frameQueue) congestion(threshold float64) (bool, error) {
	if threshold < 0 || threshold > 100 {
		return false, fmt.Errorf("%w: %v", ErrThresholdRange, threshold)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return float64(q.count) >= float64(len(q.buf))*threshold/100, nil
}

func (q *frameQueue) clear() {
	q.mu.Lock()
	for i := range q.buf {
		q.buf[i] = nil
	}
	q.head = 0
	q.count = 0
	q.mu.Unlock()
}

func (q *frameQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

func (q *frameQueue) capacity() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}
