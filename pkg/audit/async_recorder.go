package audit

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/wardenhq/warden/pkg/observability"
)

// AsyncRecorder decouples audit writes from the request path. Events are
// handed to a pool of background workers so a slow audit store never adds
// latency to a login or a permission check. Record applies backpressure
// when the buffer is full rather than dropping events; the trail stays
// complete even under load.
type AsyncRecorder struct {
	sink    Recorder
	logger  *observability.Logger
	events  chan *Event
	timeout time.Duration

	done chan struct{}
	wg   sync.WaitGroup

	// mu orders Record against Close: once closed is set no new event
	// can enter the channel, so the workers' final drain sees everything
	// that was ever accepted.
	mu     sync.RWMutex
	closed bool
}

// NewAsyncRecorder starts workers draining events into sink. timeout
// bounds each individual write; workers use their own context because
// the originating request is usually gone by the time the write lands.
func NewAsyncRecorder(sink Recorder, workers, buffer int, timeout time.Duration, logger *observability.Logger) *AsyncRecorder {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = workers * 16
	}

	r := &AsyncRecorder{
		sink:    sink,
		logger:  logger,
		events:  make(chan *Event, buffer),
		timeout: timeout,
		done:    make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

// Record implements Recorder. It blocks only when the buffer is full or
// the caller's context ends, and fails once the recorder is closed. An
// accepted event is guaranteed to reach the sink before Close returns.
func (r *AsyncRecorder) Record(ctx context.Context, event *Event) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("audit recorder is closed")
	}

	select {
	case r.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events, drains what is buffered and waits up to
// wait for the workers to finish. The events channel is never closed so
// a Record racing Close can never panic on a closed channel.
func (r *AsyncRecorder) Close(wait time.Duration) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.done)

	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-time.After(wait):
		return fmt.Errorf("audit recorder drain timed out after %v", wait)
	}
}

func (r *AsyncRecorder) worker() {
	defer r.wg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithField("panic", fmt.Sprint(rec)).
				WithField("stack", string(debug.Stack())).
				Error("audit worker panicked")
		}
	}()

	for {
		select {
		case event := <-r.events:
			r.write(event)
		case <-r.done:
			// drain whatever was accepted before shutdown
			for {
				select {
				case event := <-r.events:
					r.write(event)
				default:
					return
				}
			}
		}
	}
}

func (r *AsyncRecorder) write(event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.sink.Record(ctx, event); err != nil {
		r.logger.WithError(err).
			WithField("action", string(event.Action)).
			Error("failed to persist audit event")
	}
}
