package audit

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/pkg/observability"
)

// lockedRecorder is a MemoryRecorder safe for concurrent workers
type lockedRecorder struct {
	mu     sync.Mutex
	events []*Event
}

func (l *lockedRecorder) Record(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

func (l *lockedRecorder) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func TestAsyncRecorderDeliversEvents(t *testing.T) {
	sink := &lockedRecorder{}
	rec := NewAsyncRecorder(sink, 2, 8, time.Second,
		observability.NewLogger(observability.ErrorLevel, io.Discard))

	for i := 0; i < 5; i++ {
		require.NoError(t, rec.Record(context.Background(), NewEvent(ActionLogout, SeverityInfo)))
	}
	require.NoError(t, rec.Close(time.Second))

	assert.Equal(t, 5, sink.len())
}

func TestAsyncRecorderRejectsAfterClose(t *testing.T) {
	rec := NewAsyncRecorder(&lockedRecorder{}, 1, 4, time.Second,
		observability.NewLogger(observability.ErrorLevel, io.Discard))
	require.NoError(t, rec.Close(time.Second))

	err := rec.Record(context.Background(), NewEvent(ActionLogout, SeverityInfo))
	assert.Error(t, err)
}

func TestAsyncRecorderRecordRacesClose(t *testing.T) {
	for i := 0; i < 200; i++ {
		sink := &lockedRecorder{}
		rec := NewAsyncRecorder(sink, 2, 4, time.Second,
			observability.NewLogger(observability.ErrorLevel, io.Discard))

		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					// errors are fine once the recorder is closed; a
					// panic is not
					_ = rec.Record(context.Background(), NewEvent(ActionLogout, SeverityInfo))
				}
			}()
		}
		require.NoError(t, rec.Close(time.Second))
		wg.Wait()
	}
}

func TestAsyncRecorderKeepsWritingAfterSinkError(t *testing.T) {
	sink := &lockedRecorder{}
	failing := &failFirstRecorder{next: sink}
	rec := NewAsyncRecorder(failing, 1, 4, time.Second,
		observability.NewLogger(observability.ErrorLevel, io.Discard))

	require.NoError(t, rec.Record(context.Background(), NewEvent(ActionLogout, SeverityInfo)))
	require.NoError(t, rec.Record(context.Background(), NewEvent(ActionSSOLogin, SeverityInfo)))
	require.NoError(t, rec.Close(time.Second))

	assert.Equal(t, 1, sink.len())
}

type failFirstRecorder struct {
	next   *lockedRecorder
	failed bool
}

func (f *failFirstRecorder) Record(ctx context.Context, event *Event) error {
	if !f.failed {
		f.failed = true
		return context.DeadlineExceeded
	}
	return f.next.Record(ctx, event)
}
