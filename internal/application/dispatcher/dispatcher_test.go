package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/garyjia/disbursement-approvals/internal/domain/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements Logger for testing
type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func (m *mockLogger) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

func transitioned() *event.Event {
	return event.NewEvent(event.TypeDisbursementTransitioned, "d-1", "c-1", "u-1", map[string]interface{}{
		event.KeyFromStatus: "draft",
		event.KeyToStatus:   "pending_dept_head",
	})
}

func noop(context.Context, *event.Event) error { return nil }

func TestDispatch(t *testing.T) {
	t.Run("runs handlers in order", func(t *testing.T) {
		d := NewDispatcher()
		var order []string

		d.SubscribeNamed(event.TypeDisbursementTransitioned, "first", func(ctx context.Context, evt *event.Event) error {
			order = append(order, "first")
			return nil
		})
		d.SubscribeNamed(event.TypeDisbursementTransitioned, "second", func(ctx context.Context, evt *event.Event) error {
			order = append(order, "second")
			return nil
		})

		require.NoError(t, d.Dispatch(context.Background(), transitioned()))
		assert.Equal(t, []string{"first", "second"}, order)
	})

	t.Run("stops at first error", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))
		var secondCalled bool

		d.SubscribeNamed(event.TypeDisbursementTransitioned, "failing", func(ctx context.Context, evt *event.Event) error {
			return errors.New("redis down")
		})
		d.SubscribeNamed(event.TypeDisbursementTransitioned, "second", func(ctx context.Context, evt *event.Event) error {
			secondCalled = true
			return nil
		})

		err := d.Dispatch(context.Background(), transitioned())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failing")
		assert.False(t, secondCalled)
		assert.Equal(t, 1, logger.ErrorCount())
	})

	t.Run("recovers from panics", func(t *testing.T) {
		d := NewDispatcher(WithLogger(&mockLogger{}))
		d.SubscribeNamed(event.TypeDisbursementTransitioned, "panics", func(ctx context.Context, evt *event.Event) error {
			panic("boom")
		})

		err := d.Dispatch(context.Background(), transitioned())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "panic")
	})

	t.Run("ignores other event types", func(t *testing.T) {
		d := NewDispatcher()
		var called bool
		d.SubscribeNamed(event.TypeDisbursementStalled, "stalled", func(ctx context.Context, evt *event.Event) error {
			called = true
			return nil
		})

		require.NoError(t, d.Dispatch(context.Background(), transitioned()))
		assert.False(t, called)
	})
}

func TestDispatch_Wildcard(t *testing.T) {
	d := NewDispatcher()
	var seen []event.Type

	d.SubscribeNamed(AllEvents, "audit", func(ctx context.Context, evt *event.Event) error {
		seen = append(seen, evt.Type)
		return nil
	})

	require.NoError(t, d.Dispatch(context.Background(), transitioned()))
	require.NoError(t, d.Dispatch(context.Background(), event.NewEvent(event.TypeTenantCrossAccess, "d", "c", "op", nil)))

	assert.Equal(t, []event.Type{event.TypeDisbursementTransitioned, event.TypeTenantCrossAccess}, seen)
}

func TestDispatchAsync(t *testing.T) {
	t.Run("runs handlers and swallows failures", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))
		var called atomic.Int32

		d.SubscribeNamed(event.TypeDisbursementTransitioned, "ok", func(ctx context.Context, evt *event.Event) error {
			called.Add(1)
			return nil
		})
		d.SubscribeNamed(event.TypeDisbursementTransitioned, "fails", func(ctx context.Context, evt *event.Event) error {
			called.Add(1)
			return errors.New("unreachable")
		})

		d.DispatchAsync(context.Background(), transitioned())
		require.NoError(t, d.Close())

		assert.Equal(t, int32(2), called.Load())
		assert.Equal(t, 1, logger.ErrorCount())
	})

	t.Run("survives cancellation of the request context", func(t *testing.T) {
		d := NewDispatcher()
		var ctxErr atomic.Value

		d.SubscribeNamed(event.TypeDisbursementTransitioned, "slow", func(ctx context.Context, evt *event.Event) error {
			time.Sleep(20 * time.Millisecond)
			ctxErr.Store(fmt.Sprint(ctx.Err()))
			return nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		d.DispatchAsync(ctx, transitioned())
		cancel()
		require.NoError(t, d.Close())

		assert.Equal(t, "<nil>", ctxErr.Load())
	})
}

func TestListHandlers(t *testing.T) {
	d := NewDispatcher()
	d.SubscribeNamed(event.TypeDisbursementTransitioned, "h1", noop)
	d.SubscribeNamed(event.TypeDisbursementTransitioned, "h2", noop)
	d.SubscribeNamed(AllEvents, "audit", noop)

	handlers := d.ListHandlers(event.TypeDisbursementTransitioned)
	require.Len(t, handlers, 2)
	assert.Equal(t, "h1", handlers[0].Name)
	assert.Equal(t, "h2", handlers[1].Name)
	assert.Equal(t, event.TypeDisbursementTransitioned, handlers[0].EventType)
	assert.Nil(t, handlers[0].Handler)

	wildcard := d.ListHandlers(AllEvents)
	require.Len(t, wildcard, 1)
	assert.Equal(t, "audit", wildcard[0].Name)
	assert.Empty(t, d.ListHandlers(event.TypeDisbursementStalled))
}

func TestClose(t *testing.T) {
	t.Run("waits for async handlers", func(t *testing.T) {
		d := NewDispatcher()
		var completed atomic.Bool

		d.SubscribeNamed(event.TypeDisbursementTransitioned, "slow", func(ctx context.Context, evt *event.Event) error {
			time.Sleep(50 * time.Millisecond)
			completed.Store(true)
			return nil
		})

		d.DispatchAsync(context.Background(), transitioned())
		require.NoError(t, d.Close())
		assert.True(t, completed.Load())
	})

	t.Run("double close fails", func(t *testing.T) {
		d := NewDispatcher()
		require.NoError(t, d.Close())
		assert.Error(t, d.Close())
	})

	t.Run("rejects events after close", func(t *testing.T) {
		d := NewDispatcher(WithLogger(&mockLogger{}))
		var called atomic.Int32
		d.SubscribeNamed(event.TypeDisbursementTransitioned, "h", func(ctx context.Context, evt *event.Event) error {
			called.Add(1)
			return nil
		})
		require.NoError(t, d.Close())

		d.DispatchAsync(context.Background(), transitioned())
		assert.Error(t, d.Dispatch(context.Background(), transitioned()))
		assert.Zero(t, called.Load())
	})
}

func TestConcurrency(t *testing.T) {
	d := NewDispatcher()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.SubscribeNamed(event.TypeDisbursementTransitioned, fmt.Sprintf("handler-%d", id), noop)
		}(i)
	}
	wg.Wait()

	assert.Len(t, d.ListHandlers(event.TypeDisbursementTransitioned), 10)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, d.Dispatch(context.Background(), transitioned()))
		}()
	}
	wg.Wait()
}
