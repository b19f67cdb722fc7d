package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/disbursement-approvals/internal/application/dispatcher"
	"github.com/garyjia/disbursement-approvals/internal/application/port"
	"github.com/garyjia/disbursement-approvals/internal/domain/entity"
	"github.com/garyjia/disbursement-approvals/internal/domain/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type pendingRepo struct {
	port.DisbursementRepository

	mu    sync.Mutex
	items []*entity.Disbursement
	err   error
}

func (r *pendingRepo) ListPendingSince(ctx context.Context, cutoff time.Time, limit int) ([]*entity.Disbursement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	var out []*entity.Disbursement
	for _, d := range r.items {
		if d.UpdatedAt.Before(cutoff) && len(out) < limit {
			out = append(out, d)
		}
	}
	return out, nil
}

type collector struct {
	mu     sync.Mutex
	events []*event.Event
}

func (c *collector) handle(ctx context.Context, evt *event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func newStallWorker(repo *pendingRepo) (*StallWorker, *collector) {
	c := &collector{}
	d := dispatcher.NewDispatcher()
	d.SubscribeNamed(event.TypeDisbursementStalled, "collector", c.handle)
	return NewStallWorker(StallWorkerConfig{PollInterval: time.Hour, StallAfter: 24 * time.Hour, BatchSize: 10},
		repo, d, zap.NewNop()), c
}

func TestStallWorker_Scan(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	repo := &pendingRepo{items: []*entity.Disbursement{
		{ID: "old", CompanyID: "company-a", Status: "pending_cashier", CurrentStepOrder: 2,
			WorkflowTemplateID: "tpl-standard", UpdatedAt: now.Add(-30 * time.Hour)},
		{ID: "fresh", CompanyID: "company-a", Status: "pending_cashier", CurrentStepOrder: 2,
			UpdatedAt: now.Add(-time.Hour)},
	}}
	w, c := newStallWorker(repo)
	w.now = func() time.Time { return now }

	n, err := w.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Equal(t, 1, c.count())

	evt := c.events[0]
	assert.Equal(t, "old", evt.DisbursementID)
	assert.Equal(t, SystemActor, evt.ActorID)
	assert.Equal(t, "pending_cashier", evt.GetPayloadString(event.KeyToStatus))
	assert.Equal(t, int64(2), evt.GetPayloadInt(event.KeyStepOrder))
	assert.Equal(t, int64(30*3600), evt.GetPayloadInt(event.KeyPendingFor))

	n, err = w.Scan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "not reported twice within the stall window")

	w.now = func() time.Time { return now.Add(25 * time.Hour) }
	n, err = w.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n, "reminder for old, first report for fresh")
}

func TestStallWorker_FullBatchKeepsNoticesBeyondThePage(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	pending := func(id string, age time.Duration) *entity.Disbursement {
		return &entity.Disbursement{ID: id, CompanyID: "company-a", Status: "pending_cashier",
			CurrentStepOrder: 1, UpdatedAt: now.Add(-age)}
	}
	repo := &pendingRepo{}
	page := func(items ...*entity.Disbursement) {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		repo.items = items
	}
	c := &collector{}
	d := dispatcher.NewDispatcher()
	d.SubscribeNamed(event.TypeDisbursementStalled, "collector", c.handle)
	w := NewStallWorker(StallWorkerConfig{PollInterval: time.Hour, StallAfter: 24 * time.Hour, BatchSize: 2},
		repo, d, zap.NewNop())
	w.now = func() time.Time { return now }

	steps := []struct {
		items []*entity.Disbursement
		want  int
		msg   string
	}{
		{[]*entity.Disbursement{pending("d2", 35*time.Hour), pending("d3", 30*time.Hour)}, 2, "first reports"},
		{[]*entity.Disbursement{pending("d1", 40*time.Hour), pending("d2", 35*time.Hour), pending("d3", 30*time.Hour)}, 1, "d1 fills the page, d3 drops beyond it"},
		{[]*entity.Disbursement{pending("d2", 35*time.Hour), pending("d3", 30*time.Hour)}, 0, "d3 was beyond the page, not forgotten"},
		{[]*entity.Disbursement{pending("d3", 30*time.Hour)}, 0, "d2 progressed"},
		{[]*entity.Disbursement{pending("d3", 30*time.Hour), pending("d2", 25*time.Hour)}, 1, "d2 stalled again at a later step"},
	}
	for _, st := range steps {
		page(st.items...)
		n, err := w.Scan(context.Background())
		require.NoError(t, err)
		assert.Equal(t, st.want, n, st.msg)
	}
	assert.Equal(t, 4, c.count())
}

func TestStallWorker_HandlersRunOutsideLock(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	repo := &pendingRepo{items: []*entity.Disbursement{
		{ID: "old", CompanyID: "company-a", Status: "pending_cashier", UpdatedAt: now.Add(-30 * time.Hour)},
	}}

	d := dispatcher.NewDispatcher()
	w := NewStallWorker(StallWorkerConfig{PollInterval: time.Hour, StallAfter: 24 * time.Hour, BatchSize: 10},
		repo, d, zap.NewNop())
	w.now = func() time.Time { return now }

	nested := make(chan int, 1)
	d.SubscribeNamed(event.TypeDisbursementStalled, "rescan", func(ctx context.Context, evt *event.Event) error {
		n, err := w.Scan(ctx)
		if err != nil {
			return err
		}
		nested <- n
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		n, err := w.Scan(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, 1, n)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scan blocked while a handler was running")
	}
	assert.Equal(t, 0, <-nested, "the disbursement was claimed before its handler ran")
}

func TestStallWorker_ScanError(t *testing.T) {
	w, _ := newStallWorker(&pendingRepo{err: errors.New("db down")})
	_, err := w.Scan(context.Background())
	assert.Error(t, err)
}

func TestStallWorker_StartStop(t *testing.T) {
	w, _ := newStallWorker(&pendingRepo{})
	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()), "already running")
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop(), "stop is idempotent")
}

type fakeWorker struct {
	name     string
	order    *[]string
	startErr error
}

func (f *fakeWorker) Start(ctx context.Context) error { return f.startErr }
func (f *fakeWorker) Name() string                    { return f.name }
func (f *fakeWorker) Stop() error {
	*f.order = append(*f.order, f.name)
	return nil
}

func TestManager_Lifecycle(t *testing.T) {
	var stopped []string
	m := NewManager(zap.NewNop())
	m.Register(&fakeWorker{name: "a", order: &stopped})
	m.Register(&fakeWorker{name: "b", order: &stopped, startErr: errors.New("boom")})
	m.Register(&fakeWorker{name: "c", order: &stopped})
	assert.Equal(t, 3, m.Count())

	require.NoError(t, m.StartAll(context.Background()))
	assert.True(t, m.IsRunning())
	assert.Error(t, m.StartAll(context.Background()))

	require.NoError(t, m.StopAll())
	assert.False(t, m.IsRunning())
	assert.Equal(t, []string{"c", "b", "a"}, stopped)
	require.NoError(t, m.StopAll())
}
