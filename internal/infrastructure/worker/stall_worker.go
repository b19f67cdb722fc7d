package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/garyjia/disbursement-approvals/internal/application/dispatcher"
	"github.com/garyjia/disbursement-approvals/internal/application/port"
	"github.com/garyjia/disbursement-approvals/internal/domain/entity"
	"github.com/garyjia/disbursement-approvals/internal/domain/event"
	"go.uber.org/zap"
)

// SystemActor is the actor id carried by events the worker emits
const SystemActor = "system"

// StallWorkerConfig holds configuration for the stall worker
type StallWorkerConfig struct {
	PollInterval time.Duration
	StallAfter   time.Duration
	BatchSize    int
}

// DefaultStallWorkerConfig returns default configuration
func DefaultStallWorkerConfig() StallWorkerConfig {
	return StallWorkerConfig{
		PollInterval: 5 * time.Minute,
		StallAfter:   48 * time.Hour,
		BatchSize:    100,
	}
}

// StallWorker emits disbursement.stalled for disbursements waiting on an
// approver longer than StallAfter. A disbursement is reported again only
// after another StallAfter passes without progress.
type StallWorker struct {
	config        StallWorkerConfig
	disbursements port.DisbursementRepository
	events        dispatcher.Dispatcher
	logger        *zap.Logger
	now           func() time.Time

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	notified map[string]notice
}

// notice records when a disbursement was last reported and the updated_at it had then
type notice struct {
	at        time.Time
	updatedAt time.Time
}

// NewStallWorker creates a new stall worker
func NewStallWorker(config StallWorkerConfig, disbursements port.DisbursementRepository, events dispatcher.Dispatcher, logger *zap.Logger) *StallWorker {
	defaults := DefaultStallWorkerConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.StallAfter <= 0 {
		config.StallAfter = defaults.StallAfter
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}

	return &StallWorker{
		config:        config,
		disbursements: disbursements,
		events:        events,
		logger:        logger,
		now:           time.Now,
		notified:      make(map[string]notice),
	}
}

// Name returns the worker name for identification
func (w *StallWorker) Name() string {
	return "StallWorker"
}

// Start begins the polling loop
func (w *StallWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return fmt.Errorf("stall worker already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	w.logger.Info("StallWorker started",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Duration("stall_after", w.config.StallAfter))

	go w.pollLoop(loopCtx, w.done)
	return nil
}

// Stop cancels the loop and waits for it to exit
func (w *StallWorker) Stop() error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (w *StallWorker) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Scan(ctx); err != nil {
				w.logger.Error("Failed to scan for stalled disbursements", zap.Error(err))
			}
		}
	}
}

// Scan runs one detection pass and returns how many events it emitted.
// Handlers run outside the worker's lock.
func (w *StallWorker) Scan(ctx context.Context) (int, error) {
	now := w.now().UTC()
	cutoff := now.Add(-w.config.StallAfter)

	stalled, err := w.disbursements.ListPendingSince(ctx, cutoff, w.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending disbursements: %w", err)
	}

	due := w.claim(stalled, now)
	for _, d := range due {
		evt := event.NewEvent(event.TypeDisbursementStalled, d.ID, d.CompanyID, SystemActor,
			map[string]interface{}{
				event.KeyToStatus:   d.Status,
				event.KeyStepOrder:  d.CurrentStepOrder,
				event.KeyTemplateID: d.WorkflowTemplateID,
				event.KeyPendingFor: int(now.Sub(d.UpdatedAt).Seconds()),
			})
		if err := w.events.Dispatch(ctx, evt); err != nil {
			w.logger.Warn("Stall event handlers failed", zap.String("disbursement_id", d.ID), zap.Error(err))
		}
	}

	if len(due) > 0 {
		w.logger.Info("Stalled disbursements reported", zap.Int("count", len(due)))
	}
	return len(due), nil
}

// claim records the disbursements of the batch that are due a report and
// forgets the ones that have left the stalled set.
func (w *StallWorker) claim(stalled []*entity.Disbursement, now time.Time) []*entity.Disbursement {
	w.mu.Lock()
	defer w.mu.Unlock()

	seen := make(map[string]bool, len(stalled))
	var due []*entity.Disbursement
	var newest time.Time
	for _, d := range stalled {
		seen[d.ID] = true
		if d.UpdatedAt.After(newest) {
			newest = d.UpdatedAt
		}
		if last, ok := w.notified[d.ID]; ok && now.Sub(last.at) < w.config.StallAfter {
			continue
		}
		w.notified[d.ID] = notice{at: now, updatedAt: d.UpdatedAt}
		due = append(due, d)
	}

	// The batch is ordered by updated_at. When it is full, a missing entry
	// newer than the batch may simply lie beyond the page.
	full := len(stalled) >= w.config.BatchSize
	for id, n := range w.notified {
		if seen[id] {
			continue
		}
		if !full || n.updatedAt.Before(newest) {
			delete(w.notified, id)
		}
	}
	return due
}
