package importer

import (
	"context"
	"errors"
	"time"

	"github.com/openartifacts/catalog/pkg/common/kafka"
	"github.com/openartifacts/catalog/pkg/common/logger"
	"github.com/openartifacts/catalog/pkg/common/models"
)

// SchedulerStore is the slice of Store the scheduler needs.
type SchedulerStore interface {
	MarkStaleInstances(ctx context.Context, olderThan time.Time) (int64, error)
	PendingImports(ctx context.Context) ([]ArtifactImport, error)
	EligibleInstances(ctx context.Context) ([]InstanceLoad, error)
	Assign(ctx context.Context, importID, instanceID int64) error
}

// Scheduler assigns pending imports to importer instances. It runs a pass
// on a fixed tick and also on import lifecycle events, so new work does not
// wait for the next tick. In-flight work is never reassigned; an import
// only returns to the pool when its instance releases it or is deleted.
type Scheduler struct {
	store            SchedulerStore
	tick             time.Duration
	heartbeatTimeout time.Duration
}

func NewScheduler(store SchedulerStore, tick, heartbeatTimeout time.Duration) *Scheduler {
	return &Scheduler{
		store:            store,
		tick:             tick,
		heartbeatTimeout: heartbeatTimeout,
	}
}

// Run blocks, executing passes until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("Scheduler stopped")
			return
		case <-ticker.C:
			if err := s.Pass(ctx); err != nil {
				logger.Log.WithField("error", err.Error()).Error("Scheduler pass failed")
			}
		}
	}
}

// HandleEvent triggers an immediate pass for import lifecycle events
// consumed from Kafka.
func (s *Scheduler) HandleEvent(ctx context.Context, event models.Event) error {
	switch event.Type {
	case "import-created", "import-released", "instance-registered",
		"instance-heartbeat", "import-finished", "import-status-changed":
		return s.Pass(ctx)
	default:
		logger.Log.WithField("type", event.Type).Debug("Ignoring event")
		return nil
	}
}

// ConsumeEvents runs the Kafka consumer loop against the import topic.
func (s *Scheduler) ConsumeEvents(ctx context.Context, consumer *kafka.Consumer) {
	if err := consumer.Consume(ctx, s.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
		logger.Log.WithField("error", err.Error()).Error("Import event consumer exited")
	}
}

// Pass performs one scheduling round: mark stale instances, then greedily
// assign pending imports oldest first to the least loaded eligible
// instance with free capacity.
func (s *Scheduler) Pass(ctx context.Context) error {
	stale, err := s.store.MarkStaleInstances(ctx, time.Now().UTC().Add(-s.heartbeatTimeout))
	if err != nil {
		return err
	}
	if stale > 0 {
		logger.Log.WithField("count", stale).Warn("Marked importer instances stale")
	}

	pending, err := s.store.PendingImports(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	loads, err := s.store.EligibleInstances(ctx)
	if err != nil {
		return err
	}
	if len(loads) == 0 {
		logger.Log.WithField("pending", len(pending)).Debug("No schedulable instances")
		return nil
	}

	assigned := 0
	for _, ai := range pending {
		slot := pickInstance(loads)
		if slot < 0 {
			break
		}
		err := s.store.Assign(ctx, ai.ID, loads[slot].Instance.ID)
		switch {
		case err == nil:
			loads[slot].Assigned++
			assigned++
		case errors.Is(err, ErrCapacity):
			// Raced with a direct claim; take the slot out of this pass.
			loads[slot].Assigned = int64(loads[slot].Instance.MaxTasks)
		case errors.Is(err, ErrAlreadyScheduled):
			continue
		default:
			return err
		}
	}
	if assigned > 0 {
		logger.Log.WithFields(map[string]interface{}{
			"assigned": assigned,
			"pending":  len(pending) - assigned,
		}).Info("Scheduled imports")
	}
	return nil
}

// pickInstance returns the index of the least loaded instance with free
// capacity, lowest id winning ties, or -1 when all are full.
func pickInstance(loads []InstanceLoad) int {
	best := -1
	for i, load := range loads {
		if load.Assigned >= int64(load.Instance.MaxTasks) {
			continue
		}
		if best < 0 || load.Assigned < loads[best].Assigned {
			best = i
		}
	}
	return best
}
