package importer

import (
	"context"
	"testing"
	"time"

	"github.com/openartifacts/catalog/pkg/common/logger"
)

func init() {
	logger.Init()
}

type fakeSchedulerStore struct {
	pending   []ArtifactImport
	loads     []InstanceLoad
	staleFrom time.Time

	assigned map[int64]int64 // import id -> instance id
	failWith map[int64]error // import id -> error to return from Assign
}

func newFakeSchedulerStore() *fakeSchedulerStore {
	return &fakeSchedulerStore{
		assigned: make(map[int64]int64),
		failWith: make(map[int64]error),
	}
}

func (f *fakeSchedulerStore) MarkStaleInstances(ctx context.Context, olderThan time.Time) (int64, error) {
	f.staleFrom = olderThan
	return 0, nil
}

func (f *fakeSchedulerStore) PendingImports(ctx context.Context) ([]ArtifactImport, error) {
	return f.pending, nil
}

func (f *fakeSchedulerStore) EligibleInstances(ctx context.Context) ([]InstanceLoad, error) {
	return f.loads, nil
}

func (f *fakeSchedulerStore) Assign(ctx context.Context, importID, instanceID int64) error {
	if err, ok := f.failWith[importID]; ok {
		return err
	}
	f.assigned[importID] = instanceID
	return nil
}

func instance(id int64, maxTasks int) ImporterInstance {
	return ImporterInstance{
		ID:          id,
		MaxTasks:    maxTasks,
		Status:      InstanceUp,
		AdminStatus: AdminEnabled,
	}
}

func TestPassAssignsLeastLoadedFirst(t *testing.T) {
	store := newFakeSchedulerStore()
	store.pending = []ArtifactImport{{ID: 1}, {ID: 2}, {ID: 3}}
	store.loads = []InstanceLoad{
		{Instance: instance(10, 5), Assigned: 2},
		{Instance: instance(11, 5), Assigned: 0},
	}
	sched := NewScheduler(store, time.Minute, 2*time.Minute)

	if err := sched.Pass(context.Background()); err != nil {
		t.Fatalf("Pass() error = %v", err)
	}
	// Instance 11 starts two behind, so it takes the first two imports and
	// the third goes wherever the counts have leveled (lowest id wins ties).
	if store.assigned[1] != 11 || store.assigned[2] != 11 {
		t.Errorf("assigned = %v, want imports 1 and 2 on instance 11", store.assigned)
	}
	if store.assigned[3] != 10 {
		t.Errorf("assigned = %v, want import 3 on instance 10", store.assigned)
	}
}

func TestPassRespectsCapacity(t *testing.T) {
	store := newFakeSchedulerStore()
	store.pending = []ArtifactImport{{ID: 1}, {ID: 2}, {ID: 3}}
	store.loads = []InstanceLoad{
		{Instance: instance(10, 1), Assigned: 0},
		{Instance: instance(11, 1), Assigned: 0},
	}
	sched := NewScheduler(store, time.Minute, 2*time.Minute)

	if err := sched.Pass(context.Background()); err != nil {
		t.Fatalf("Pass() error = %v", err)
	}
	if len(store.assigned) != 2 {
		t.Errorf("assigned %d imports, want 2 (total capacity)", len(store.assigned))
	}
	if _, ok := store.assigned[3]; ok {
		t.Error("import 3 assigned past capacity")
	}
}

func TestPassNoEligibleInstances(t *testing.T) {
	store := newFakeSchedulerStore()
	store.pending = []ArtifactImport{{ID: 1}}
	sched := NewScheduler(store, time.Minute, 2*time.Minute)

	if err := sched.Pass(context.Background()); err != nil {
		t.Fatalf("Pass() error = %v", err)
	}
	if len(store.assigned) != 0 {
		t.Errorf("assigned = %v, want none", store.assigned)
	}
}

func TestPassSkipsRacedImports(t *testing.T) {
	store := newFakeSchedulerStore()
	store.pending = []ArtifactImport{{ID: 1}, {ID: 2}}
	store.loads = []InstanceLoad{{Instance: instance(10, 5), Assigned: 0}}
	store.failWith[1] = ErrAlreadyScheduled
	sched := NewScheduler(store, time.Minute, 2*time.Minute)

	if err := sched.Pass(context.Background()); err != nil {
		t.Fatalf("Pass() error = %v", err)
	}
	if _, ok := store.assigned[1]; ok {
		t.Error("raced import must not be assigned")
	}
	if store.assigned[2] != 10 {
		t.Errorf("assigned = %v, want import 2 on instance 10", store.assigned)
	}
}

func TestPassDropsFullInstanceOnCapacityError(t *testing.T) {
	store := newFakeSchedulerStore()
	store.pending = []ArtifactImport{{ID: 1}, {ID: 2}}
	store.loads = []InstanceLoad{{Instance: instance(10, 5), Assigned: 0}}
	store.failWith[1] = ErrCapacity
	store.failWith[2] = ErrCapacity
	sched := NewScheduler(store, time.Minute, 2*time.Minute)

	if err := sched.Pass(context.Background()); err != nil {
		t.Fatalf("Pass() error = %v", err)
	}
	if len(store.assigned) != 0 {
		t.Errorf("assigned = %v, want none once the instance reports full", store.assigned)
	}
}

func TestPassStaleCutoff(t *testing.T) {
	store := newFakeSchedulerStore()
	timeout := 2 * time.Minute
	sched := NewScheduler(store, time.Minute, timeout)

	before := time.Now().UTC().Add(-timeout)
	if err := sched.Pass(context.Background()); err != nil {
		t.Fatalf("Pass() error = %v", err)
	}
	after := time.Now().UTC().Add(-timeout)
	if store.staleFrom.Before(before) || store.staleFrom.After(after) {
		t.Errorf("stale cutoff = %v, want about %v ago", store.staleFrom, timeout)
	}
}

func TestPickInstance(t *testing.T) {
	loads := []InstanceLoad{
		{Instance: instance(1, 2), Assigned: 2},
		{Instance: instance(2, 4), Assigned: 1},
		{Instance: instance(3, 4), Assigned: 1},
	}
	if got := pickInstance(loads); got != 1 {
		t.Errorf("pickInstance = %d, want index 1 (least loaded, lowest id)", got)
	}
	loads[1].Assigned = 4
	loads[2].Assigned = 4
	if got := pickInstance(loads); got != -1 {
		t.Errorf("pickInstance = %d, want -1 when all full", got)
	}
}
