package orchestrator

import (
	"context"
	"errors"
	"sync"

	"autosint/internal/queue"
	"autosint/internal/store"
)

type fakeStore struct {
	mu sync.Mutex

	investigations map[string]store.Investigation
	activeCounts   map[string]int
	maxCycleOrders map[string][]store.WorkOrder

	transitions []store.InvestigationStatus
	suspensions int
	cyclesIncremented int

	getErr   error
	countErr error
}

func newFakeStore(inv store.Investigation) *fakeStore {
	return &fakeStore{
		investigations: map[string]store.Investigation{inv.ID: inv},
		activeCounts:   map[string]int{},
		maxCycleOrders: map[string][]store.WorkOrder{},
	}
}

func (f *fakeStore) CreateInvestigation(ctx context.Context, id, prompt string, parentID *string) (store.Investigation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv := store.Investigation{ID: id, Prompt: prompt, Status: store.StatusPending, ParentID: parentID}
	f.investigations[id] = inv
	return inv, nil
}

func (f *fakeStore) GetInvestigation(ctx context.Context, id string) (store.Investigation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return store.Investigation{}, f.getErr
	}
	inv, ok := f.investigations[id]
	if !ok {
		return store.Investigation{}, errors.New("not found")
	}
	return inv, nil
}

func (f *fakeStore) ListRecoverableInvestigations(ctx context.Context) ([]store.Investigation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Investigation
	for _, inv := range f.investigations {
		if !inv.Status.Terminal() {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (f *fakeStore) TransitionInvestigation(ctx context.Context, id string, status store.InvestigationStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv := f.investigations[id]
	inv.Status = status
	f.investigations[id] = inv
	f.transitions = append(f.transitions, status)
	return nil
}

func (f *fakeStore) IncrementCycleCount(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv := f.investigations[id]
	inv.CycleCount++
	f.investigations[id] = inv
	f.cyclesIncremented++
	return nil
}

func (f *fakeStore) SuspendInvestigation(ctx context.Context, id, reason string, resumeFrom store.ResumePoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv := f.investigations[id]
	inv.Status = store.StatusSuspended
	inv.SuspendedReason = reason
	inv.ResumeFrom = resumeFrom
	f.investigations[id] = inv
	f.suspensions++
	return nil
}

func (f *fakeStore) ClearSuspension(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv := f.investigations[id]
	inv.SuspendedReason = ""
	f.investigations[id] = inv
	return nil
}

func (f *fakeStore) CountActiveWorkOrders(ctx context.Context, investigationID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.activeCounts[investigationID], nil
}

func (f *fakeStore) WorkOrdersAtMaxCycle(ctx context.Context, investigationID string) ([]store.WorkOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxCycleOrders[investigationID], nil
}

type fakeBreaker struct {
	openName string
	open     bool
}

func (f *fakeBreaker) AnyHardOpen() (string, bool) {
	return f.openName, f.open
}

// fakeAnalystStore implements tools.AnalystStore so tests can drive the
// real create_work_order / produce_assessment handlers through an
// Orchestrator without a live database.
type fakeAnalystStore struct {
	mu          sync.Mutex
	workOrders  []store.WorkOrder
	assessments []store.Assessment
}

func (f *fakeAnalystStore) CreateWorkOrder(ctx context.Context, wo store.WorkOrder) (store.WorkOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workOrders = append(f.workOrders, wo)
	return wo, nil
}

func (f *fakeAnalystStore) WorkOrdersAtMaxCycle(ctx context.Context, investigationID string) ([]store.WorkOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.workOrders, nil
}

func (f *fakeAnalystStore) SearchAssessments(ctx context.Context, investigationID string, queryEmbedding []float32, limit int) ([]store.ScoredAssessment, error) {
	return nil, nil
}

func (f *fakeAnalystStore) GetAssessment(ctx context.Context, id string) (store.Assessment, error) {
	return store.Assessment{}, errors.New("not found")
}

func (f *fakeAnalystStore) CreateAssessment(ctx context.Context, a store.Assessment) (store.Assessment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assessments = append(f.assessments, a)
	return a, nil
}

type fakeAnalystQueue struct {
	mu       sync.Mutex
	enqueued []queue.Message
}

func (f *fakeAnalystQueue) Enqueue(ctx context.Context, priority queue.Priority, msg queue.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, msg)
	return nil
}
