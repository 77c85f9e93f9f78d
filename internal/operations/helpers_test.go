package operations

import (
	"context"
	"sync"
)

// funcStep is a Step driven by closures.
type funcStep struct {
	BaseStage
	run      func(ctx context.Context, state *OperationState) error
	validate func(state *OperationState) error
}

func newFuncStep(id string, deps []string, run func(ctx context.Context, state *OperationState) error) *funcStep {
	return &funcStep{BaseStage: NewBaseStage(id, "step "+id, deps), run: run}
}

func (s *funcStep) Validate(state *OperationState) error {
	if s.validate != nil {
		return s.validate(state)
	}
	return nil
}

func (s *funcStep) Execute(ctx context.Context, state *OperationState) error {
	if s.run == nil {
		return nil
	}
	return s.run(ctx, state)
}

func succeed(context.Context, *OperationState) error { return nil }

// recorder collects progress updates.
type recorder struct {
	mu      sync.Mutex
	updates []ProgressUpdate
}

func (r *recorder) ReportProgress(_ context.Context, u ProgressUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) statuses(stepID string) []StepStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []StepStatus
	for _, u := range r.updates {
		if u.StepID == stepID {
			out = append(out, u.Status)
		}
	}
	return out
}

func (r *recorder) last() ProgressUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates[len(r.updates)-1]
}

func mustRegistry(steps ...Step) *Registry {
	r := NewRegistry()
	for _, s := range steps {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
	return r
}

func stepIDs(steps []Step) []string {
	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.ID()
	}
	return ids
}
