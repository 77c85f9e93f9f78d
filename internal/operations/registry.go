package operations

import (
	"fmt"
	"sync"
)

// Registry holds the pipeline steps in registration order
type Registry struct {
	mu    sync.RWMutex
	steps map[string]Step
	order []string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		steps: make(map[string]Step),
	}
}

// Register adds a Step to the registry
func (r *Registry) Register(step Step) error {
	if step == nil {
		return fmt.Errorf("cannot register nil step")
	}
	id := step.ID()
	if id == "" {
		return fmt.Errorf("step ID cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.steps[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateStep, id)
	}
	r.steps[id] = step
	r.order = append(r.order, id)
	return nil
}

// Get retrieves a Step by ID
func (r *Registry) Get(id string) (Step, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	step, exists := r.steps[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrStepNotFound, id)
	}
	return step, nil
}

// Has checks if a Step is registered
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.steps[id]
	return exists
}

// ListIDs returns all registered Step IDs in registration order
func (r *Registry) ListIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Count returns the number of registered steps
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.steps)
}

// GetDependencyOrder returns steps ordered so that every step follows its
// dependencies. Ties keep registration order.
func (r *Registry) GetDependencyOrder() ([]Step, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dependents := make(map[string][]string, len(r.steps))
	inDegree := make(map[string]int, len(r.steps))
	for _, id := range r.order {
		for _, dep := range r.steps[id].GetDependencies() {
			if _, exists := r.steps[dep]; !exists {
				return nil, fmt.Errorf("%w: %s depends on %s", ErrStepNotFound, id, dep)
			}
			dependents[dep] = append(dependents[dep], id)
			inDegree[id]++
		}
	}

	// Kahn's algorithm, always taking the earliest registered ready step.
	done := make(map[string]bool, len(r.steps))
	ordered := make([]Step, 0, len(r.steps))
	for len(ordered) < len(r.steps) {
		next := ""
		for _, id := range r.order {
			if !done[id] && inDegree[id] == 0 {
				next = id
				break
			}
		}
		if next == "" {
			return nil, ErrDependencyCycle
		}
		done[next] = true
		ordered = append(ordered, r.steps[next])
		for _, d := range dependents[next] {
			inDegree[d]--
		}
	}
	return ordered, nil
}

// Plan returns the steps needed to run ids, with their transitive
// dependencies, in dependency order. All steps are returned when ids is
// empty.
func (r *Registry) Plan(ids []string) ([]Step, error) {
	ordered, err := r.GetDependencyOrder()
	if err != nil || len(ids) == 0 {
		return ordered, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	needed := make(map[string]bool)
	var visit func(id string) error
	visit = func(id string) error {
		step, ok := r.steps[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrStepNotFound, id)
		}
		if needed[id] {
			return nil
		}
		needed[id] = true
		for _, dep := range step.GetDependencies() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		return nil
	}
	for _, id := range ids {
		if err := visit(id); err != nil {
			return nil, err
		}
	}

	plan := make([]Step, 0, len(needed))
	for _, step := range ordered {
		if needed[step.ID()] {
			plan = append(plan, step)
		}
	}
	return plan, nil
}
