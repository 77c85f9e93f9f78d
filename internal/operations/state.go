package operations

import (
	"sync"
	"time"

	"mmmcli/internal/analysis"
	"mmmcli/internal/config"
	"mmmcli/internal/dataset"
	"mmmcli/internal/mmm"
	"mmmcli/internal/optimize"
	"mmmcli/internal/preprocessing"
)

// OperationStatusValue represents the overall operation status enum
type OperationStatusValue string

const (
	OperationStatusPending   OperationStatusValue = "pending"
	OperationStatusRunning   OperationStatusValue = "running"
	OperationStatusCompleted OperationStatusValue = "completed"
	OperationStatusFailed    OperationStatusValue = "failed"
	OperationStatusCancelled OperationStatusValue = "cancelled"
)

// Artifacts are the outputs steps hand to later steps. Only the step
// currently executing writes them; steps of one operation never overlap.
type Artifacts struct {
	// Prepare
	Observations *dataset.Observations
	Train        *dataset.Observations
	Test         *dataset.Observations
	MediaScaler  *preprocessing.CustomScaler
	TargetScaler *preprocessing.CustomScaler
	// ExtraScaler is nil when the run has no extra features.
	ExtraScaler *preprocessing.CustomScaler
	CostScaler  *preprocessing.CustomScaler
	// Scaled training and test inputs.
	TrainMedia  [][]float64
	TrainTarget []float64
	TrainExtra  [][]float64
	TestMedia   [][]float64
	TestExtra   [][]float64
	MediaPrior  []float64
	// Costs is the unscaled spend per channel over the training window.
	Costs []float64

	// Fit
	Model *mmm.Model

	// Evaluate and metrics
	Evaluation   *analysis.FitQuality
	Summary      []analysis.ParamSummary
	Metrics      *analysis.PosteriorMetrics
	Contribution *analysis.ContributionFrame

	// Optimize
	Optimization *optimize.Result

	// Export
	ReportFiles []string
}

// OperationState represents the complete state of an operation execution
type OperationState struct {
	mu sync.RWMutex

	ID        string               `json:"id"`
	Status    OperationStatusValue `json:"status"`
	StartTime time.Time            `json:"start_time"`
	EndTime   *time.Time           `json:"end_time,omitempty"`

	Steps map[string]*StepState `json:"steps"`

	// Config is the configuration of this run. Steps treat it as read-only.
	Config *config.Config `json:"-"`

	Artifacts *Artifacts `json:"-"`

	Error error `json:"-"`
}

// NewOperationState creates a new operation state
func NewOperationState(id string, cfg *config.Config) *OperationState {
	return &OperationState{
		ID:        id,
		Status:    OperationStatusPending,
		StartTime: time.Now(),
		Steps:     make(map[string]*StepState),
		Config:    cfg,
		Artifacts: &Artifacts{},
	}
}

// Start marks the operation as running
func (p *OperationState) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Status = OperationStatusRunning
	p.StartTime = time.Now()
}

// Complete marks the operation as completed
func (p *OperationState) Complete() {
	p.finish(OperationStatusCompleted, nil)
}

// Fail marks the operation as failed
func (p *OperationState) Fail(err error) {
	p.finish(OperationStatusFailed, err)
}

// Cancel marks the operation as cancelled
func (p *OperationState) Cancel(err error) {
	p.finish(OperationStatusCancelled, err)
}

func (p *OperationState) finish(status OperationStatusValue, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	p.EndTime = &now
	p.Status = status
	p.Error = err
}

// GetStatus returns the current operation status
func (p *OperationState) GetStatus() OperationStatusValue {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Status
}

// GetStage returns the state of a specific Step
func (p *OperationState) GetStage(stepID string) *StepState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Steps[stepID]
}

// SetStage updates the state of a specific Step
func (p *OperationState) SetStage(stepID string, state *StepState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Steps[stepID] = state
}

// Duration returns the duration of the operation execution
func (p *OperationState) Duration() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.EndTime != nil {
		return p.EndTime.Sub(p.StartTime)
	}
	return time.Since(p.StartTime)
}

// StepsWithStatus returns the steps currently in status
func (p *OperationState) StepsWithStatus(status StepStatus) []*StepState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*StepState
	for _, step := range p.Steps {
		if step.GetStatus() == status {
			out = append(out, step)
		}
	}
	return out
}

// HasFailures returns true if any Step has failed
func (p *OperationState) HasFailures() bool {
	return len(p.StepsWithStatus(StepStatusFailed)) > 0
}

// Response snapshots the state for callers outside the pipeline.
func (p *OperationState) Response() *OperationResponse {
	p.mu.RLock()
	defer p.mu.RUnlock()

	resp := &OperationResponse{
		ID:     p.ID,
		Status: p.Status,
		Steps:  make(map[string]*StepState, len(p.Steps)),
	}
	if p.EndTime != nil {
		resp.Duration = p.EndTime.Sub(p.StartTime)
	} else {
		resp.Duration = time.Since(p.StartTime)
	}
	for id, step := range p.Steps {
		resp.Steps[id] = step.clone()
	}
	if p.Error != nil {
		resp.Error = p.Error.Error()
	}
	return resp
}
