package operations

import (
	"time"

	"mmmcli/internal/config"
)

// Step identifiers
const (
	StepIDPrepare  = "prepare"
	StepIDFit      = "fit"
	StepIDEvaluate = "evaluate"
	StepIDMetrics  = "metrics"
	StepIDOptimize = "optimize"
	StepIDExport   = "export"
)

// Step names
const (
	StepNamePrepare  = "Data Preparation"
	StepNameFit      = "Model Fitting"
	StepNameEvaluate = "Hold-out Evaluation"
	StepNameMetrics  = "Posterior Analysis"
	StepNameOptimize = "Budget Optimization"
	StepNameExport   = "Report Export"
)

// WebSocket event types
const (
	EventTypeRunStatus   = "run:status"
	EventTypeRunProgress = "run:progress"
	EventTypeRunComplete = "run:complete"
	EventTypeRunError    = "run:error"
)

// Default timeouts
const (
	DefaultStepTimeout     = 30 * time.Minute
	DefaultFitTimeout      = 2 * time.Hour
	DefaultOptimizeTimeout = 10 * time.Minute
)

// OperationRequest asks the manager to run the pipeline once.
type OperationRequest struct {
	ID     string
	Config *config.Config
	// Steps limits the run to the named steps; all registered steps run
	// when empty.
	Steps []string
}

// OperationResponse summarises a finished operation
type OperationResponse struct {
	ID       string                `json:"id"`
	Status   OperationStatusValue  `json:"status"`
	Duration time.Duration         `json:"duration"`
	Steps    map[string]*StepState `json:"steps"`
	Error    string                `json:"error,omitempty"`
}

// ProgressUpdate is emitted whenever a step starts, finishes or is skipped.
type ProgressUpdate struct {
	OperationID string     `json:"operation_id"`
	StepID      string     `json:"step_id"`
	Status      StepStatus `json:"status"`
	Progress    float64    `json:"progress"`
	Message     string     `json:"message"`
	ETA         string     `json:"eta,omitempty"`
}
