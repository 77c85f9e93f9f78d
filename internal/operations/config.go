package operations

import (
	"time"
)

// Config controls how the manager executes steps
type Config struct {
	// StepTimeouts overrides DefaultStepTimeout per step
	StepTimeouts map[string]time.Duration `json:"step_timeouts"`

	// ContinueOnError keeps running steps whose dependencies still
	// completed after an unrelated step failed.
	ContinueOnError bool `json:"continue_on_error"`
}

// NewConfig returns the default execution configuration
func NewConfig() *Config {
	return &Config{
		StepTimeouts: map[string]time.Duration{
			StepIDFit:      DefaultFitTimeout,
			StepIDOptimize: DefaultOptimizeTimeout,
		},
	}
}

// GetStepTimeout returns the timeout for a specific Step
func (c *Config) GetStepTimeout(stepID string) time.Duration {
	if timeout, ok := c.StepTimeouts[stepID]; ok && timeout > 0 {
		return timeout
	}
	return DefaultStepTimeout
}

// SetStepTimeout sets the timeout for a specific Step
func (c *Config) SetStepTimeout(stepID string, timeout time.Duration) {
	if c.StepTimeouts == nil {
		c.StepTimeouts = make(map[string]time.Duration)
	}
	c.StepTimeouts[stepID] = timeout
}
