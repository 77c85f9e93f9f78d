package v1

import "time"

// RunAccepted is returned by POST /runs
type RunAccepted struct {
	RunID     string    `json:"run_id"`
	Status    string    `json:"status"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	Links     RunLinks  `json:"links"`
}

// RunLinks point at the resources of one run
type RunLinks struct {
	Self     string `json:"self"`
	Summary  string `json:"summary"`
	Metrics  string `json:"metrics"`
	Optimize string `json:"optimize"`
}

// NewRunLinks builds the links of run id below base, e.g. /api/v1/runs
func NewRunLinks(base, id string) RunLinks {
	self := base + "/" + id
	return RunLinks{
		Self:     self,
		Summary:  self + "/summary",
		Metrics:  self + "/metrics",
		Optimize: self + "/optimize",
	}
}

// RunList is returned by GET /runs
type RunList struct {
	Runs  interface{} `json:"runs"`
	Count int         `json:"count"`
}
