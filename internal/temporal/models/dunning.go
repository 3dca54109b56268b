package models

import "time"

// ===================== Sweep Workflow Models =====================

// DunningSweepWorkflowInput is the input of the scheduled sweep workflow
type DunningSweepWorkflowInput struct {
	// RelayOutbox runs a relay pass after the sweep so the events it wrote go
	// out without waiting for the relay tick.
	RelayOutbox bool `json:"relay_outbox"`
}

// DunningSweepWorkflowResult summarises one sweep workflow run
type DunningSweepWorkflowResult struct {
	Retries        int       `json:"retries"`
	InitialCharges int       `json:"initial_charges"`
	Generated      int       `json:"generated"`
	Skipped        int       `json:"skipped"`
	Conflicts      int       `json:"conflicts"`
	Failed         int       `json:"failed"`
	Published      int       `json:"published"`
	CompletedAt    time.Time `json:"completed_at"`
}
