package types

import (
	"fmt"
	"strings"

	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/samber/lo"
)

// TemporalWorkflowType represents the type of workflow
type TemporalWorkflowType string

const (
	TemporalDunningSweepWorkflow TemporalWorkflowType = "DunningSweepWorkflow"
)

func (w TemporalWorkflowType) String() string {
	return string(w)
}

// Validate validates the workflow type
func (w TemporalWorkflowType) Validate() error {
	allowed := []TemporalWorkflowType{
		TemporalDunningSweepWorkflow,
	}
	if lo.Contains(allowed, w) {
		return nil
	}
	return ierr.NewError("invalid workflow type").
		WithHint(fmt.Sprintf("Workflow type must be one of: %s", strings.Join(lo.Map(allowed, func(w TemporalWorkflowType, _ int) string { return string(w) }), ", "))).
		Mark(ierr.ErrValidation)
}

// WorkflowID returns the id used when the workflow is started. The sweep uses
// a fixed id so only one cron schedule exists per namespace.
func (w TemporalWorkflowType) WorkflowID(suffix string) string {
	if suffix == "" {
		return "dunning-" + strings.ToLower(string(w))
	}
	return fmt.Sprintf("dunning-%s-%s", strings.ToLower(string(w)), suffix)
}
