package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/beastmode/internal/ir"
)

// DryRun acknowledges every dispatch without contacting a backend. It
// stands in when no repository is configured so conversations can be
// exercised end to end.
type DryRun struct {
	n atomic.Int64
}

// Trigger logs the dispatch and returns a synthetic run reference.
func (d *DryRun) Trigger(ctx context.Context, workflowID string, inputs ir.Inputs) (RunRef, error) {
	if err := ctx.Err(); err != nil {
		return RunRef{}, &Error{Class: NotDelivered, WorkflowID: workflowID, Err: err}
	}
	n := d.n.Add(1)
	slog.Info("dry run dispatch", "workflow_id", workflowID, "inputs", inputs.String(), "run", n)
	return RunRef{ID: fmt.Sprintf("dry-run-%d", n)}, nil
}
