package runtime

import (
	"context"
	"fmt"
	"io"
	"strings"

	"crustly/pkg/engine/api"
	"crustly/pkg/engine/plan"
)

// PlanTaskRunner adapts Engine to plan.TaskRunner: it drives one plan task
// through a full turn of the agent loop and collects the assistant's final
// text for the plan engine's halt-on-fail classification.
type PlanTaskRunner struct {
	engine *Engine
}

// NewPlanTaskRunner creates a plan.TaskRunner backed by the given Engine.
func NewPlanTaskRunner(engine *Engine) *PlanTaskRunner {
	return &PlanTaskRunner{engine: engine}
}

// RunTask sends the task's description as a turn message and drains the
// resulting event stream, concatenating delta text until the turn is done.
// A rejected approval or a turn-level error surfaces as an error so the
// plan engine marks the task failed.
func (p *PlanTaskRunner) RunTask(ctx context.Context, sessionID string, task plan.Task, order, total int) (string, error) {
	message := formatTaskMessage(task, order, total)

	stream, err := p.engine.Send(ctx, sessionID, message)
	if err != nil {
		return "", fmt.Errorf("starting task %d: %w", order, err)
	}
	defer stream.Close()

	var text strings.Builder
	for {
		ev, err := stream.Recv(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return text.String(), fmt.Errorf("task %d stream error: %w", order, err)
		}

		switch ev.Type {
		case api.EventDelta:
			if ev.Delta != nil {
				text.WriteString(ev.Delta.Text)
			}
		case api.EventApproval:
			// Plan execution runs unattended: a task that requires approval
			// cannot proceed without a human, so it is treated as blocked
			// rather than silently auto-approved.
			return text.String(), fmt.Errorf("task %d requires approval for tool %q; run it interactively instead",
				order, ev.Approval.ToolCall.ToolName)
		case api.EventError:
			return text.String(), fmt.Errorf("task %d: %s", order, ev.Error.Message)
		case api.EventDone:
			return text.String(), nil
		}
	}
	return text.String(), nil
}

func formatTaskMessage(task plan.Task, order, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Execute plan task %d/%d: %s\n\n%s", order, total, task.Title, task.Description)
	if len(task.AcceptanceCriteria) > 0 {
		b.WriteString("\n\nAcceptance criteria:\n")
		for _, c := range task.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	return b.String()
}
