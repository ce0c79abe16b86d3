package plan

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TaskRunner executes one plan task through the agent loop and returns the
// final assistant text produced for that task. The engine classifies
// success/failure from that text; it never inspects the agent loop's
// internals directly.
type TaskRunner interface {
	RunTask(ctx context.Context, sessionID string, task Task, order, total int) (assistantText string, err error)
}

// errorSignals are the case-insensitive substrings spec.md §4.E enumerates
// verbatim; if any is present anywhere in a task's final assistant text,
// the task is classified Failed. This is a deliberately simple textual scan
// (see Document's halt-on-fail policy); a stricter classifier is a known
// open question, not implemented here.
var errorSignals = []string{
	"error:",
	"failed to",
	"cannot",
	"unable to",
	"fatal:",
	"compilation error",
	"build failed",
}

// errorNearExecutingWindow bounds the "'error' near 'executing'" heuristic
// spec.md §4.E names alongside the literal substrings above.
const errorNearExecutingWindow = 40

func containsErrorSignal(text string) bool {
	lower := strings.ToLower(text)
	for _, sig := range errorSignals {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return errorNearExecuting(lower)
}

// errorNearExecuting reports whether "error" occurs within
// errorNearExecutingWindow characters of "executing" anywhere in text.
func errorNearExecuting(lower string) bool {
	executingIdx := indicesOf(lower, "executing")
	errorIdx := indicesOf(lower, "error")
	for _, e := range executingIdx {
		for _, r := range errorIdx {
			d := e - r
			if d < 0 {
				d = -d
			}
			if d <= errorNearExecutingWindow {
				return true
			}
		}
	}
	return false
}

func indicesOf(s, substr string) []int {
	var out []int
	for i := 0; ; {
		j := strings.Index(s[i:], substr)
		if j < 0 {
			return out
		}
		out = append(out, i+j)
		i += j + len(substr)
	}
}

// Engine drives sequential, halt-on-fail execution of an approved plan.
type Engine struct {
	runner TaskRunner
}

// NewEngine creates a plan execution engine bound to the given task runner.
func NewEngine(runner TaskRunner) *Engine {
	return &Engine{runner: runner}
}

// Run executes an approved plan's tasks one at a time in topological order
// until completion, the first failure, or context cancellation. It mutates
// d in place; callers are responsible for persisting the document after
// each task (or relying on the runner to do so, if it is store-backed).
func (e *Engine) Run(ctx context.Context, d *Document) error {
	if d.Status != StatusInProgress && d.Status != StatusApproved {
		return fmt.Errorf("cannot execute plan in status %q", d.Status)
	}
	d.Status = StatusInProgress
	total := len(d.Tasks)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if d.HasFailedTask() {
			break
		}

		next, err := d.NextExecutableTask()
		if err != nil {
			return err
		}
		if next == nil {
			break
		}

		next.Status = TaskInProgress
		d.UpdatedAt = time.Now()

		text, runErr := e.runner.RunTask(ctx, d.SessionID, *next, next.Order, total)
		now := time.Now()

		task, _ := d.TaskByID(next.ID)
		switch {
		case runErr != nil:
			task.Status = TaskFailed
			task.Notes = runErr.Error()
		case containsErrorSignal(text):
			task.Status = TaskFailed
			task.Notes = text
		default:
			task.Status = TaskCompleted
			task.CompletedAt = &now
			task.Notes = text
		}
		d.UpdatedAt = now

		if task.Status == TaskFailed {
			break
		}
	}

	if d.HasFailedTask() {
		return &HaltError{Plan: d}
	}
	if d.AllTerminal() {
		d.Status = StatusCompleted
		d.UpdatedAt = time.Now()
	}
	return nil
}

// HaltError is returned when plan execution halts because a task failed.
// Callers use it to append the required system message noting the halt.
type HaltError struct {
	Plan *Document
}

func (e *HaltError) Error() string {
	for _, t := range e.Plan.Tasks {
		if t.Status == TaskFailed {
			return fmt.Sprintf("plan execution halted: task %d (%s) failed", t.Order, t.Title)
		}
	}
	return "plan execution halted"
}
