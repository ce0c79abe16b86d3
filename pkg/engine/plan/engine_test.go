package plan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedRunner struct {
	results map[string]string // task ID -> assistant text
	errors  map[string]error  // task ID -> run error
	calls   []string          // task IDs in call order
}

func (r *scriptedRunner) RunTask(ctx context.Context, sessionID string, task Task, order, total int) (string, error) {
	r.calls = append(r.calls, task.ID)
	if err, ok := r.errors[task.ID]; ok {
		return "", err
	}
	return r.results[task.ID], nil
}

func approvedPlan(tasks ...Task) *Document {
	return &Document{
		ID:        "plan-1",
		SessionID: "session-1",
		Status:    StatusApproved,
		Tasks:     tasks,
		UpdatedAt: time.Now(),
	}
}

func TestEngineRun_CompletesAllTasksInOrder(t *testing.T) {
	d := approvedPlan(newTask("a", 1), newTask("b", 2, "a"))
	runner := &scriptedRunner{results: map[string]string{"a": "done", "b": "done"}}

	err := NewEngine(runner).Run(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, d.Status)
	assert.Equal(t, []string{"a", "b"}, runner.calls)

	for _, task := range d.Tasks {
		assert.Equal(t, TaskCompleted, task.Status)
		assert.NotNil(t, task.CompletedAt)
	}
}

func TestEngineRun_HaltsOnErrorSignalAndSkipsDownstream(t *testing.T) {
	d := approvedPlan(newTask("a", 1), newTask("b", 2, "a"))
	runner := &scriptedRunner{results: map[string]string{"a": "Error: build failed"}}

	err := NewEngine(runner).Run(context.Background(), d)
	require.Error(t, err)
	var haltErr *HaltError
	require.ErrorAs(t, err, &haltErr)

	a, _ := d.TaskByID("a")
	assert.Equal(t, TaskFailed, a.Status)
	b, _ := d.TaskByID("b")
	assert.Equal(t, TaskPending, b.Status, "downstream task must never run after a halt")
	assert.Equal(t, []string{"a"}, runner.calls)
}

func TestEngineRun_RunnerErrorAlsoHalts(t *testing.T) {
	d := approvedPlan(newTask("a", 1))
	runner := &scriptedRunner{errors: map[string]error{"a": assertableErr{"boom"}}}

	err := NewEngine(runner).Run(context.Background(), d)
	require.Error(t, err)
	a, _ := d.TaskByID("a")
	assert.Equal(t, TaskFailed, a.Status)
	assert.Equal(t, "boom", a.Notes)
}

func TestEngineRun_RejectsPlanNotYetApproved(t *testing.T) {
	d := &Document{Status: StatusDraft, Tasks: []Task{newTask("a", 1)}}
	runner := &scriptedRunner{}

	err := NewEngine(runner).Run(context.Background(), d)
	assert.Error(t, err)
	assert.Empty(t, runner.calls)
}

type assertableErr struct{ msg string }

func (e assertableErr) Error() string { return e.msg }
