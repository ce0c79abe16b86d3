package plan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTask(id string, order int, deps ...string) Task {
	return Task{ID: id, Order: order, Title: id, Status: TaskPending, Dependencies: deps}
}

func TestTasksInOrder_RespectsDependenciesAndDeclaredOrder(t *testing.T) {
	d := &Document{Tasks: []Task{
		newTask("c", 3, "a", "b"),
		newTask("a", 1),
		newTask("b", 2, "a"),
	}}

	ordered, err := d.TasksInOrder()
	require.NoError(t, err)
	require.Len(t, ordered, 3)

	ids := []string{ordered[0].ID, ordered[1].ID, ordered[2].ID}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestTasksInOrder_DetectsCycleAndNamesOnlyStuckTasks(t *testing.T) {
	// a -> (no deps), b <-> c cycle, d depends on the cycle.
	d := &Document{Tasks: []Task{
		newTask("a", 1),
		newTask("b", 2, "c"),
		newTask("c", 3, "b"),
		newTask("d", 4, "c"),
	}}

	_, err := d.TasksInOrder()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "b")
	assert.Contains(t, msg, "c")
	assert.Contains(t, msg, "d")
	assert.NotContains(t, msg, "\"a\"")
}

func TestValidateDependencies_RejectsUnknownDependency(t *testing.T) {
	d := &Document{Tasks: []Task{newTask("a", 1, "ghost")}}
	err := d.ValidateDependencies()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown dependency")
}

func TestFinalize_RequiresAtLeastOneTask(t *testing.T) {
	d := &Document{Status: StatusDraft}
	err := d.Finalize(time.Now())
	require.Error(t, err)
	assert.Equal(t, StatusDraft, d.Status)
}

func TestFinalizeApproveLifecycle(t *testing.T) {
	d := &Document{Status: StatusDraft, Tasks: []Task{newTask("a", 1)}}
	now := time.Now()

	require.NoError(t, d.Finalize(now))
	assert.Equal(t, StatusPendingApproval, d.Status)

	require.NoError(t, d.Approve(now))
	assert.Equal(t, StatusInProgress, d.Status)
	require.NotNil(t, d.ApprovedAt)

	// Can't approve twice from InProgress.
	err := d.Approve(now)
	assert.Error(t, err)
}

func TestReject_OnlyFromPendingApproval(t *testing.T) {
	d := &Document{Status: StatusDraft}
	err := d.Reject(time.Now())
	assert.Error(t, err)

	d.Status = StatusPendingApproval
	require.NoError(t, d.Reject(time.Now()))
	assert.Equal(t, StatusRejected, d.Status)
}

func TestNextExecutableTask_WaitsOnIncompleteDependency(t *testing.T) {
	d := &Document{Tasks: []Task{
		newTask("a", 1),
		newTask("b", 2, "a"),
	}}

	next, err := d.NextExecutableTask()
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "a", next.ID)

	task, _ := d.TaskByID("a")
	task.Status = TaskCompleted

	next, err = d.NextExecutableTask()
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "b", next.ID)
}

func TestHasFailedTaskAndAllTerminal(t *testing.T) {
	d := &Document{Tasks: []Task{newTask("a", 1), newTask("b", 2)}}
	assert.False(t, d.HasFailedTask())
	assert.False(t, d.AllTerminal())

	a, _ := d.TaskByID("a")
	a.Status = TaskCompleted
	b, _ := d.TaskByID("b")
	b.Status = TaskFailed

	assert.True(t, d.HasFailedTask())
	assert.True(t, d.AllTerminal())
}

func TestClampComplexity(t *testing.T) {
	hi := Task{Complexity: 99}
	hi.ClampComplexity()
	assert.Equal(t, 5, hi.Complexity)

	lo := Task{Complexity: -3}
	lo.ClampComplexity()
	assert.Equal(t, 1, lo.Complexity)
}
