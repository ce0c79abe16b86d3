// Package plan implements the structured planning document: a dependency
// graph of tasks that the model proposes, the human approves, and the
// agent loop then executes one task at a time in topological order.
//
// Grounded on the original project's tui/plan.rs and llm/tools/plan_tool.rs:
// the task/dependency/complexity shape, the Kahn's-algorithm finalize check,
// and the halt-on-fail execution policy are all carried over unchanged in
// meaning, re-expressed as idiomatic Go types and methods.
package plan

import (
	"fmt"
	"sort"
	"time"
)

// Status is the lifecycle state of a PlanDocument.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusInProgress      Status = "in_progress"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
)

// TaskStatus is the lifecycle state of a single PlanTask.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskBlocked    TaskStatus = "blocked"
	TaskSkipped    TaskStatus = "skipped"
)

// TaskType categorizes the kind of work a task represents. "other" carries
// a free-form label in Task.TaskTypeLabel, mirroring a tagged-union
// Other(String) variant in a language that has one.
type TaskType string

const (
	TaskResearch      TaskType = "research"
	TaskEdit          TaskType = "edit"
	TaskCreate        TaskType = "create"
	TaskDelete        TaskType = "delete"
	TaskTest          TaskType = "test"
	TaskRefactor      TaskType = "refactor"
	TaskDocumentation TaskType = "documentation"
	TaskConfiguration TaskType = "configuration"
	TaskBuild         TaskType = "build"
	TaskOther         TaskType = "other"
)

// Task is a single unit of work within a Document.
type Task struct {
	ID                 string     `json:"id"`
	Order              int        `json:"order"` // 1-based, author-declared sequence
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	TaskType           TaskType   `json:"task_type"`
	TaskTypeLabel      string     `json:"task_type_label,omitempty"` // set when TaskType == TaskOther
	Dependencies       []string   `json:"dependencies"`              // task IDs within the same plan
	Complexity         int        `json:"complexity"`                // clamped to [1,5]
	AcceptanceCriteria []string   `json:"acceptance_criteria,omitempty"`
	Status             TaskStatus `json:"status"`
	Notes              string     `json:"notes,omitempty"`
	BlockedReason       string    `json:"blocked_reason,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

// ClampComplexity forces Complexity into [1,5].
func (t *Task) ClampComplexity() {
	if t.Complexity < 1 {
		t.Complexity = 1
	}
	if t.Complexity > 5 {
		t.Complexity = 5
	}
}

// Document is the full planning artifact for one session.
type Document struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"session_id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Context        string     `json:"context"`
	Risks          []string   `json:"risks,omitempty"`
	TechnicalStack []string   `json:"technical_stack,omitempty"`
	TestStrategy   string     `json:"test_strategy,omitempty"`
	Tasks          []Task     `json:"tasks"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ApprovedAt     *time.Time `json:"approved_at,omitempty"`
}

// TaskByID looks up a task by id.
func (d *Document) TaskByID(id string) (*Task, bool) {
	for i := range d.Tasks {
		if d.Tasks[i].ID == id {
			return &d.Tasks[i], true
		}
	}
	return nil, false
}

// ValidateDependencies checks that every dependency id resolves to a task
// in this plan, then runs TasksInOrder to confirm the graph is acyclic.
// On a cycle it names exactly the tasks that never left the unprocessed
// set — a more precise diagnostic than naming every task with any
// dependency, since only the tasks on (or downstream of) the cycle fail to
// resolve.
func (d *Document) ValidateDependencies() error {
	ids := make(map[string]bool, len(d.Tasks))
	for _, t := range d.Tasks {
		ids[t.ID] = true
	}
	for _, t := range d.Tasks {
		for _, dep := range t.Dependencies {
			if !ids[dep] {
				return fmt.Errorf("task %q declares unknown dependency %q", t.ID, dep)
			}
		}
	}

	_, err := d.TasksInOrder()
	return err
}

// TasksInOrder runs Kahn's algorithm over the dependency graph and returns
// tasks in topological order, ties broken by ascending declared Order. It
// returns an error naming the still-connected (unresolvable) tasks if the
// graph contains a cycle.
func (d *Document) TasksInOrder() ([]Task, error) {
	indegree := make(map[string]int, len(d.Tasks))
	dependents := make(map[string][]string, len(d.Tasks))
	byID := make(map[string]Task, len(d.Tasks))

	for _, t := range d.Tasks {
		byID[t.ID] = t
		if _, ok := indegree[t.ID]; !ok {
			indegree[t.ID] = 0
		}
		for _, dep := range t.Dependencies {
			indegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sortByOrder(queue, byID)

	var sortedIDs []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sortedIDs = append(sortedIDs, id)

		var ready []string
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
		sortByOrder(ready, byID)
		queue = append(queue, ready...)
		sortByOrder(queue, byID)
	}

	if len(sortedIDs) != len(d.Tasks) {
		resolved := make(map[string]bool, len(sortedIDs))
		for _, id := range sortedIDs {
			resolved[id] = true
		}
		var stuck []string
		for _, t := range d.Tasks {
			if !resolved[t.ID] {
				stuck = append(stuck, t.ID)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("plan has a dependency cycle involving tasks: %v", stuck)
	}

	out := make([]Task, 0, len(sortedIDs))
	for _, id := range sortedIDs {
		out = append(out, byID[id])
	}
	return out, nil
}

func sortByOrder(ids []string, byID map[string]Task) {
	sort.SliceStable(ids, func(i, j int) bool {
		return byID[ids[i]].Order < byID[ids[j]].Order
	})
}

// Finalize transitions a Draft plan to PendingApproval. Requires at least
// one task and a valid, acyclic dependency graph.
func (d *Document) Finalize(now time.Time) error {
	if len(d.Tasks) == 0 {
		return fmt.Errorf("cannot finalize a plan with zero tasks")
	}
	if err := d.ValidateDependencies(); err != nil {
		return err
	}
	d.Status = StatusPendingApproval
	d.UpdatedAt = now
	return nil
}

// Approve transitions PendingApproval -> Approved -> InProgress.
func (d *Document) Approve(now time.Time) error {
	if d.Status != StatusPendingApproval {
		return fmt.Errorf("cannot approve plan in status %q", d.Status)
	}
	d.Status = StatusApproved
	d.ApprovedAt = &now
	d.UpdatedAt = now
	d.Status = StatusInProgress
	return nil
}

// Reject transitions PendingApproval -> Rejected.
func (d *Document) Reject(now time.Time) error {
	if d.Status != StatusPendingApproval {
		return fmt.Errorf("cannot reject plan in status %q", d.Status)
	}
	d.Status = StatusRejected
	d.UpdatedAt = now
	return nil
}

// NextExecutableTask returns the first Pending task (in topological order)
// whose dependencies are all Completed or Skipped, or nil if none is ready.
func (d *Document) NextExecutableTask() (*Task, error) {
	ordered, err := d.TasksInOrder()
	if err != nil {
		return nil, err
	}
	for _, t := range ordered {
		if t.Status != TaskPending {
			continue
		}
		ready := true
		for _, depID := range t.Dependencies {
			dep, ok := d.TaskByID(depID)
			if !ok || (dep.Status != TaskCompleted && dep.Status != TaskSkipped) {
				ready = false
				break
			}
		}
		if ready {
			task, _ := d.TaskByID(t.ID)
			return task, nil
		}
	}
	return nil, nil
}

// HasFailedTask reports whether any task has reached Failed status, which
// halts all further execution per halt-on-fail policy.
func (d *Document) HasFailedTask() bool {
	for _, t := range d.Tasks {
		if t.Status == TaskFailed {
			return true
		}
	}
	return false
}

// AllTerminal reports whether no Pending or InProgress tasks remain.
func (d *Document) AllTerminal() bool {
	for _, t := range d.Tasks {
		if t.Status == TaskPending || t.Status == TaskInProgress {
			return false
		}
	}
	return true
}
