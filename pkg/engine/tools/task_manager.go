package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"crustly/pkg/engine/api"
)

// TaskRecordStatus is the lifecycle state of a task_manager entry.
type TaskRecordStatus string

const (
	TaskRecordPending    TaskRecordStatus = "pending"
	TaskRecordInProgress TaskRecordStatus = "in_progress"
	TaskRecordCompleted  TaskRecordStatus = "completed"
)

// TaskRecord is one entry in the flat per-working-directory task store.
type TaskRecord struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	Description  string           `json:"description,omitempty"`
	Status       TaskRecordStatus `json:"status"`
	Dependencies []string         `json:"dependencies,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

type taskStoreFile struct {
	Tasks []TaskRecord `json:"tasks"`
}

// TaskManagerTool provides CRUD and status transitions over a flat,
// file-lock-guarded task list distinct from the structured PlanTool
// document. Grounded verbatim on the original project's task.rs: the
// sibling ".crustly/tasks.json" store, the exclusive-create file lock with
// backoff retry, dependency-existence validation on create, and the
// dependency-completion gate before a task may move to in_progress or
// completed.
type TaskManagerTool struct {
	BaseTool
	workspaceRoot string
}

// NewTaskManagerTool creates a new task_manager tool.
func NewTaskManagerTool(workspaceRoot string) *TaskManagerTool {
	return &TaskManagerTool{
		BaseTool: NewBaseTool(
			"task_manager",
			"Create, update, list, get, and delete tasks in a per-working-directory task store.",
			[]ParameterDef{
				{Name: "operation", Type: "string", Description: "create | update | list | delete | get | clear_completed", Required: true},
				{Name: "task_id", Type: "string", Description: "Task id (update/delete/get)", Required: false},
				{Name: "title", Type: "string", Description: "Task title (create)", Required: false},
				{Name: "description", Type: "string", Description: "Task description (create/update)", Required: false},
				{Name: "status", Type: "string", Description: "pending | in_progress | completed (update)", Required: false},
				{Name: "dependencies", Type: "array", Description: "Task ids this task depends on (create)", Required: false},
			},
			api.RiskNone,
		),
		workspaceRoot: workspaceRoot,
	}
}

func (t *TaskManagerTool) storePath() (string, error) {
	dir, err := resolvePathInWorkspace(t.workspaceRoot, ".crustly")
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return filepath.Join(dir, "tasks.json"), nil
}

func (t *TaskManagerTool) load(path string) (*taskStoreFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &taskStoreFile{}, nil
		}
		return nil, err
	}
	var store taskStoreFile
	if err := json.Unmarshal(data, &store); err != nil {
		return nil, fmt.Errorf("task store is corrupt: %w", err)
	}
	return &store, nil
}

func (t *TaskManagerTool) save(path string, store *taskStoreFile) error {
	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data, 0644)
}

var taskManagerWriteOps = map[string]bool{
	"create": true, "update": true, "delete": true, "clear_completed": true,
}

func (t *TaskManagerTool) Execute(ctx context.Context, args api.Args) (api.ToolResult, error) {
	if taskManagerWriteOps[GetStringArg(args, "operation", "")] && IsReadOnlyMode(ctx) {
		return toolErrorf(readOnlyModeError), nil
	}
	path, err := t.storePath()
	if err != nil {
		return toolError(err), nil
	}
	lock := newFileLock(path)
	release, err := lock.acquire()
	if err != nil {
		return toolError(err), nil
	}
	defer release()

	store, err := t.load(path)
	if err != nil {
		return toolError(err), nil
	}

	op := GetStringArg(args, "operation", "")
	switch op {
	case "create":
		return t.create(path, store, args)
	case "update":
		return t.update(path, store, args)
	case "list":
		return successResult(fmt.Sprintf("%d task(s)", len(store.Tasks)), store.Tasks), nil
	case "get":
		return t.get(store, args)
	case "delete":
		return t.delete(path, store, args)
	case "clear_completed":
		return t.clearCompleted(path, store)
	default:
		return toolErrorf("unknown operation %q", op), nil
	}
}

func (t *TaskManagerTool) findIndex(store *taskStoreFile, id string) int {
	for i := range store.Tasks {
		if store.Tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func (t *TaskManagerTool) create(path string, store *taskStoreFile, args api.Args) (api.ToolResult, error) {
	title := GetStringArg(args, "title", "")
	if title == "" {
		return toolErrorf("title is required"), nil
	}
	deps := stringSliceArg(args, "dependencies")
	for _, dep := range deps {
		if t.findIndex(store, dep) < 0 {
			return toolErrorf("dependency %q does not exist", dep), nil
		}
	}

	now := time.Now()
	rec := TaskRecord{
		ID:           uuid.NewString(),
		Title:        title,
		Description:  GetStringArg(args, "description", ""),
		Status:       TaskRecordPending,
		Dependencies: deps,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	store.Tasks = append(store.Tasks, rec)
	if err := t.save(path, store); err != nil {
		return toolError(err), nil
	}
	return successResult(fmt.Sprintf("✅ Task created: %s", rec.Title), rec), nil
}

func (t *TaskManagerTool) update(path string, store *taskStoreFile, args api.Args) (api.ToolResult, error) {
	id := GetStringArg(args, "task_id", "")
	idx := t.findIndex(store, id)
	if idx < 0 {
		return toolErrorf("task %q not found", id), nil
	}
	rec := &store.Tasks[idx]

	if v, ok := args["description"].(string); ok {
		rec.Description = v
	}
	if newStatus := GetStringArg(args, "status", ""); newStatus != "" {
		status := TaskRecordStatus(newStatus)
		if status == TaskRecordInProgress || status == TaskRecordCompleted {
			for _, depID := range rec.Dependencies {
				depIdx := t.findIndex(store, depID)
				if depIdx < 0 || store.Tasks[depIdx].Status != TaskRecordCompleted {
					return toolErrorf("cannot transition to %s: dependency %q is not completed", newStatus, depID), nil
				}
			}
		}
		rec.Status = status
	}
	rec.UpdatedAt = time.Now()

	if err := t.save(path, store); err != nil {
		return toolError(err), nil
	}
	return successResult(fmt.Sprintf("✅ Task updated: %s", rec.Title), *rec), nil
}

func (t *TaskManagerTool) get(store *taskStoreFile, args api.Args) (api.ToolResult, error) {
	id := GetStringArg(args, "task_id", "")
	idx := t.findIndex(store, id)
	if idx < 0 {
		return toolErrorf("task %q not found", id), nil
	}
	return successResult(store.Tasks[idx].Title, store.Tasks[idx]), nil
}

func (t *TaskManagerTool) delete(path string, store *taskStoreFile, args api.Args) (api.ToolResult, error) {
	id := GetStringArg(args, "task_id", "")
	idx := t.findIndex(store, id)
	if idx < 0 {
		return toolErrorf("task %q not found", id), nil
	}

	for _, other := range store.Tasks {
		if other.ID == id {
			continue
		}
		for _, dep := range other.Dependencies {
			if dep == id {
				return toolErrorf("cannot delete task %q: task %q depends on it", id, other.ID), nil
			}
		}
	}

	store.Tasks = append(store.Tasks[:idx], store.Tasks[idx+1:]...)
	if err := t.save(path, store); err != nil {
		return toolError(err), nil
	}
	return successText(fmt.Sprintf("✅ Task %s deleted", id)), nil
}

func (t *TaskManagerTool) clearCompleted(path string, store *taskStoreFile) (api.ToolResult, error) {
	kept := store.Tasks[:0]
	removed := 0
	for _, rec := range store.Tasks {
		if rec.Status == TaskRecordCompleted {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	store.Tasks = kept
	if err := t.save(path, store); err != nil {
		return toolError(err), nil
	}
	return successText(fmt.Sprintf("✅ Cleared %d completed task(s)", removed)), nil
}
