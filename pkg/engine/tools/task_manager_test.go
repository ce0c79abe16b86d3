package tools

import (
	"context"
	"testing"
)

func TestTaskManagerTool_CreateListGetUpdateDelete(t *testing.T) {
	root := t.TempDir()
	tool := NewTaskManagerTool(root)
	ctx := context.Background()

	res, err := tool.Execute(ctx, map[string]interface{}{
		"operation": "create",
		"title":     "write tests",
	})
	if err != nil || res.Status != "success" {
		t.Fatalf("create failed: err=%v res=%+v", err, res)
	}
	rec, ok := res.Data.(TaskRecord)
	if !ok {
		t.Fatalf("expected TaskRecord data, got %T", res.Data)
	}
	if rec.Status != TaskRecordPending {
		t.Fatalf("expected pending status, got %s", rec.Status)
	}

	listRes, err := tool.Execute(ctx, map[string]interface{}{"operation": "list"})
	if err != nil || listRes.Status != "success" {
		t.Fatalf("list failed: err=%v res=%+v", err, listRes)
	}
	tasks, ok := listRes.Data.([]TaskRecord)
	if !ok || len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %+v", listRes.Data)
	}

	getRes, err := tool.Execute(ctx, map[string]interface{}{"operation": "get", "task_id": rec.ID})
	if err != nil || getRes.Status != "success" {
		t.Fatalf("get failed: err=%v res=%+v", err, getRes)
	}

	updRes, err := tool.Execute(ctx, map[string]interface{}{
		"operation": "update",
		"task_id":   rec.ID,
		"status":    "in_progress",
	})
	if err != nil || updRes.Status != "success" {
		t.Fatalf("update failed: err=%v res=%+v", err, updRes)
	}

	delRes, err := tool.Execute(ctx, map[string]interface{}{"operation": "delete", "task_id": rec.ID})
	if err != nil || delRes.Status != "success" {
		t.Fatalf("delete failed: err=%v res=%+v", err, delRes)
	}
}

func TestTaskManagerTool_RejectsMissingDependency(t *testing.T) {
	root := t.TempDir()
	tool := NewTaskManagerTool(root)
	ctx := context.Background()

	res, err := tool.Execute(ctx, map[string]interface{}{
		"operation":    "create",
		"title":        "deploy",
		"dependencies": []interface{}{"ghost-id"},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Status != "error" {
		t.Fatalf("expected error status for missing dependency, got %s", res.Status)
	}
}

func TestTaskManagerTool_BlocksTransitionUntilDependencyCompleted(t *testing.T) {
	root := t.TempDir()
	tool := NewTaskManagerTool(root)
	ctx := context.Background()

	baseRes, _ := tool.Execute(ctx, map[string]interface{}{"operation": "create", "title": "build"})
	base := baseRes.Data.(TaskRecord)

	depRes, _ := tool.Execute(ctx, map[string]interface{}{
		"operation":    "create",
		"title":        "deploy",
		"dependencies": []interface{}{base.ID},
	})
	dep := depRes.Data.(TaskRecord)

	blocked, err := tool.Execute(ctx, map[string]interface{}{
		"operation": "update",
		"task_id":   dep.ID,
		"status":    "in_progress",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if blocked.Status != "error" {
		t.Fatalf("expected transition to be blocked, got %s", blocked.Status)
	}

	if _, err := tool.Execute(ctx, map[string]interface{}{
		"operation": "update",
		"task_id":   base.ID,
		"status":    "completed",
	}); err != nil {
		t.Fatalf("unexpected err completing dependency: %v", err)
	}

	allowed, err := tool.Execute(ctx, map[string]interface{}{
		"operation": "update",
		"task_id":   dep.ID,
		"status":    "in_progress",
	})
	if err != nil || allowed.Status != "success" {
		t.Fatalf("expected transition to succeed after dependency completed: err=%v res=%+v", err, allowed)
	}
}

func TestTaskManagerTool_DeletePreventedByDependent(t *testing.T) {
	root := t.TempDir()
	tool := NewTaskManagerTool(root)
	ctx := context.Background()

	baseRes, _ := tool.Execute(ctx, map[string]interface{}{"operation": "create", "title": "build"})
	base := baseRes.Data.(TaskRecord)

	_, _ = tool.Execute(ctx, map[string]interface{}{
		"operation":    "create",
		"title":        "deploy",
		"dependencies": []interface{}{base.ID},
	})

	res, err := tool.Execute(ctx, map[string]interface{}{"operation": "delete", "task_id": base.ID})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Status != "error" {
		t.Fatalf("expected delete to be rejected, got %s", res.Status)
	}
}

func TestTaskManagerTool_ClearCompleted(t *testing.T) {
	root := t.TempDir()
	tool := NewTaskManagerTool(root)
	ctx := context.Background()

	res, _ := tool.Execute(ctx, map[string]interface{}{"operation": "create", "title": "one-off"})
	rec := res.Data.(TaskRecord)
	_, _ = tool.Execute(ctx, map[string]interface{}{"operation": "update", "task_id": rec.ID, "status": "completed"})

	clearRes, err := tool.Execute(ctx, map[string]interface{}{"operation": "clear_completed"})
	if err != nil || clearRes.Status != "success" {
		t.Fatalf("clear_completed failed: err=%v res=%+v", err, clearRes)
	}

	listRes, _ := tool.Execute(ctx, map[string]interface{}{"operation": "list"})
	tasks := listRes.Data.([]TaskRecord)
	if len(tasks) != 0 {
		t.Fatalf("expected 0 tasks after clear, got %d", len(tasks))
	}
}
