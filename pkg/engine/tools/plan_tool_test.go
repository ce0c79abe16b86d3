package tools

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"crustly/pkg/engine/plan"
)

func TestPlanTool_CreateAddTaskFinalizeApproveLifecycle(t *testing.T) {
	root := t.TempDir()
	tool := NewPlanTool(root)
	ctx := context.Background()
	sid := uuid.NewString()

	createRes, err := tool.Execute(ctx, map[string]interface{}{
		"operation":  "create",
		"session_id": sid,
		"title":      "ship the http client",
	})
	if err != nil || createRes.Status != "success" {
		t.Fatalf("create failed: err=%v res=%+v", err, createRes)
	}

	// A second create for the same session must be rejected.
	dupRes, err := tool.Execute(ctx, map[string]interface{}{
		"operation":  "create",
		"session_id": sid,
		"title":      "second plan",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if dupRes.Status != "error" {
		t.Fatalf("expected duplicate create to fail, got %s", dupRes.Status)
	}

	task1Res, err := tool.Execute(ctx, map[string]interface{}{
		"operation":  "add_task",
		"session_id": sid,
		"title":      "write client",
	})
	if err != nil || task1Res.Status != "success" {
		t.Fatalf("add_task 1 failed: err=%v res=%+v", err, task1Res)
	}

	task2Res, err := tool.Execute(ctx, map[string]interface{}{
		"operation":    "add_task",
		"session_id":   sid,
		"title":        "write tests",
		"dependencies": []interface{}{1},
	})
	if err != nil || task2Res.Status != "success" {
		t.Fatalf("add_task 2 failed: err=%v res=%+v", err, task2Res)
	}

	finalizeRes, err := tool.Execute(ctx, map[string]interface{}{"operation": "finalize", "session_id": sid})
	if err != nil || finalizeRes.Status != "success" {
		t.Fatalf("finalize failed: err=%v res=%+v", err, finalizeRes)
	}
	doc := finalizeRes.Data.(*plan.Document)
	if doc.Status != plan.StatusPendingApproval {
		t.Fatalf("expected pending approval after finalize, got %s", doc.Status)
	}

	// Can't add tasks after finalize.
	lateTaskRes, err := tool.Execute(ctx, map[string]interface{}{
		"operation":  "add_task",
		"session_id": sid,
		"title":      "too late",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if lateTaskRes.Status != "error" {
		t.Fatalf("expected add_task after finalize to fail, got %s", lateTaskRes.Status)
	}

	// Approval is a human decision driven outside the model-facing tool
	// (see cmd/plan.go's "plan approve"/"plan reject"), exercised here via
	// the same LoadPlanDocument/SavePlanDocument path the CLI uses.
	doc, err := LoadPlanDocument(root, sid)
	if err != nil || doc == nil {
		t.Fatalf("load plan failed: err=%v doc=%+v", err, doc)
	}
	if doc.Status != plan.StatusPendingApproval {
		t.Fatalf("expected pending approval before human approves, got %s", doc.Status)
	}
	if err := doc.Approve(time.Now()); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if doc.Status != plan.StatusInProgress {
		t.Fatalf("expected in_progress after approve, got %s", doc.Status)
	}
	if err := SavePlanDocument(root, doc); err != nil {
		t.Fatalf("save plan failed: %v", err)
	}

	statusRes, err := tool.Execute(ctx, map[string]interface{}{"operation": "status", "session_id": sid})
	if err != nil || statusRes.Status != "success" {
		t.Fatalf("status failed: err=%v res=%+v", err, statusRes)
	}
}

func TestPlanTool_ApproveAndRejectAreNotModelOperations(t *testing.T) {
	root := t.TempDir()
	tool := NewPlanTool(root)
	ctx := context.Background()
	sid := uuid.NewString()

	if _, err := tool.Execute(ctx, map[string]interface{}{"operation": "create", "session_id": sid, "title": "t"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	for _, op := range []string{"approve", "reject"} {
		res, err := tool.Execute(ctx, map[string]interface{}{"operation": op, "session_id": sid})
		if err != nil {
			t.Fatalf("unexpected err for %q: %v", op, err)
		}
		if res.Status != "error" {
			t.Fatalf("expected model-invoked %q to be refused, got %s", op, res.Status)
		}
	}
}

func TestPlanTool_RejectRequiresPendingApproval(t *testing.T) {
	root := t.TempDir()
	tool := NewPlanTool(root)
	ctx := context.Background()
	sid := uuid.NewString()

	if _, err := tool.Execute(ctx, map[string]interface{}{"operation": "create", "session_id": sid, "title": "t"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Rejecting a draft plan (never finalized) must fail, via the human path.
	doc, err := LoadPlanDocument(root, sid)
	if err != nil || doc == nil {
		t.Fatalf("load plan failed: err=%v doc=%+v", err, doc)
	}
	if err := doc.Reject(time.Now()); err == nil {
		t.Fatalf("expected reject of draft plan to fail")
	}

	if _, err := tool.Execute(ctx, map[string]interface{}{
		"operation":  "add_task",
		"session_id": sid,
		"title":      "only task",
	}); err != nil {
		t.Fatalf("add_task failed: %v", err)
	}
	if _, err := tool.Execute(ctx, map[string]interface{}{"operation": "finalize", "session_id": sid}); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	doc, err = LoadPlanDocument(root, sid)
	if err != nil || doc == nil {
		t.Fatalf("load plan failed: err=%v doc=%+v", err, doc)
	}
	if err := doc.Reject(time.Now()); err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if doc.Status != plan.StatusRejected {
		t.Fatalf("expected rejected status, got %s", doc.Status)
	}
	if err := SavePlanDocument(root, doc); err != nil {
		t.Fatalf("save plan failed: %v", err)
	}
}

func TestPlanTool_RejectsInvalidSessionID(t *testing.T) {
	root := t.TempDir()
	tool := NewPlanTool(root)
	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"operation":  "create",
		"session_id": "not-a-uuid",
		"title":      "x",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Status != "error" {
		t.Fatalf("expected error for invalid session_id, got %s", res.Status)
	}
}

func TestLoadSavePlanDocument_RoundTrip(t *testing.T) {
	root := t.TempDir()
	sid := uuid.NewString()

	if _, err := NewPlanTool(root).Execute(context.Background(), map[string]interface{}{
		"operation":  "create",
		"session_id": sid,
		"title":      "external round trip",
	}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	doc, err := LoadPlanDocument(root, sid)
	if err != nil {
		t.Fatalf("LoadPlanDocument failed: %v", err)
	}
	if doc == nil {
		t.Fatalf("expected plan document, got nil")
	}
	doc.Title = "renamed externally"
	if err := SavePlanDocument(root, doc); err != nil {
		t.Fatalf("SavePlanDocument failed: %v", err)
	}

	reloaded, err := LoadPlanDocument(root, sid)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.Title != "renamed externally" {
		t.Fatalf("expected persisted rename, got %q", reloaded.Title)
	}
}

func TestLoadPlanDocument_MissingPlanReturnsNilNil(t *testing.T) {
	root := t.TempDir()
	doc, err := LoadPlanDocument(root, uuid.NewString())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if doc != nil {
		t.Fatalf("expected nil document for nonexistent plan, got %+v", doc)
	}
}
