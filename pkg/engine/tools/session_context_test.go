package tools

import (
	"context"
	"testing"
)

func TestSessionContextTool_SetSummaryFactsDecisionsTags(t *testing.T) {
	root := t.TempDir()
	tool := NewSessionContextTool(root)
	ctx := context.Background()

	const sid = "sess-1"

	if _, err := tool.Execute(ctx, map[string]interface{}{
		"operation":  "set_summary",
		"session_id": sid,
		"value":      "refactoring the http client",
	}); err != nil {
		t.Fatalf("set_summary failed: %v", err)
	}

	if _, err := tool.Execute(ctx, map[string]interface{}{
		"operation":  "add_fact",
		"session_id": sid,
		"value":      "client timeout defaults to 30s",
	}); err != nil {
		t.Fatalf("add_fact failed: %v", err)
	}

	if _, err := tool.Execute(ctx, map[string]interface{}{
		"operation":  "add_decision",
		"session_id": sid,
		"value":      "use exponential backoff on 5xx",
	}); err != nil {
		t.Fatalf("add_decision failed: %v", err)
	}

	if _, err := tool.Execute(ctx, map[string]interface{}{
		"operation":  "add_tag",
		"session_id": sid,
		"value":      "http",
	}); err != nil {
		t.Fatalf("add_tag failed: %v", err)
	}
	// Adding the same tag twice must not duplicate it.
	if _, err := tool.Execute(ctx, map[string]interface{}{
		"operation":  "add_tag",
		"session_id": sid,
		"value":      "http",
	}); err != nil {
		t.Fatalf("add_tag (dup) failed: %v", err)
	}

	getRes, err := tool.Execute(ctx, map[string]interface{}{"operation": "get", "session_id": sid})
	if err != nil || getRes.Status != "success" {
		t.Fatalf("get failed: err=%v res=%+v", err, getRes)
	}
	rec, ok := getRes.Data.(*SessionContextRecord)
	if !ok {
		t.Fatalf("expected *SessionContextRecord, got %T", getRes.Data)
	}
	if rec.Summary != "refactoring the http client" {
		t.Fatalf("unexpected summary: %q", rec.Summary)
	}
	if len(rec.Facts) != 1 || len(rec.Decisions) != 1 {
		t.Fatalf("unexpected facts/decisions: %+v", rec)
	}
	if len(rec.Tags) != 1 {
		t.Fatalf("expected tag dedup, got %+v", rec.Tags)
	}

	if _, err := tool.Execute(ctx, map[string]interface{}{
		"operation":  "remove_tag",
		"session_id": sid,
		"value":      "http",
	}); err != nil {
		t.Fatalf("remove_tag failed: %v", err)
	}
	afterRes, _ := tool.Execute(ctx, map[string]interface{}{"operation": "get", "session_id": sid})
	after := afterRes.Data.(*SessionContextRecord)
	if len(after.Tags) != 0 {
		t.Fatalf("expected tags cleared, got %+v", after.Tags)
	}

	if _, err := tool.Execute(ctx, map[string]interface{}{"operation": "clear", "session_id": sid}); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	clearedRes, _ := tool.Execute(ctx, map[string]interface{}{"operation": "get", "session_id": sid})
	cleared := clearedRes.Data.(*SessionContextRecord)
	if cleared.Summary != "" || len(cleared.Facts) != 0 {
		t.Fatalf("expected reset record, got %+v", cleared)
	}
}

func TestSessionContextTool_RequiresSessionID(t *testing.T) {
	root := t.TempDir()
	tool := NewSessionContextTool(root)
	res, err := tool.Execute(context.Background(), map[string]interface{}{"operation": "get"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Status != "error" {
		t.Fatalf("expected error for missing session_id, got %s", res.Status)
	}
}

func TestSessionContextTool_SeparatesSessions(t *testing.T) {
	root := t.TempDir()
	tool := NewSessionContextTool(root)
	ctx := context.Background()

	_, _ = tool.Execute(ctx, map[string]interface{}{"operation": "set_summary", "session_id": "a", "value": "summary-a"})
	_, _ = tool.Execute(ctx, map[string]interface{}{"operation": "set_summary", "session_id": "b", "value": "summary-b"})

	resA, _ := tool.Execute(ctx, map[string]interface{}{"operation": "get", "session_id": "a"})
	recA := resA.Data.(*SessionContextRecord)
	if recA.Summary != "summary-a" {
		t.Fatalf("session a polluted: %+v", recA)
	}

	resB, _ := tool.Execute(ctx, map[string]interface{}{"operation": "get", "session_id": "b"})
	recB := resB.Data.(*SessionContextRecord)
	if recB.Summary != "summary-b" {
		t.Fatalf("session b polluted: %+v", recB)
	}
}
