package tools

import (
	"context"
	"strings"
	"testing"
)

func TestExecuteCodeTool_RunsShellSnippet(t *testing.T) {
	root := t.TempDir()
	tool := NewExecuteCodeTool(root)

	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"language": "sh",
		"code":     "echo hello-from-sh",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Status != "success" {
		t.Fatalf("expected success, got %s (%s)", res.Status, res.Error)
	}
	if !strings.Contains(res.Content, "hello-from-sh") {
		t.Fatalf("expected stdout in content, got %q", res.Content)
	}
}

func TestExecuteCodeTool_NonZeroExitIsError(t *testing.T) {
	root := t.TempDir()
	tool := NewExecuteCodeTool(root)

	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"language": "sh",
		"code":     "exit 3",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Status != "error" {
		t.Fatalf("expected error status for nonzero exit, got %s", res.Status)
	}
	if !strings.Contains(res.Error, "3") {
		t.Fatalf("expected exit code in error, got %q", res.Error)
	}
}

func TestExecuteCodeTool_RejectsUnsupportedLanguage(t *testing.T) {
	root := t.TempDir()
	tool := NewExecuteCodeTool(root)

	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"language": "cobol",
		"code":     "DISPLAY 'HI'",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Status != "error" {
		t.Fatalf("expected error for unsupported language, got %s", res.Status)
	}
}

func TestExecuteCodeTool_TimesOut(t *testing.T) {
	root := t.TempDir()
	tool := NewExecuteCodeTool(root)

	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"language":     "sh",
		"code":         "sleep 5",
		"timeout_secs": 1,
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Status != "error" || res.Error != "timeout" {
		t.Fatalf("expected timeout error, got status=%s error=%s", res.Status, res.Error)
	}
}

func TestExecuteCodeTool_BlockedInReadOnlyMode(t *testing.T) {
	root := t.TempDir()
	tool := NewExecuteCodeTool(root)
	ctx := WithReadOnlyMode(context.Background(), true)

	res, err := tool.Execute(ctx, map[string]interface{}{
		"language": "sh",
		"code":     "echo should-not-run",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Status != "error" {
		t.Fatalf("expected read-only mode to block execution, got %s", res.Status)
	}
}
