package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeTestFile(t *testing.T, root, name, content string) string {
	t.Helper()
	path := filepath.Join(root, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write fixture file: %v", err)
	}
	return path
}

func TestEditFileTool_Replace(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "f.txt", "hello world\n")
	tool := NewEditFileTool(root)

	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":      "f.txt",
		"operation": "replace",
		"old_text":  "world",
		"new_text":  "golang",
	})
	if err != nil || res.Status != "success" {
		t.Fatalf("replace failed: err=%v res=%+v", err, res)
	}
	got, _ := os.ReadFile(filepath.Join(root, "f.txt"))
	if string(got) != "hello golang\n" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestEditFileTool_ReplaceRequiresUniqueMatch(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "f.txt", "dup\ndup\n")
	tool := NewEditFileTool(root)

	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":      "f.txt",
		"operation": "replace",
		"old_text":  "dup",
		"new_text":  "x",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Status != "error" {
		t.Fatalf("expected non-unique match to fail, got %s", res.Status)
	}
}

func TestEditFileTool_ReplaceLines(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "f.txt", "a\nb\nc\nd\n")
	tool := NewEditFileTool(root)

	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":       "f.txt",
		"operation":  "replace_lines",
		"start_line": 1,
		"end_line":   2,
		"new_text":   "B\nC",
	})
	if err != nil || res.Status != "success" {
		t.Fatalf("replace_lines failed: err=%v res=%+v", err, res)
	}
	got, _ := os.ReadFile(filepath.Join(root, "f.txt"))
	if string(got) != "a\nB\nC\nd\n" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestEditFileTool_InsertLine(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "f.txt", "a\nc\n")
	tool := NewEditFileTool(root)

	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":      "f.txt",
		"operation": "insert_line",
		"line":      1,
		"new_text":  "b",
	})
	if err != nil || res.Status != "success" {
		t.Fatalf("insert_line failed: err=%v res=%+v", err, res)
	}
	got, _ := os.ReadFile(filepath.Join(root, "f.txt"))
	if string(got) != "a\nb\nc\n" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestEditFileTool_DeleteLines(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "f.txt", "a\nb\nc\n")
	tool := NewEditFileTool(root)

	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":       "f.txt",
		"operation":  "delete_lines",
		"start_line": 1,
		"end_line":   1,
	})
	if err != nil || res.Status != "success" {
		t.Fatalf("delete_lines failed: err=%v res=%+v", err, res)
	}
	got, _ := os.ReadFile(filepath.Join(root, "f.txt"))
	if string(got) != "a\nc\n" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestEditFileTool_DeleteLinesOutOfBounds(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "f.txt", "a\nb\n")
	tool := NewEditFileTool(root)

	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":       "f.txt",
		"operation":  "delete_lines",
		"start_line": 0,
		"end_line":   5,
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Status != "error" {
		t.Fatalf("expected out-of-bounds delete to fail, got %s", res.Status)
	}
}

func TestEditFileTool_RegexReplace(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "f.txt", "version = 1.2.3\n")
	tool := NewEditFileTool(root)

	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":        "f.txt",
		"operation":   "regex_replace",
		"pattern":     `\d+\.\d+\.\d+`,
		"replacement": "2.0.0",
	})
	if err != nil || res.Status != "success" {
		t.Fatalf("regex_replace failed: err=%v res=%+v", err, res)
	}
	got, _ := os.ReadFile(filepath.Join(root, "f.txt"))
	if string(got) != "version = 2.0.0\n" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestEditFileTool_RegexReplaceNoMatchErrors(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "f.txt", "nothing to see here\n")
	tool := NewEditFileTool(root)

	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":        "f.txt",
		"operation":   "regex_replace",
		"pattern":     `\d+`,
		"replacement": "x",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Status != "error" {
		t.Fatalf("expected no-match regex to fail, got %s", res.Status)
	}
}

func TestEditFileTool_WritesBackupByDefault(t *testing.T) {
	root := t.TempDir()
	path := writeTestFile(t, root, "f.txt", "hello\n")
	tool := NewEditFileTool(root)

	if _, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":      "f.txt",
		"operation": "replace",
		"old_text":  "hello",
		"new_text":  "hi",
	}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	backup, err := os.ReadFile(path + ".backup")
	if err != nil {
		t.Fatalf("expected backup file: %v", err)
	}
	if string(backup) != "hello\n" {
		t.Fatalf("expected backup to hold original content, got %q", backup)
	}
}

func TestEditFileTool_MissingFileErrors(t *testing.T) {
	root := t.TempDir()
	tool := NewEditFileTool(root)

	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":      "missing.txt",
		"operation": "replace",
		"old_text":  "a",
		"new_text":  "b",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Status != "error" {
		t.Fatalf("expected missing file to error, got %s", res.Status)
	}
}

func TestEditFileTool_BlockedInReadOnlyMode(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "f.txt", "hello\n")
	tool := NewEditFileTool(root)
	ctx := WithReadOnlyMode(context.Background(), true)

	res, err := tool.Execute(ctx, map[string]interface{}{
		"path":      "f.txt",
		"operation": "replace",
		"old_text":  "hello",
		"new_text":  "hi",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Status != "error" {
		t.Fatalf("expected read-only mode to block edit, got %s", res.Status)
	}
}
