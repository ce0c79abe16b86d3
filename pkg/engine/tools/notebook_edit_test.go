package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeTestNotebook(t *testing.T, root, name string) string {
	t.Helper()
	path := filepath.Join(root, name)
	nb := map[string]any{
		"cells": []any{
			map[string]any{
				"cell_type": "code",
				"source":    []string{"print(1)"},
				"outputs":   []any{map[string]any{"output_type": "stream", "text": "1\n"}},
			},
		},
		"metadata":      map[string]any{},
		"nbformat":      4,
		"nbformat_minor": 5,
	}
	data, err := json.Marshal(nb)
	if err != nil {
		t.Fatalf("failed to marshal fixture notebook: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write fixture notebook: %v", err)
	}
	return path
}

func readNotebookCells(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read notebook: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("failed to parse notebook: %v", err)
	}
	cellsRaw, _ := json.Marshal(doc["cells"])
	var cells []map[string]any
	if err := json.Unmarshal(cellsRaw, &cells); err != nil {
		t.Fatalf("failed to parse cells: %v", err)
	}
	return cells
}

func TestNotebookEditTool_AddCellAppendsByDefault(t *testing.T) {
	root := t.TempDir()
	writeTestNotebook(t, root, "nb.ipynb")
	tool := NewNotebookEditTool(root)

	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":      "nb.ipynb",
		"operation": "add",
		"cell_type": "markdown",
		"source":    "# heading",
	})
	if err != nil || res.Status != "success" {
		t.Fatalf("add failed: err=%v res=%+v", err, res)
	}

	cells := readNotebookCells(t, filepath.Join(root, "nb.ipynb"))
	if len(cells) != 2 {
		t.Fatalf("expected 2 cells after add, got %d", len(cells))
	}
	if cells[1]["cell_type"] != "markdown" {
		t.Fatalf("expected appended cell to be markdown, got %+v", cells[1])
	}
}

func TestNotebookEditTool_EditReplacesSource(t *testing.T) {
	root := t.TempDir()
	writeTestNotebook(t, root, "nb.ipynb")
	tool := NewNotebookEditTool(root)

	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":       "nb.ipynb",
		"operation":  "edit",
		"cell_index": 0,
		"source":     "print(2)",
	})
	if err != nil || res.Status != "success" {
		t.Fatalf("edit failed: err=%v res=%+v", err, res)
	}

	cells := readNotebookCells(t, filepath.Join(root, "nb.ipynb"))
	source, _ := cells[0]["source"].([]any)
	if len(source) != 1 || source[0] != "print(2)" {
		t.Fatalf("expected edited source, got %+v", cells[0]["source"])
	}
}

func TestNotebookEditTool_DeleteRemovesCell(t *testing.T) {
	root := t.TempDir()
	writeTestNotebook(t, root, "nb.ipynb")
	tool := NewNotebookEditTool(root)

	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":       "nb.ipynb",
		"operation":  "delete",
		"cell_index": 0,
	})
	if err != nil || res.Status != "success" {
		t.Fatalf("delete failed: err=%v res=%+v", err, res)
	}

	cells := readNotebookCells(t, filepath.Join(root, "nb.ipynb"))
	if len(cells) != 0 {
		t.Fatalf("expected 0 cells after delete, got %d", len(cells))
	}
}

func TestNotebookEditTool_ClearOutputsEmptiesAllCells(t *testing.T) {
	root := t.TempDir()
	writeTestNotebook(t, root, "nb.ipynb")
	tool := NewNotebookEditTool(root)

	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":      "nb.ipynb",
		"operation": "clear_outputs",
	})
	if err != nil || res.Status != "success" {
		t.Fatalf("clear_outputs failed: err=%v res=%+v", err, res)
	}

	cells := readNotebookCells(t, filepath.Join(root, "nb.ipynb"))
	outputs, _ := cells[0]["outputs"].([]any)
	if len(outputs) != 0 {
		t.Fatalf("expected empty outputs, got %+v", cells[0]["outputs"])
	}
}

func TestNotebookEditTool_WritesBackupByDefault(t *testing.T) {
	root := t.TempDir()
	path := writeTestNotebook(t, root, "nb.ipynb")
	tool := NewNotebookEditTool(root)

	if _, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":      "nb.ipynb",
		"operation": "clear_outputs",
	}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if _, err := os.Stat(path + ".backup"); err != nil {
		t.Fatalf("expected backup file to exist: %v", err)
	}
}

func TestNotebookEditTool_OutOfBoundsIndexErrors(t *testing.T) {
	root := t.TempDir()
	writeTestNotebook(t, root, "nb.ipynb")
	tool := NewNotebookEditTool(root)

	res, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":       "nb.ipynb",
		"operation":  "edit",
		"cell_index": 99,
		"source":     "x",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Status != "error" {
		t.Fatalf("expected out-of-bounds edit to fail, got %s", res.Status)
	}
}

func TestNotebookEditTool_BlockedInReadOnlyMode(t *testing.T) {
	root := t.TempDir()
	writeTestNotebook(t, root, "nb.ipynb")
	tool := NewNotebookEditTool(root)
	ctx := WithReadOnlyMode(context.Background(), true)

	res, err := tool.Execute(ctx, map[string]interface{}{
		"path":      "nb.ipynb",
		"operation": "clear_outputs",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Status != "error" {
		t.Fatalf("expected read-only mode to block edit, got %s", res.Status)
	}
}
