package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"crustly/pkg/engine/api"
)

// notebookCell is a minimal Jupyter notebook cell: enough structure to
// add/edit/delete cells and clear outputs without depending on the full
// nbformat schema (out of scope, per the parsing-library boundary).
type notebookCell struct {
	CellType string          `json:"cell_type"`
	Source   []string        `json:"source"`
	Outputs  []json.RawMessage `json:"outputs,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	raw      map[string]json.RawMessage
}

type notebookDoc struct {
	Cells    []json.RawMessage `json:"cells"`
	Metadata json.RawMessage   `json:"metadata,omitempty"`
	NBFormat int               `json:"nbformat"`
	NBFormatMinor int          `json:"nbformat_minor"`
}

// NotebookEditTool performs cell-level edits on a .ipynb file: add, edit,
// delete, clear_outputs. Writes an optional sibling .backup file first.
type NotebookEditTool struct {
	BaseTool
	workspaceRoot string
}

// NewNotebookEditTool creates a new notebook_edit tool.
func NewNotebookEditTool(workspaceRoot string) *NotebookEditTool {
	return &NotebookEditTool{
		BaseTool: NewBaseTool(
			"notebook_edit",
			"Cell-level edit of a Jupyter .ipynb file: add, edit, delete, or clear_outputs.",
			[]ParameterDef{
				{Name: "path", Type: "string", Description: "Path to the .ipynb file", Required: true},
				{Name: "operation", Type: "string", Description: "add | edit | delete | clear_outputs", Required: true},
				{Name: "cell_index", Type: "integer", Description: "0-indexed cell position (edit/delete/add-at)", Required: false},
				{Name: "cell_type", Type: "string", Description: "code | markdown (add)", Required: false},
				{Name: "source", Type: "string", Description: "New cell source (add/edit)", Required: false},
				{Name: "create_backup", Type: "boolean", Description: "Write a sibling .backup file first (default true)", Required: false},
			},
			api.RiskHigh,
		),
		workspaceRoot: workspaceRoot,
	}
}

func (t *NotebookEditTool) Execute(ctx context.Context, args api.Args) (api.ToolResult, error) {
	if IsReadOnlyMode(ctx) {
		return toolErrorf(readOnlyModeError), nil
	}

	path := GetStringArg(args, "path", "")
	if path == "" {
		return toolErrorf("path is required"), nil
	}
	absPath, err := resolvePathInWorkspace(t.workspaceRoot, path)
	if err != nil {
		return toolError(err), nil
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return toolError(err), nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(content, &doc); err != nil {
		return toolErrorf("failed to parse notebook JSON: %v", err), nil
	}
	var cells []json.RawMessage
	if raw, ok := doc["cells"]; ok {
		if err := json.Unmarshal(raw, &cells); err != nil {
			return toolErrorf("failed to parse notebook cells: %v", err), nil
		}
	}

	op := GetStringArg(args, "operation", "")
	idx := GetIntArg(args, "cell_index", len(cells))

	switch op {
	case "add":
		cellType := GetStringArg(args, "cell_type", "code")
		newCell, err := json.Marshal(map[string]any{
			"cell_type":       cellType,
			"source":          []string{GetStringArg(args, "source", "")},
			"metadata":        map[string]any{},
			"outputs":         []any{},
			"execution_count": nil,
		})
		if err != nil {
			return toolError(err), nil
		}
		if idx < 0 || idx > len(cells) {
			idx = len(cells)
		}
		cells = append(cells[:idx], append([]json.RawMessage{newCell}, cells[idx:]...)...)

	case "edit":
		if idx < 0 || idx >= len(cells) {
			return toolErrorf("cell_index %d out of bounds (%d cells)", idx, len(cells)), nil
		}
		var cell map[string]any
		if err := json.Unmarshal(cells[idx], &cell); err != nil {
			return toolError(err), nil
		}
		cell["source"] = []string{GetStringArg(args, "source", "")}
		updated, err := json.Marshal(cell)
		if err != nil {
			return toolError(err), nil
		}
		cells[idx] = updated

	case "delete":
		if idx < 0 || idx >= len(cells) {
			return toolErrorf("cell_index %d out of bounds (%d cells)", idx, len(cells)), nil
		}
		cells = append(cells[:idx], cells[idx+1:]...)

	case "clear_outputs":
		for i, raw := range cells {
			var cell map[string]any
			if err := json.Unmarshal(raw, &cell); err != nil {
				continue
			}
			if _, ok := cell["outputs"]; ok {
				cell["outputs"] = []any{}
				cell["execution_count"] = nil
				updated, err := json.Marshal(cell)
				if err == nil {
					cells[i] = updated
				}
			}
		}

	default:
		return toolErrorf("unknown operation %q", op), nil
	}

	cellsRaw, err := json.Marshal(cells)
	if err != nil {
		return toolError(err), nil
	}
	doc["cells"] = cellsRaw

	updatedContent, err := json.MarshalIndent(doc, "", " ")
	if err != nil {
		return toolError(err), nil
	}

	if GetBoolArg(args, "create_backup", true) {
		if err := os.WriteFile(absPath+".backup", content, 0644); err != nil {
			return toolErrorf("failed to write backup: %v", err), nil
		}
	}
	if err := writeFileAtomic(absPath, updatedContent, 0644); err != nil {
		return toolError(err), nil
	}

	return successText(fmt.Sprintf("✅ Notebook edited: %s (%s)", path, op)), nil
}
