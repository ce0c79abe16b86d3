package tools

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"crustly/pkg/engine/api"
)

// EditFileTool makes targeted edits to existing files using one of five
// surgical operations: replace, replace_lines, insert_line, delete_lines,
// regex_replace. More precise than write_file for modifications.
type EditFileTool struct {
	BaseTool
	workspaceRoot string
}

// NewEditFileTool creates a new edit_file tool.
func NewEditFileTool(workspaceRoot string) *EditFileTool {
	return &EditFileTool{
		BaseTool: NewBaseTool(
			"edit_file",
			"Make targeted edits to an existing file: replace, replace_lines, insert_line, delete_lines, or regex_replace.",
			[]ParameterDef{
				{Name: "path", Type: "string", Description: "Path to the file to edit (relative to workspace)", Required: true},
				{Name: "operation", Type: "string", Description: "replace | replace_lines | insert_line | delete_lines | regex_replace", Required: true},
				{Name: "old_text", Type: "string", Description: "For replace: exact text to find (must be unique)", Required: false},
				{Name: "new_text", Type: "string", Description: "For replace/insert_line/replace_lines: replacement text", Required: false},
				{Name: "pattern", Type: "string", Description: "For regex_replace: Go RE2 regular expression", Required: false},
				{Name: "replacement", Type: "string", Description: "For regex_replace: replacement text ($1 group refs supported)", Required: false},
				{Name: "start_line", Type: "integer", Description: "For replace_lines/delete_lines: 0-indexed inclusive start", Required: false},
				{Name: "end_line", Type: "integer", Description: "For replace_lines/delete_lines: 0-indexed inclusive end", Required: false},
				{Name: "line", Type: "integer", Description: "For insert_line: 0-indexed position to insert before", Required: false},
				{Name: "create_backup", Type: "boolean", Description: "Write a sibling .backup file before editing (default true)", Required: false},
			},
			api.RiskHigh,
		),
		workspaceRoot: workspaceRoot,
	}
}

type editOperation string

const (
	opReplace      editOperation = "replace"
	opReplaceLines editOperation = "replace_lines"
	opInsertLine   editOperation = "insert_line"
	opDeleteLines  editOperation = "delete_lines"
	opRegexReplace editOperation = "regex_replace"
)

func (t *EditFileTool) Execute(ctx context.Context, args api.Args) (api.ToolResult, error) {
	if IsReadOnlyMode(ctx) {
		return toolErrorf(readOnlyModeError), nil
	}

	path := GetStringArg(args, "path", "")
	if path == "" {
		return toolErrorf("path is required"), nil
	}
	op := editOperation(GetStringArg(args, "operation", string(opReplace)))

	absPath, err := resolvePathInWorkspace(t.workspaceRoot, path)
	if err != nil {
		return toolError(err), nil
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return toolErrorf("file does not exist: %s", path), nil
		}
		return toolError(err), nil
	}
	original := string(content)

	newContent, summary, err := applyEditOperation(original, op, args)
	if err != nil {
		return toolError(err), nil
	}

	if GetBoolArg(args, "create_backup", true) {
		if err := os.WriteFile(absPath+".backup", content, 0644); err != nil {
			return toolErrorf("failed to write backup: %v", err), nil
		}
	}

	if err := writeFileAtomic(absPath, []byte(newContent), 0644); err != nil {
		return toolError(err), nil
	}

	return successText(fmt.Sprintf("✅ File edited: %s (%s)\n%s", path, op, summary)), nil
}

// applyEditOperation dispatches to the operation-specific transform. Line
// operations are 0-indexed and inclusive on both ends; read_file, by
// contrast, numbers lines from 1.
func applyEditOperation(original string, op editOperation, args api.Args) (string, string, error) {
	switch op {
	case opReplace:
		oldText := GetStringArg(args, "old_text", "")
		newText := GetStringArg(args, "new_text", "")
		if oldText == "" {
			return "", "", fmt.Errorf("old_text is required for replace")
		}
		count := strings.Count(original, oldText)
		if count == 0 {
			return "", "", fmt.Errorf("old_text not found in file; make sure it matches exactly including whitespace")
		}
		if count > 1 {
			return "", "", fmt.Errorf("old_text found %d times in file; it must be unique, provide more context", count)
		}
		updated := strings.Replace(original, oldText, newText, 1)
		return updated, fmt.Sprintf("replaced %d bytes with %d bytes", len(oldText), len(newText)), nil

	case opReplaceLines:
		lines := splitLinesKeepingTerminator(original)
		start, end, err := lineRange(args, len(lines))
		if err != nil {
			return "", "", err
		}
		newText := GetStringArg(args, "new_text", "")
		replacement := splitLinesKeepingTerminator(ensureTrailingNewline(newText))
		out := append(append(append([]string{}, lines[:start]...), replacement...), lines[end+1:]...)
		return strings.Join(out, ""), fmt.Sprintf("replaced lines %d-%d", start, end), nil

	case opInsertLine:
		lines := splitLinesKeepingTerminator(original)
		line := GetIntArg(args, "line", len(lines))
		if line < 0 || line > len(lines) {
			return "", "", fmt.Errorf("line %d out of bounds (file has %d lines)", line, len(lines))
		}
		newText := ensureTrailingNewline(GetStringArg(args, "new_text", ""))
		out := append(append(append([]string{}, lines[:line]...), newText), lines[line:]...)
		return strings.Join(out, ""), fmt.Sprintf("inserted before line %d", line), nil

	case opDeleteLines:
		lines := splitLinesKeepingTerminator(original)
		start, end, err := lineRange(args, len(lines))
		if err != nil {
			return "", "", err
		}
		out := append(append([]string{}, lines[:start]...), lines[end+1:]...)
		return strings.Join(out, ""), fmt.Sprintf("deleted lines %d-%d", start, end), nil

	case opRegexReplace:
		pattern := GetStringArg(args, "pattern", "")
		if pattern == "" {
			return "", "", fmt.Errorf("pattern is required for regex_replace")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return "", "", fmt.Errorf("invalid regex pattern: %w", err)
		}
		replacement := GetStringArg(args, "replacement", "")
		matches := re.FindAllStringIndex(original, -1)
		if len(matches) == 0 {
			return "", "", fmt.Errorf("pattern matched nothing")
		}
		updated := re.ReplaceAllString(original, replacement)
		return updated, fmt.Sprintf("replaced %d regex match(es)", len(matches)), nil

	default:
		return "", "", fmt.Errorf("unknown operation %q: must be one of replace, replace_lines, insert_line, delete_lines, regex_replace", op)
	}
}

func lineRange(args api.Args, numLines int) (int, int, error) {
	start := GetIntArg(args, "start_line", -1)
	end := GetIntArg(args, "end_line", -1)
	if start < 0 || end < 0 {
		return 0, 0, fmt.Errorf("start_line and end_line are required")
	}
	if start > end {
		return 0, 0, fmt.Errorf("start_line (%d) must be <= end_line (%d)", start, end)
	}
	if end >= numLines {
		return 0, 0, fmt.Errorf("end_line %d out of bounds (file has %d lines)", end, numLines)
	}
	return start, end, nil
}

// splitLinesKeepingTerminator splits s into lines, each retaining its
// trailing "\n" (the last element may have none). This keeps replace_lines
// / delete_lines / insert_line byte-faithful to the original file.
func splitLinesKeepingTerminator(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func ensureTrailingNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

func (t *EditFileTool) Preview(ctx context.Context, args api.Args) (*api.Preview, error) {
	path := GetStringArg(args, "path", "")
	op := GetStringArg(args, "operation", string(opReplace))

	absPath, err := resolvePathInWorkspace(t.workspaceRoot, path)
	pathPreview := absPath
	if err != nil {
		pathPreview = "<invalid path: " + err.Error() + ">"
	}

	var diffBuilder strings.Builder
	switch editOperation(op) {
	case opRegexReplace:
		fmt.Fprintf(&diffBuilder, "pattern: %s\nreplacement: %s\n", GetStringArg(args, "pattern", ""), GetStringArg(args, "replacement", ""))
	default:
		for _, line := range strings.Split(GetStringArg(args, "old_text", ""), "\n") {
			diffBuilder.WriteString("- " + line + "\n")
		}
		for _, line := range strings.Split(GetStringArg(args, "new_text", ""), "\n") {
			diffBuilder.WriteString("+ " + line + "\n")
		}
	}

	diffText := diffBuilder.String()
	if len(diffText) > 4000 {
		diffText = diffText[:4000] + "\n... (truncated)"
	}

	return &api.Preview{
		Kind:     api.PreviewDiff,
		Summary:  fmt.Sprintf("Edit file (%s): %s", op, path),
		Content:  diffText,
		Affected: []string{pathPreview},
		RiskHint: "modifies file content on disk",
	}, nil
}
