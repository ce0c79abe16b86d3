package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"crustly/pkg/engine/api"
)

// interpreters maps a language tag to the command used to run a script
// file of that language, with the script path appended as the final arg.
var interpreters = map[string][]string{
	"python":     {"python3"},
	"python3":    {"python3"},
	"node":       {"node"},
	"javascript": {"node"},
	"sh":         {"sh"},
	"bash":       {"bash"},
	"ruby":       {"ruby"},
}

var scriptExt = map[string]string{
	"python": ".py", "python3": ".py",
	"node": ".js", "javascript": ".js",
	"sh": ".sh", "bash": ".sh", "ruby": ".rb",
}

// ExecuteCodeTool writes a code snippet to a temp file and invokes the
// matching interpreter, returning stdout/stderr/exit code. Distinct from
// shell: the caller supplies a language and a script body rather than a
// full command line.
type ExecuteCodeTool struct {
	BaseTool
	workspaceRoot string
}

// NewExecuteCodeTool creates a new execute_code tool.
func NewExecuteCodeTool(workspaceRoot string) *ExecuteCodeTool {
	return &ExecuteCodeTool{
		BaseTool: NewBaseTool(
			"execute_code",
			"Write a code snippet to a temp file and run it with the matching interpreter (python, node, sh, bash, ruby).",
			[]ParameterDef{
				{Name: "language", Type: "string", Description: "python | node | sh | bash | ruby", Required: true},
				{Name: "code", Type: "string", Description: "Source code to execute", Required: true},
				{Name: "args", Type: "array", Description: "Extra command-line arguments", Required: false},
				{Name: "timeout_secs", Type: "integer", Description: "Timeout in seconds (default 30, max 300)", Required: false},
			},
			api.RiskHigh,
		),
		workspaceRoot: workspaceRoot,
	}
}

func (t *ExecuteCodeTool) Execute(ctx context.Context, args api.Args) (api.ToolResult, error) {
	if IsReadOnlyMode(ctx) {
		return toolErrorf(readOnlyModeError), nil
	}

	language := GetStringArg(args, "language", "")
	interpreter, ok := interpreters[language]
	if !ok {
		return toolErrorf("unsupported language %q", language), nil
	}
	code := GetStringArg(args, "code", "")
	if code == "" {
		return toolErrorf("code is required"), nil
	}

	tmpDir, err := resolvePathInWorkspace(t.workspaceRoot, filepath.Join(".crustly", "tmp"))
	if err != nil {
		return toolError(err), nil
	}
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return toolError(err), nil
	}
	scriptPath := filepath.Join(tmpDir, uuid.NewString()+scriptExt[language])
	if err := os.WriteFile(scriptPath, []byte(code), 0700); err != nil {
		return toolError(err), nil
	}
	defer os.Remove(scriptPath)

	timeoutSecs := GetIntArg(args, "timeout_secs", 30)
	if timeoutSecs > 300 {
		timeoutSecs = 300
	}
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSecs)*time.Second)
	defer cancel()

	cmdArgs := append(append([]string{}, interpreter[1:]...), scriptPath)
	for _, a := range stringSliceArg(args, "args") {
		cmdArgs = append(cmdArgs, a)
	}
	cmd := exec.CommandContext(runCtx, interpreter[0], cmdArgs...)
	cmd.Dir = t.workspaceRoot

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		return api.ToolResult{Status: "error", Error: "timeout", Content: stdout.String() + stderr.String()}, nil
	}

	exitCode := 0
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if runErr != nil {
		return toolError(runErr), nil
	}

	content := fmt.Sprintf("stdout:\n%s\nstderr:\n%s\nexit code: %d", stdout.String(), stderr.String(), exitCode)
	if exitCode != 0 {
		return api.ToolResult{Status: "error", Error: fmt.Sprintf("exit code %d", exitCode), Content: content}, nil
	}
	return successText(content), nil
}

func (t *ExecuteCodeTool) Preview(ctx context.Context, args api.Args) (*api.Preview, error) {
	return &api.Preview{
		Kind:     api.PreviewCommand,
		Summary:  fmt.Sprintf("Execute %s snippet", GetStringArg(args, "language", "")),
		Content:  GetStringArg(args, "code", ""),
		RiskHint: "runs arbitrary code via a local interpreter",
	}, nil
}
