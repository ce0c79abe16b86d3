package tools

import (
	"context"
	"strings"
)

type readOnlyKey struct{}

// WithReadOnlyMode marks ctx as running in plan mode: every writing tool
// must refuse to mutate anything and point the caller at approving the
// plan and leaving plan mode.
func WithReadOnlyMode(ctx context.Context, readOnly bool) context.Context {
	return context.WithValue(ctx, readOnlyKey{}, readOnly)
}

// IsReadOnlyMode reports whether ctx was marked read-only.
func IsReadOnlyMode(ctx context.Context) bool {
	v, _ := ctx.Value(readOnlyKey{}).(bool)
	return v
}

// readOnlyModeError is the exact guidance every writing tool returns when
// invoked while the turn is in plan (read-only) mode.
const readOnlyModeError = "this operation is not allowed in Plan mode; approve the plan and switch to execution mode to make changes"

// readOnlyShellAllowlist are command prefixes considered safe to run even
// while read-only: they inspect state but cannot mutate it.
var readOnlyShellAllowlist = []string{
	"ls", "cat", "pwd", "echo", "find", "grep", "wc", "head", "tail",
	"git status", "git diff", "git log", "git show", "git branch",
}

func isAllowedReadOnlyCommand(command string) bool {
	trimmed := strings.TrimSpace(command)
	for _, prefix := range readOnlyShellAllowlist {
		if trimmed == prefix || strings.HasPrefix(trimmed, prefix+" ") {
			return true
		}
	}
	return false
}
