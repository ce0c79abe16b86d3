package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"crustly/pkg/engine/api"
)

// SessionContextRecord is the per-session key/value context document:
// a running summary plus tagged facts and decisions the model has chosen
// to remember across turns, distinct from the structured plan and from
// cross-session Memory.
type SessionContextRecord struct {
	SessionID string    `json:"session_id"`
	Summary   string    `json:"summary,omitempty"`
	Facts     []string  `json:"facts,omitempty"`
	Decisions []string  `json:"decisions,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionContextTool reads and writes that document.
type SessionContextTool struct {
	BaseTool
	workspaceRoot string
}

// NewSessionContextTool creates a new session_context tool.
func NewSessionContextTool(workspaceRoot string) *SessionContextTool {
	return &SessionContextTool{
		BaseTool: NewBaseTool(
			"session_context",
			"Read or update the running summary, facts, decisions, and tags for this session.",
			[]ParameterDef{
				{Name: "operation", Type: "string", Description: "get | set_summary | add_fact | add_decision | add_tag | remove_tag | clear", Required: true},
				{Name: "session_id", Type: "string", Description: "Session id", Required: true},
				{Name: "value", Type: "string", Description: "Text value for set_summary/add_fact/add_decision/add_tag/remove_tag", Required: false},
			},
			api.RiskNone,
		),
		workspaceRoot: workspaceRoot,
	}
}

func (t *SessionContextTool) path(sessionID string) (string, error) {
	dir, err := resolvePathInWorkspace(t.workspaceRoot, ".crustly")
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("context_%s.json", sessionID)), nil
}

func (t *SessionContextTool) load(path, sessionID string) (*SessionContextRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &SessionContextRecord{SessionID: sessionID}, nil
		}
		return nil, err
	}
	var rec SessionContextRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("session context is corrupt: %w", err)
	}
	return &rec, nil
}

func (t *SessionContextTool) save(path string, rec *SessionContextRecord) error {
	rec.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data, 0644)
}

var sessionContextWriteOps = map[string]bool{
	"set_summary": true, "add_fact": true, "add_decision": true,
	"add_tag": true, "remove_tag": true, "clear": true,
}

func (t *SessionContextTool) Execute(ctx context.Context, args api.Args) (api.ToolResult, error) {
	sessionID := GetStringArg(args, "session_id", "")
	if sessionID == "" {
		return toolErrorf("session_id is required"), nil
	}
	if sessionContextWriteOps[GetStringArg(args, "operation", "")] && IsReadOnlyMode(ctx) {
		return toolErrorf(readOnlyModeError), nil
	}
	path, err := t.path(sessionID)
	if err != nil {
		return toolError(err), nil
	}

	lock := newFileLock(path)
	release, err := lock.acquire()
	if err != nil {
		return toolError(err), nil
	}
	defer release()

	rec, err := t.load(path, sessionID)
	if err != nil {
		return toolError(err), nil
	}

	value := GetStringArg(args, "value", "")
	op := GetStringArg(args, "operation", "")
	switch op {
	case "get":
		return successResult(rec.Summary, rec), nil
	case "set_summary":
		rec.Summary = value
	case "add_fact":
		if value == "" {
			return toolErrorf("value is required"), nil
		}
		rec.Facts = append(rec.Facts, value)
	case "add_decision":
		if value == "" {
			return toolErrorf("value is required"), nil
		}
		rec.Decisions = append(rec.Decisions, value)
	case "add_tag":
		if value == "" {
			return toolErrorf("value is required"), nil
		}
		if !containsString(rec.Tags, value) {
			rec.Tags = append(rec.Tags, value)
		}
	case "remove_tag":
		rec.Tags = removeString(rec.Tags, value)
	case "clear":
		rec = &SessionContextRecord{SessionID: sessionID}
	default:
		return toolErrorf("unknown operation %q", op), nil
	}

	if err := t.save(path, rec); err != nil {
		return toolError(err), nil
	}
	return successResult("✅ session context updated", rec), nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
