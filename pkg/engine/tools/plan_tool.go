package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"crustly/pkg/engine/api"
	"crustly/pkg/engine/plan"
)

const maxPlanFileSize = 10 * 1024 * 1024 // 10 MiB

// PlanTool manages the structured plan document for a session: create,
// add_task, update_plan, finalize, status, export_markdown. Plans are
// serialized as JSON sidecar files named exactly
// ".crustly_plan_<session_uuid>.json" in the working directory.
//
// Grounded on the original project's llm/tools/plan_tool.rs: filename
// validation, size cap, and the finalize/cycle-detection semantics are
// carried over unchanged; the Go encoding uses the plan package's
// Document/Task/Kahn's-algorithm implementation.
type PlanTool struct {
	BaseTool
	workspaceRoot string
}

// NewPlanTool creates a new plan tool.
func NewPlanTool(workspaceRoot string) *PlanTool {
	return &PlanTool{
		BaseTool: NewBaseTool(
			"plan",
			"Create and manage a structured execution plan: create, add_task, update_plan, finalize, status, export_markdown.",
			[]ParameterDef{
				{Name: "operation", Type: "string", Description: "create | add_task | update_plan | finalize | status | export_markdown (approval is a human decision, not a model operation)", Required: true},
				{Name: "session_id", Type: "string", Description: "Session UUID this plan belongs to", Required: true},
				{Name: "title", Type: "string", Description: "Plan or task title", Required: false},
				{Name: "description", Type: "string", Description: "Plan or task description", Required: false},
				{Name: "context", Type: "string", Description: "Plan context", Required: false},
				{Name: "risks", Type: "array", Description: "Plan risks", Required: false},
				{Name: "technical_stack", Type: "array", Description: "Plan technical stack", Required: false},
				{Name: "test_strategy", Type: "string", Description: "Plan test strategy", Required: false},
				{Name: "task_type", Type: "string", Description: "Task type for add_task", Required: false},
				{Name: "dependencies", Type: "array", Description: "1-based task order numbers this task depends on", Required: false},
				{Name: "complexity", Type: "integer", Description: "Task complexity 1-5", Required: false},
				{Name: "acceptance_criteria", Type: "array", Description: "Task acceptance criteria", Required: false},
				{Name: "output_path", Type: "string", Description: "export_markdown output path (default PLAN.md)", Required: false},
			},
			api.RiskNone,
		),
		workspaceRoot: workspaceRoot,
	}
}

// Capabilities reports PlanManagement, per the tool catalog. PlanManagement
// does not force approval on its own (see Policy).
func (t *PlanTool) Capabilities() []string { return []string{"PlanManagement"} }

func (t *PlanTool) planPath(sessionID string) (string, error) {
	name := fmt.Sprintf(".crustly_plan_%s.json", sessionID)
	return resolvePathInWorkspace(t.workspaceRoot, name)
}

// LoadPlanDocument loads the plan document for a session, for callers
// outside the tool catalog (e.g. a CLI command driving plan.Engine).
// Returns (nil, nil) if no plan exists yet.
func LoadPlanDocument(workspaceRoot, sessionID string) (*plan.Document, error) {
	t := NewPlanTool(workspaceRoot)
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	path, err := t.planPath(sessionID)
	if err != nil {
		return nil, err
	}
	return t.loadPlan(path)
}

// SavePlanDocument persists a plan document back to its session file.
func SavePlanDocument(workspaceRoot string, doc *plan.Document) error {
	t := NewPlanTool(workspaceRoot)
	path, err := t.planPath(doc.SessionID)
	if err != nil {
		return err
	}
	return t.savePlan(path, doc)
}

func validateSessionID(sessionID string) error {
	if _, err := uuid.Parse(sessionID); err != nil {
		return fmt.Errorf("session_id must be a valid UUID: %w", err)
	}
	return nil
}

func (t *PlanTool) loadPlan(path string) (*plan.Document, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("plan file must not be a symlink")
	}
	if info.Size() > maxPlanFileSize {
		return nil, fmt.Errorf("plan file exceeds maximum size of %d bytes", maxPlanFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc plan.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("plan file is corrupt: %w", err)
	}
	return &doc, nil
}

func (t *PlanTool) savePlan(path string, doc *plan.Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data, 0644)
}

func (t *PlanTool) Execute(ctx context.Context, args api.Args) (api.ToolResult, error) {
	sessionID := GetStringArg(args, "session_id", "")
	if sessionID == "" {
		return toolErrorf("session_id is required"), nil
	}
	if err := validateSessionID(sessionID); err != nil {
		return toolError(err), nil
	}

	path, err := t.planPath(sessionID)
	if err != nil {
		return toolError(err), nil
	}

	op := GetStringArg(args, "operation", "")
	switch op {
	case "create":
		return t.create(path, sessionID, args)
	case "add_task":
		return t.addTask(path, args)
	case "update_plan":
		return t.updatePlan(path, args)
	case "finalize":
		return t.finalize(path)
	case "approve", "reject":
		// Approval is a human-in-the-loop decision (spec: "Approve"/"Reject"
		// are UI commands), not something the model can invoke on itself.
		// Use `agent plan approve <session-id>` or reject via doc.Reject
		// from the CLI instead.
		return toolErrorf("operation %q must be performed by the human operator, not the model", op), nil
	case "status":
		return t.status(path)
	case "export_markdown":
		return t.exportMarkdown(path, args)
	default:
		return toolErrorf("unknown operation %q", op), nil
	}
}

func (t *PlanTool) create(path, sessionID string, args api.Args) (api.ToolResult, error) {
	if existing, err := t.loadPlan(path); err != nil {
		return toolError(err), nil
	} else if existing != nil {
		return toolErrorf("a plan already exists for session %s", sessionID), nil
	}

	now := time.Now()
	doc := &plan.Document{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		Title:          GetStringArg(args, "title", ""),
		Description:    GetStringArg(args, "description", ""),
		Context:        GetStringArg(args, "context", ""),
		Risks:          stringSliceArg(args, "risks"),
		TechnicalStack: stringSliceArg(args, "technical_stack"),
		TestStrategy:   GetStringArg(args, "test_strategy", ""),
		Status:         plan.StatusDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := t.savePlan(path, doc); err != nil {
		return toolError(err), nil
	}
	return successResult(fmt.Sprintf("✅ Plan created: %s", doc.Title), doc), nil
}

func (t *PlanTool) addTask(path string, args api.Args) (api.ToolResult, error) {
	doc, err := t.loadPlan(path)
	if err != nil {
		return toolError(err), nil
	}
	if doc == nil {
		return toolErrorf("no active plan; call create first"), nil
	}
	if doc.Status != plan.StatusDraft {
		return toolErrorf("cannot add tasks to a plan in status %q", doc.Status), nil
	}

	order := len(doc.Tasks) + 1
	task := plan.Task{
		ID:                 uuid.NewString(),
		Order:              order,
		Title:              GetStringArg(args, "title", ""),
		Description:        GetStringArg(args, "description", ""),
		TaskType:           plan.TaskType(GetStringArg(args, "task_type", string(plan.TaskOther))),
		Complexity:         GetIntArg(args, "complexity", 3),
		AcceptanceCriteria: stringSliceArg(args, "acceptance_criteria"),
		Status:             plan.TaskPending,
	}
	task.ClampComplexity()
	if task.TaskType == plan.TaskOther {
		task.TaskTypeLabel = GetStringArg(args, "task_type", "other")
	}

	for _, depOrder := range intSliceArg(args, "dependencies") {
		if depOrder < 1 || depOrder >= order {
			return toolErrorf("dependency order %d must refer to an earlier task (< %d)", depOrder, order), nil
		}
		dep := doc.Tasks[depOrder-1]
		task.Dependencies = append(task.Dependencies, dep.ID)
	}

	doc.Tasks = append(doc.Tasks, task)
	doc.UpdatedAt = time.Now()
	if err := t.savePlan(path, doc); err != nil {
		return toolError(err), nil
	}
	return successResult(fmt.Sprintf("✅ Task %d added: %s", order, task.Title), task), nil
}

func (t *PlanTool) updatePlan(path string, args api.Args) (api.ToolResult, error) {
	doc, err := t.loadPlan(path)
	if err != nil {
		return toolError(err), nil
	}
	if doc == nil {
		return toolErrorf("no active plan; call create first"), nil
	}
	if v, ok := args["title"].(string); ok {
		doc.Title = v
	}
	if v, ok := args["description"].(string); ok {
		doc.Description = v
	}
	if v, ok := args["context"].(string); ok {
		doc.Context = v
	}
	if v, ok := args["test_strategy"].(string); ok {
		doc.TestStrategy = v
	}
	if _, ok := args["risks"]; ok {
		doc.Risks = stringSliceArg(args, "risks")
	}
	if _, ok := args["technical_stack"]; ok {
		doc.TechnicalStack = stringSliceArg(args, "technical_stack")
	}
	doc.UpdatedAt = time.Now()
	if err := t.savePlan(path, doc); err != nil {
		return toolError(err), nil
	}
	return successResult("✅ Plan updated", doc), nil
}

func (t *PlanTool) finalize(path string) (api.ToolResult, error) {
	doc, err := t.loadPlan(path)
	if err != nil {
		return toolError(err), nil
	}
	if doc == nil {
		return toolErrorf("no active plan; call create first"), nil
	}
	if err := doc.Finalize(time.Now()); err != nil {
		return toolError(err), nil
	}
	if err := t.savePlan(path, doc); err != nil {
		return toolError(err), nil
	}
	return successResult("✅ Plan finalized, pending approval", doc), nil
}

func (t *PlanTool) status(path string) (api.ToolResult, error) {
	doc, err := t.loadPlan(path)
	if err != nil {
		return toolError(err), nil
	}
	if doc == nil {
		return toolErrorf("no active plan for this session"), nil
	}
	return successResult(fmt.Sprintf("plan %q status: %s (%d tasks)", doc.Title, doc.Status, len(doc.Tasks)), doc), nil
}

func (t *PlanTool) exportMarkdown(path string, args api.Args) (api.ToolResult, error) {
	doc, err := t.loadPlan(path)
	if err != nil {
		return toolError(err), nil
	}
	if doc == nil {
		return toolErrorf("no active plan for this session"), nil
	}

	outRel := GetStringArg(args, "output_path", "PLAN.md")
	outAbs, err := resolvePathInWorkspace(t.workspaceRoot, outRel)
	if err != nil {
		return toolError(err), nil
	}
	if _, err := os.Stat(outAbs); err == nil {
		return toolErrorf("refusing to overwrite existing file: %s", outRel), nil
	} else if !os.IsNotExist(err) {
		return toolError(err), nil
	}

	if err := os.MkdirAll(filepath.Dir(outAbs), 0755); err != nil {
		return toolError(err), nil
	}
	if err := writeFileAtomic(outAbs, []byte(plan.Markdown(doc)), 0644); err != nil {
		return toolError(err), nil
	}
	return successText(fmt.Sprintf("✅ Plan exported to %s", outRel)), nil
}

func stringSliceArg(args api.Args, key string) []string {
	v, ok := args[key]
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func intSliceArg(args api.Args, key string) []int {
	v, ok := args[key]
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]int, 0, len(list))
	for _, item := range list {
		switch n := item.(type) {
		case float64:
			out = append(out, int(n))
		case int:
			out = append(out, n)
		}
	}
	return out
}
