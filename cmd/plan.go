package cmd

import (
	"context"
	"fmt"
	"time"

	"crustly/pkg/engine/plan"
	"crustly/pkg/engine/runtime"
	"crustly/pkg/engine/tools"

	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Inspect and execute structured plan documents",
}

var planStatusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show the status of a session's plan document",
	Args:  cobra.ExactArgs(1),
	Run:   runPlanStatus,
}

var planRunCmd = &cobra.Command{
	Use:   "run <session-id>",
	Short: "Execute an approved plan's tasks in dependency order, halting on first failure",
	Args:  cobra.ExactArgs(1),
	Run:   runPlanRun,
}

var planApproveCmd = &cobra.Command{
	Use:   "approve <session-id>",
	Short: "Approve a finalized (pending-approval) plan so it can be run",
	Args:  cobra.ExactArgs(1),
	Run:   runPlanApprove,
}

var planRejectCmd = &cobra.Command{
	Use:   "reject <session-id>",
	Short: "Reject a finalized (pending-approval) plan",
	Args:  cobra.ExactArgs(1),
	Run:   runPlanReject,
}

func init() {
	planCmd.AddCommand(planStatusCmd)
	planCmd.AddCommand(planRunCmd)
	planCmd.AddCommand(planApproveCmd)
	planCmd.AddCommand(planRejectCmd)
	rootCmd.AddCommand(planCmd)
}

func runPlanApprove(cmd *cobra.Command, args []string) {
	sessionID := args[0]
	workspaceRoot, err := resolveWorkspaceRoot()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	doc, err := tools.LoadPlanDocument(workspaceRoot, sessionID)
	if err != nil {
		fmt.Printf("Error loading plan: %v\n", err)
		return
	}
	if doc == nil {
		fmt.Printf("No plan exists for session %s\n", sessionID)
		return
	}
	if err := doc.Approve(time.Now()); err != nil {
		fmt.Printf("Error approving plan: %v\n", err)
		return
	}
	if err := tools.SavePlanDocument(workspaceRoot, doc); err != nil {
		fmt.Printf("Error saving plan: %v\n", err)
		return
	}
	fmt.Printf("Plan %q approved, status: %s\n", doc.Title, doc.Status)
}

func runPlanReject(cmd *cobra.Command, args []string) {
	sessionID := args[0]
	workspaceRoot, err := resolveWorkspaceRoot()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	doc, err := tools.LoadPlanDocument(workspaceRoot, sessionID)
	if err != nil {
		fmt.Printf("Error loading plan: %v\n", err)
		return
	}
	if doc == nil {
		fmt.Printf("No plan exists for session %s\n", sessionID)
		return
	}
	if err := doc.Reject(time.Now()); err != nil {
		fmt.Printf("Error rejecting plan: %v\n", err)
		return
	}
	if err := tools.SavePlanDocument(workspaceRoot, doc); err != nil {
		fmt.Printf("Error saving plan: %v\n", err)
		return
	}
	fmt.Printf("Plan %q rejected\n", doc.Title)
}

func runPlanStatus(cmd *cobra.Command, args []string) {
	sessionID := args[0]
	workspaceRoot, err := resolveWorkspaceRoot()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	doc, err := tools.LoadPlanDocument(workspaceRoot, sessionID)
	if err != nil {
		fmt.Printf("Error loading plan: %v\n", err)
		return
	}
	if doc == nil {
		fmt.Printf("No plan exists for session %s\n", sessionID)
		return
	}

	fmt.Printf("Plan %q (%s): %d task(s)\n", doc.Title, doc.Status, len(doc.Tasks))
	for _, t := range doc.Tasks {
		fmt.Printf("  [%d] %-12s %s\n", t.Order, t.Status, t.Title)
	}
}

func runPlanRun(cmd *cobra.Command, args []string) {
	sessionID := args[0]
	workspaceRoot, err := resolveWorkspaceRoot()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	doc, err := tools.LoadPlanDocument(workspaceRoot, sessionID)
	if err != nil {
		fmt.Printf("Error loading plan: %v\n", err)
		return
	}
	if doc == nil {
		fmt.Printf("No plan exists for session %s; create and finalize one first\n", sessionID)
		return
	}
	if doc.Status != plan.StatusApproved && doc.Status != plan.StatusInProgress {
		fmt.Printf("Plan status is %q; it must be Approved before it can run\n", doc.Status)
		return
	}

	engine, err := newAPIEngine(workspaceRoot)
	if err != nil {
		fmt.Printf("Error initializing engine: %v\n", err)
		return
	}

	runner := runtime.NewPlanTaskRunner(engine)
	planEngine := plan.NewEngine(runner)

	ctx := context.Background()
	runErr := planEngine.Run(ctx, doc)

	if saveErr := tools.SavePlanDocument(workspaceRoot, doc); saveErr != nil {
		fmt.Printf("Warning: failed to persist plan after execution: %v\n", saveErr)
	}

	if runErr != nil {
		fmt.Printf("Plan execution halted: %v\n", runErr)
		return
	}
	fmt.Printf("Plan %q completed: %s\n", doc.Title, doc.Status)
}
