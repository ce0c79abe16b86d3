package plan

import (
	"fmt"
	"strings"
)

// Markdown renders the plan document to a human-readable markdown report.
func Markdown(d *Document) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", nonEmpty(d.Title, "Untitled Plan"))
	if d.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", d.Description)
	}
	fmt.Fprintf(&b, "**Status:** %s\n\n", d.Status)

	if d.Context != "" {
		fmt.Fprintf(&b, "## Context\n\n%s\n\n", d.Context)
	}
	if len(d.Risks) > 0 {
		b.WriteString("## Risks\n\n")
		for _, r := range d.Risks {
			fmt.Fprintf(&b, "- %s\n", r)
		}
		b.WriteString("\n")
	}
	if len(d.TechnicalStack) > 0 {
		b.WriteString("## Technical Stack\n\n")
		for _, s := range d.TechnicalStack {
			fmt.Fprintf(&b, "- %s\n", s)
		}
		b.WriteString("\n")
	}
	if d.TestStrategy != "" {
		fmt.Fprintf(&b, "## Test Strategy\n\n%s\n\n", d.TestStrategy)
	}

	b.WriteString("## Tasks\n\n")
	for _, t := range d.Tasks {
		box := " "
		switch t.Status {
		case TaskCompleted:
			box = "x"
		case TaskSkipped:
			box = "-"
		}
		taskType := string(t.TaskType)
		if t.TaskType == TaskOther && t.TaskTypeLabel != "" {
			taskType = t.TaskTypeLabel
		}
		fmt.Fprintf(&b, "%d. [%s] **%s** _(%s, complexity %d, status %s)_\n", t.Order, box, t.Title, taskType, t.Complexity, t.Status)
		if t.Description != "" {
			fmt.Fprintf(&b, "   %s\n", t.Description)
		}
		if len(t.Dependencies) > 0 {
			fmt.Fprintf(&b, "   depends on: %s\n", strings.Join(t.Dependencies, ", "))
		}
		for _, ac := range t.AcceptanceCriteria {
			fmt.Fprintf(&b, "   - [ ] %s\n", ac)
		}
		if t.Notes != "" {
			fmt.Fprintf(&b, "   notes: %s\n", t.Notes)
		}
		b.WriteString("\n")
	}

	return b.String()
}

func nonEmpty(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
