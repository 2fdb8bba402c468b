package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/formwise-ai/advisor/internal/agent/graph/tools"
	"github.com/formwise-ai/advisor/internal/agent/model"
)

// Specialist selects a generator prompt.
type Specialist string

const (
	Legal     Specialist = "legal"
	Financial Specialist = "financial"
	Tasks     Specialist = "tasks"
	General   Specialist = "general"
)

//go:embed template/triage.txt
var triageSystemPrompt string

//go:embed template/legal.txt
var legalSystemPrompt string

//go:embed template/financial.txt
var financialSystemPrompt string

//go:embed template/tasks.txt
var tasksSystemPrompt string

//go:embed template/general.txt
var generalSystemPrompt string

var specialistPrompts = map[Specialist]string{
	Legal:     legalSystemPrompt,
	Financial: financialSystemPrompt,
	Tasks:     tasksSystemPrompt,
	General:   generalSystemPrompt,
}

// RenderTriageSystem renders the triage instruction via the Eino prompt
// component so prompt callbacks fire.
func RenderTriageSystem(ctx context.Context) (string, error) {
	return render(ctx, triageSystemPrompt, map[string]any{})
}

// SpecialistVars are the values a specialist prompt can reference.
type SpecialistVars struct {
	Business *model.BusinessContext
	Progress *model.ProgressSummary
}

// RenderSpecialistSystem renders the system prompt of a specialist with the
// user's business context filled in.
func RenderSpecialistSystem(ctx context.Context, s Specialist, vars SpecialistVars) (string, error) {
	tpl, ok := specialistPrompts[s]
	if !ok {
		return "", fmt.Errorf("no prompt for specialist %q", s)
	}
	return render(ctx, tpl, map[string]any{
		"Context":          RenderBusinessContext(vars.Business, vars.Progress),
		"ProfileTool":      tools.ToolGetBusinessProfile,
		"ListTasksTool":    tools.ToolListTasks,
		"CreateTaskTool":   tools.ToolCreateTask,
		"CompleteTaskTool": tools.ToolCompleteTask,
	})
}

func render(ctx context.Context, content string, vars map[string]any) (string, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(content),
	)
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("prompt render: empty result")
	}
	return strings.TrimSpace(msgs[0].Content), nil
}

// RenderBusinessContext describes the known business and checklist state.
func RenderBusinessContext(b *model.BusinessContext, p *model.ProgressSummary) string {
	var sb strings.Builder
	if b == nil {
		sb.WriteString("No business on file yet.")
	} else {
		sb.WriteString("Business on file: ")
		name := b.Name
		if name == "" {
			name = "unnamed business"
		}
		sb.WriteString(name)
		if b.Type != "" {
			sb.WriteString(" (" + b.Type + ")")
		}
		if b.State != "" {
			sb.WriteString(", " + b.State)
		}
		if b.Status != "" {
			sb.WriteString(", status " + b.Status)
		}
		sb.WriteString(".")
	}
	if p != nil {
		fmt.Fprintf(&sb, "\nChecklist progress: %d of %d tasks done.", p.Completed, p.Total)
		if len(p.Pending) > 0 {
			sb.WriteString(" Pending: " + strings.Join(p.Pending, "; ") + ".")
		}
	}
	return sb.String()
}
