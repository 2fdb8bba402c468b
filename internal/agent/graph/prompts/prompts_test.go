package prompts_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formwise-ai/advisor/internal/agent/graph/prompts"
	"github.com/formwise-ai/advisor/internal/agent/model"
)

func TestRenderTriageSystem(t *testing.T) {
	out, err := prompts.RenderTriageSystem(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out, `"intent"`)
	assert.Contains(t, out, "<current_message_to_analyze>")
}

func TestRenderSpecialistSystem(t *testing.T) {
	out, err := prompts.RenderSpecialistSystem(context.Background(), prompts.Tasks, prompts.SpecialistVars{
		Business: &model.BusinessContext{Name: "Acme Bakery", Type: "LLC", State: "CA"},
		Progress: &model.ProgressSummary{Total: 3, Completed: 1, Pending: []string{"Get EIN", "Open bank account"}},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Business on file: Acme Bakery (LLC), CA.")
	assert.Contains(t, out, "1 of 3 tasks done. Pending: Get EIN; Open bank account.")
	assert.Contains(t, out, "complete_task")
	assert.NotContains(t, out, "{{")
}

func TestRenderSpecialistSystem_NoBusiness(t *testing.T) {
	out, err := prompts.RenderSpecialistSystem(context.Background(), prompts.Legal, prompts.SpecialistVars{})
	require.NoError(t, err)
	assert.Contains(t, out, "No business on file yet.")

	_, err = prompts.RenderSpecialistSystem(context.Background(), prompts.Specialist("marketing"), prompts.SpecialistVars{})
	assert.Error(t, err)
}

func TestRenderGeneral(t *testing.T) {
	out, err := prompts.RenderSpecialistSystem(context.Background(), prompts.General, prompts.SpecialistVars{})
	require.NoError(t, err)
	assert.Contains(t, out, "friendly business-formation advisor")
}
