package model_test

import (
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formwise-ai/advisor/internal/agent/model"
)

func TestMerge_AppendsMessagesInOrder(t *testing.T) {
	s := model.NewConversationState("t1")
	s = model.Merge(s, &model.Delta{Messages: []*schema.Message{schema.UserMessage("a")}})
	s = model.Merge(s, &model.Delta{Messages: []*schema.Message{
		schema.AssistantMessage("b", nil),
		schema.UserMessage("a"),
	}})

	require.Len(t, s.Messages, 3)
	assert.Equal(t, "a", s.Messages[0].Content)
	assert.Equal(t, "b", s.Messages[1].Content)
	assert.Equal(t, "a", s.Messages[2].Content, "duplicates are kept")
}

func TestMerge_DoesNotMutateInput(t *testing.T) {
	s := model.NewConversationState("t1")
	s.Messages = append(s.Messages, schema.UserMessage("hello"))
	s.CompletedSteps = []string{"register"}

	out := model.Merge(s, &model.Delta{
		Messages:       []*schema.Message{schema.AssistantMessage("hi", nil)},
		CompletedSteps: []string{"ein"},
		TokensUsed:     10,
	})

	assert.Len(t, s.Messages, 1)
	assert.Equal(t, []string{"register"}, s.CompletedSteps)
	assert.Zero(t, s.TokensUsed)
	assert.Len(t, out.Messages, 2)
}

func TestMerge_TokensSumAcrossTurns(t *testing.T) {
	deltas := []int{12, 40, 7, 0, 101}
	s := model.NewConversationState("t1")
	want := 0
	for _, d := range deltas {
		s = model.Merge(s, &model.Delta{TokensUsed: d})
		want += d
	}
	assert.Equal(t, want, s.TokensUsed)
}

func TestMerge_CompletedStepsUnion(t *testing.T) {
	s := model.NewConversationState("t1")
	s = model.Merge(s, &model.Delta{CompletedSteps: []string{"File articles", "Get EIN"}})
	s = model.Merge(s, &model.Delta{CompletedSteps: []string{"Get EIN", "Open bank account"}})

	assert.Equal(t, []string{"File articles", "Get EIN", "Open bank account"}, s.CompletedSteps)
}

func TestMerge_MetadataShallowMerge(t *testing.T) {
	now := time.Now().UTC()
	s := model.NewConversationState("t1")
	s = model.Merge(s, &model.Delta{Metadata: &model.Metadata{
		Business: &model.BusinessContext{ID: "b1", Type: "LLC", State: "DE"},
	}})
	s = model.Merge(s, &model.Delta{Metadata: &model.Metadata{
		Progress:       &model.ProgressSummary{Total: 3, Completed: 1},
		LastResponseAt: &now,
	}})

	require.NotNil(t, s.Metadata.Business)
	assert.Equal(t, "LLC", s.Metadata.Business.Type)
	require.NotNil(t, s.Metadata.Progress)
	assert.Equal(t, 3, s.Metadata.Progress.Total)
	assert.Equal(t, now, *s.Metadata.LastResponseAt)
}

func TestMerge_ScalarsLastWriteWins(t *testing.T) {
	s := model.NewConversationState("t1")
	s = model.Merge(s, &model.Delta{
		ActiveAgent: model.Ptr(model.AgentLegal),
		Intent:      model.Ptr(model.IntentLegal),
		Error:       model.Ptr("boom"),
		RetryCount:  1,
	})
	s = model.Merge(s, &model.Delta{Error: model.Ptr(""), RetryCount: 2})

	assert.Equal(t, model.AgentLegal, s.ActiveAgent)
	assert.Equal(t, model.IntentLegal, s.Intent)
	assert.Empty(t, s.Error)
	assert.Equal(t, 3, s.RetryCount)
}

func TestAgentFor(t *testing.T) {
	assert.Equal(t, model.AgentLegal, model.AgentFor(model.IntentLegal))
	assert.Equal(t, model.AgentFinancial, model.AgentFor(model.IntentFinancial))
	assert.Equal(t, model.AgentTasks, model.AgentFor(model.IntentTasks))
	assert.Equal(t, model.AgentTriage, model.AgentFor(model.IntentGeneral))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, model.EstimateTokens(0, 0))
	assert.Equal(t, 1, model.EstimateTokens(1, 0))
	assert.Equal(t, 3, model.EstimateTokens(5, 5))
	assert.Equal(t, 25, model.EstimateTokens(60, 40))
}

func TestSummarize(t *testing.T) {
	p := model.Summarize([]model.Task{
		{Title: "File articles", Completed: true},
		{Title: "Get EIN"},
	})
	assert.Equal(t, 2, p.Total)
	assert.Equal(t, 1, p.Completed)
	assert.Equal(t, []string{"Get EIN"}, p.Pending)
}
