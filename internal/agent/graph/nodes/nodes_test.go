package nodes_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formwise-ai/advisor/internal/agent/graph/conversations"
	"github.com/formwise-ai/advisor/internal/agent/graph/nodes"
	"github.com/formwise-ai/advisor/internal/agent/model"
	"github.com/formwise-ai/advisor/internal/testutils"
)

func newClassifier(m *testutils.ScriptedModel) *nodes.Classifier {
	var cfg model.ConversationConfig
	cfg.Triage.MaxTurns = 6
	return nodes.NewClassifier(&nodes.StaticResolver{Triage: m, Response: m, Name: "test-model"}, conversations.NewMessagesManager(cfg))
}

func stateWith(query string) *model.ConversationState {
	st := model.NewConversationState("t1")
	st.Messages = append(st.Messages, schema.UserMessage(query))
	return st
}

func TestRoute(t *testing.T) {
	assert.Equal(t, nodes.NodeLegal, nodes.Route(model.AgentLegal))
	assert.Equal(t, nodes.NodeFinancial, nodes.Route(model.AgentFinancial))
	assert.Equal(t, nodes.NodeTasks, nodes.Route(model.AgentTasks))
	assert.Equal(t, nodes.NodeGeneral, nodes.Route(model.AgentTriage))
	assert.Equal(t, nodes.NodeGeneral, nodes.Route(model.Agent("")))
	assert.Equal(t, nodes.NodeGeneral, nodes.Route(model.Agent("marketing")))
}

func TestClassify_Financial(t *testing.T) {
	m := testutils.NewScriptedModel(testutils.Reply(`{"intent":"financial","confidence":0.9,"reason":"cash flow question"}`))
	d := newClassifier(m).Classify(context.Background(), stateWith("How should I manage cash flow?"))

	assert.Equal(t, model.IntentFinancial, *d.Intent)
	assert.Equal(t, model.AgentFinancial, *d.ActiveAgent)
	assert.InDelta(t, 0.9, *d.IntentConfidence, 1e-9)
	assert.Equal(t, "cash flow question", *d.RoutingReason)
	assert.Positive(t, d.TokensUsed)
	assert.Empty(t, d.Messages, "triage adds no visible messages")

	calls := m.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Messages, 2)
	assert.Equal(t, schema.System, calls[0].Messages[0].Role)
	assert.True(t, strings.Contains(calls[0].Messages[1].Content, "UserMessage(How should I manage cash flow?)"))
}

func TestClassify_GeneralStaysOnTriage(t *testing.T) {
	m := testutils.NewScriptedModel(testutils.Reply(`{"intent":"general","confidence":0.95,"reason":"greeting"}`))
	d := newClassifier(m).Classify(context.Background(), stateWith("hi"))

	assert.Equal(t, model.IntentGeneral, *d.Intent)
	assert.Equal(t, model.AgentTriage, *d.ActiveAgent)
}

func TestClassify_ParseFailureFallback(t *testing.T) {
	m := testutils.NewScriptedModel(testutils.Reply("This looks like a legal question to me."))
	d := newClassifier(m).Classify(context.Background(), stateWith("Do I need a lawyer?"))

	assert.Equal(t, model.IntentGeneral, *d.Intent)
	assert.Equal(t, nodes.ParseFailureConfidence, *d.IntentConfidence)
	assert.Contains(t, *d.RoutingReason, "could not parse")
	assert.Equal(t, nodes.NodeGeneral, nodes.Route(*d.ActiveAgent))
}

func TestClassify_CallFailureFallback(t *testing.T) {
	m := testutils.NewScriptedModel(testutils.Fail(errors.New("quota exceeded")))
	d := newClassifier(m).Classify(context.Background(), stateWith("hello"))

	assert.Equal(t, model.IntentGeneral, *d.Intent)
	assert.Equal(t, nodes.CallFailureConfidence, *d.IntentConfidence)
	assert.Contains(t, *d.RoutingReason, "quota exceeded")
}

func TestClassify_PanicContained(t *testing.T) {
	m := testutils.NewScriptedModel(testutils.Step{Panic: "boom"})
	d := newClassifier(m).Classify(context.Background(), stateWith("hello"))
	assert.Equal(t, model.IntentGeneral, *d.Intent)
	assert.Equal(t, nodes.CallFailureConfidence, *d.IntentConfidence)
}

func TestClassify_ProviderUsagePreferred(t *testing.T) {
	m := testutils.NewScriptedModel(testutils.ReplyWithUsage(`{"intent":"tasks","confidence":0.8,"reason":"checklist"}`, 321))
	d := newClassifier(m).Classify(context.Background(), stateWith("what's next on my list?"))
	assert.Equal(t, 321, d.TokensUsed)
	assert.Equal(t, model.AgentTasks, *d.ActiveAgent)
}

func TestStaticResolver(t *testing.T) {
	r := &nodes.StaticResolver{}
	_, err := r.Resolve(context.Background(), model.LLMSelection{}, nodes.PurposeTriage)
	assert.Error(t, err)
}

func TestGeminiResolver_RejectsUnknownProvider(t *testing.T) {
	r, err := nodes.NewGeminiResolver(nodes.ChatModelConfig{
		APIKey:       "key",
		TriageConfig: &model.TriageModelConfig{Model: "gemini-2.5-flash-lite"},
		RespConfig:   &model.ResponseModelConfig{Model: "gemini-2.5-flash"},
	})
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), model.LLMSelection{Provider: "openai"}, nodes.PurposeResponse)
	assert.ErrorContains(t, err, "unsupported LLM provider")
}

func TestNormalizeToolCallIDs(t *testing.T) {
	msg := schema.AssistantMessage("", []schema.ToolCall{{ID: ""}, {ID: "keep"}})
	nodes.NormalizeToolCallIDs(msg)
	assert.True(t, strings.HasPrefix(msg.ToolCalls[0].ID, "call_"))
	assert.Equal(t, "keep", msg.ToolCalls[1].ID)
}

func TestRecordUsage(t *testing.T) {
	in := []*schema.Message{schema.UserMessage(strings.Repeat("a", 60))}
	out := schema.AssistantMessage(strings.Repeat("b", 40), nil)
	assert.Equal(t, 25, nodes.RecordUsage(context.Background(), "t1", "test", "gemini-2.5-flash", in, out))

	out.ResponseMeta = &schema.ResponseMeta{Usage: &schema.TokenUsage{PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500}}
	assert.Equal(t, 1500, nodes.RecordUsage(context.Background(), "t1", "test", "gemini-2.5-flash", in, out))
	require.Contains(t, out.Extra, "usage_cost")
}
