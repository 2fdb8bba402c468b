package conversations

import (
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formwise-ai/advisor/internal/agent/model"
)

func newManager(turns, history int) *MessagesManager {
	var cfg model.ConversationConfig
	cfg.Triage.MaxTurns = turns
	cfg.History.MaxMessages = history
	return NewMessagesManager(cfg)
}

func TestBuildTriageContext_CurrentMessageSeparated(t *testing.T) {
	cm := newManager(4, 10)
	msgs := []*schema.Message{
		schema.UserMessage("I run a bakery"),
		schema.AssistantMessage("Great, how can I help?", nil),
		schema.UserMessage("Should I form an LLC?"),
	}

	out := cm.BuildTriageContext(msgs)

	assert.Contains(t, out, "<conversation_context>\nUserMessage(I run a bakery)\nAssistantMessage(Great, how can I help?)\n</conversation_context>")
	assert.True(t, strings.HasSuffix(out, "<current_message_to_analyze>\nUserMessage(Should I form an LLC?)\n</current_message_to_analyze>"))
}

func TestBuildTriageContext_KeepsLastTurns(t *testing.T) {
	cm := newManager(2, 10)
	var msgs []*schema.Message
	for i := 0; i < 5; i++ {
		msgs = append(msgs, schema.UserMessage(fmt.Sprintf("q%d", i)), schema.AssistantMessage(fmt.Sprintf("a%d", i), nil))
	}
	msgs = append(msgs, schema.UserMessage("now"))

	out := cm.BuildTriageContext(msgs)

	assert.NotContains(t, out, "q3")
	assert.Contains(t, out, "UserMessage(q4)")
	assert.Contains(t, out, "AssistantMessage(a4)")
	assert.Contains(t, out, "UserMessage(now)")
}

func TestBuildTriageContext_SkipsToolTraffic(t *testing.T) {
	cm := newManager(6, 10)
	msgs := []*schema.Message{
		schema.UserMessage("list my tasks"),
		schema.AssistantMessage("", []schema.ToolCall{{ID: "c1", Function: schema.FunctionCall{Name: "list_tasks"}}}),
		schema.ToolMessage("tool list_tasks executed: []", "c1"),
		schema.AssistantMessage("You have no tasks.", nil),
		nil,
		schema.UserMessage("thanks"),
	}

	out := cm.BuildTriageContext(msgs)
	assert.NotContains(t, out, "executed")
	assert.Contains(t, out, "AssistantMessage(You have no tasks.)")
}

func TestBuildResponseContext(t *testing.T) {
	cm := newManager(6, 3)
	history := []*schema.Message{
		schema.UserMessage("one"),
		schema.AssistantMessage("two", nil),
		schema.UserMessage("three"),
		schema.AssistantMessage("", []schema.ToolCall{{ID: "c1"}}),
		schema.ToolMessage("tool x executed: {}", "c1"),
		schema.AssistantMessage("four", nil),
		schema.UserMessage("five"),
	}

	msgs := cm.BuildResponseContext("system prompt", history)

	require.Len(t, msgs, 4)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Equal(t, "system prompt", msgs[0].Content)
	assert.Equal(t, "three", msgs[1].Content)
	assert.Equal(t, "four", msgs[2].Content)
	assert.Equal(t, "five", msgs[3].Content)
}

func TestTrimTail(t *testing.T) {
	msgs := []*schema.Message{schema.UserMessage("a"), schema.UserMessage("b"), schema.UserMessage("c")}

	assert.Len(t, trimTail(msgs, 5), 3)
	assert.Empty(t, trimTail(msgs, 0))

	tail := trimTail(msgs, 2)
	require.Len(t, tail, 2)
	assert.Equal(t, "b", tail[0].Content)

	tail[0] = nil
	assert.NotNil(t, msgs[1], "trimTail returns a copy")
}
