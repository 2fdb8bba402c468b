package conversations

import (
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/formwise-ai/advisor/internal/agent/model"
)

// MessagesManager shapes a thread's message history into model input. It is
// stateless; the history itself lives in the checkpointed ConversationState.
type MessagesManager struct {
	triageMaxTurns      int
	responseMaxMessages int
}

func NewMessagesManager(config model.ConversationConfig) *MessagesManager {
	turns := config.Triage.MaxTurns
	if turns <= 0 {
		turns = 6
	}
	history := config.History.MaxMessages
	if history <= 0 {
		history = 20
	}
	return &MessagesManager{
		triageMaxTurns:      turns,
		responseMaxMessages: history,
	}
}

// =========== Triage ===========

// BuildTriageContext renders the recent conversation plus the message to
// classify. The current message is the last user message in messages; the
// context window is the tail of everything before it.
func (cm *MessagesManager) BuildTriageContext(messages []*schema.Message) string {
	idx := lastUserIndex(messages)
	if idx < 0 {
		return cm.buildTriageContext(messages) + "\n<current_message_to_analyze>\n</current_message_to_analyze>"
	}

	var fullContext strings.Builder
	fullContext.WriteString(cm.buildTriageContext(messages[:idx]))
	fullContext.WriteString("\n<current_message_to_analyze>\n")
	fullContext.WriteString("UserMessage(" + messages[idx].Content + ")\n")
	fullContext.WriteString("</current_message_to_analyze>")
	return fullContext.String()
}

func (cm *MessagesManager) buildTriageContext(messages []*schema.Message) string {
	recentMessages := trimTail(dialogue(messages), cm.triageMaxTurns)

	var contextBuilder strings.Builder
	contextBuilder.WriteString("<conversation_context>\n")
	for _, msg := range recentMessages {
		switch msg.Role {
		case schema.User:
			contextBuilder.WriteString("UserMessage(" + msg.Content + ")\n")
		case schema.Assistant:
			contextBuilder.WriteString("AssistantMessage(" + msg.Content + ")\n")
		}
	}
	contextBuilder.WriteString("</conversation_context>")
	return contextBuilder.String()
}

// =========== Generators ===========

// BuildResponseContext returns the system prompt followed by the recent
// user/assistant dialogue. Tool traffic of earlier turns is left out: its
// results are already reflected in the assistant replies that followed.
func (cm *MessagesManager) BuildResponseContext(systemPrompt string, history []*schema.Message) []*schema.Message {
	recent := trimTail(dialogue(history), cm.responseMaxMessages)
	messages := make([]*schema.Message, 0, len(recent)+1)
	messages = append(messages, schema.SystemMessage(systemPrompt))
	return append(messages, recent...)
}

// ====================== Helper function ======================

// dialogue keeps user messages and assistant messages that carry text.
func dialogue(messages []*schema.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		if msg == nil || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		switch msg.Role {
		case schema.User:
			out = append(out, msg)
		case schema.Assistant:
			if len(msg.ToolCalls) == 0 {
				out = append(out, msg)
			}
		}
	}
	return out
}

func lastUserIndex(messages []*schema.Message) int {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i] != nil && messages[i].Role == schema.User {
			return i
		}
	}
	return -1
}

func trimTail(messages []*schema.Message, maxTurns int) []*schema.Message {
	if maxTurns <= 0 {
		return []*schema.Message{}
	}
	if len(messages) <= maxTurns {
		result := make([]*schema.Message, len(messages))
		copy(result, messages)
		return result
	}
	source := messages[len(messages)-maxTurns:]
	result := make([]*schema.Message, len(source))
	copy(result, source)
	return result
}
