// Package testutils holds fakes shared by package tests.
package testutils

import (
	"context"
	"errors"
	"sync"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ErrScriptExhausted is returned once every scripted step has been used.
var ErrScriptExhausted = errors.New("scripted model: no more steps")

// Step is one scripted model response.
type Step struct {
	Message *schema.Message
	Err     error
	Panic   any
	// Reply computes the response from the input when set.
	Reply func(in []*schema.Message) (*schema.Message, error)
}

// Call records one Generate invocation.
type Call struct {
	Messages []*schema.Message
	Tools    []*schema.ToolInfo
}

type script struct {
	mu       sync.Mutex
	steps    []Step
	fallback *Step
	calls    []Call
}

// ScriptedModel is a model.ToolCallingChatModel that replays steps in order.
// Models returned by WithTools share the script and record their tools.
type ScriptedModel struct {
	script *script
	tools  []*schema.ToolInfo
}

var _ einomodel.ToolCallingChatModel = (*ScriptedModel)(nil)

func NewScriptedModel(steps ...Step) *ScriptedModel {
	return &ScriptedModel{script: &script{steps: steps}}
}

// WithFallback sets the step used after the script runs out.
func (m *ScriptedModel) WithFallback(step Step) *ScriptedModel {
	m.script.mu.Lock()
	defer m.script.mu.Unlock()
	m.script.fallback = &step
	return m
}

// Calls returns every recorded invocation.
func (m *ScriptedModel) Calls() []Call {
	m.script.mu.Lock()
	defer m.script.mu.Unlock()
	out := make([]Call, len(m.script.calls))
	copy(out, m.script.calls)
	return out
}

func (m *ScriptedModel) Generate(_ context.Context, input []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	m.script.mu.Lock()
	m.script.calls = append(m.script.calls, Call{Messages: input, Tools: m.tools})
	var step Step
	switch {
	case len(m.script.steps) > 0:
		step = m.script.steps[0]
		m.script.steps = m.script.steps[1:]
	case m.script.fallback != nil:
		step = *m.script.fallback
	default:
		m.script.mu.Unlock()
		return nil, ErrScriptExhausted
	}
	m.script.mu.Unlock()

	if step.Panic != nil {
		panic(step.Panic)
	}
	if step.Reply != nil {
		return step.Reply(input)
	}
	if step.Err != nil {
		return nil, step.Err
	}
	// Hand out a copy so callers may modify the message.
	msg := *step.Message
	msg.ToolCalls = append([]schema.ToolCall(nil), step.Message.ToolCalls...)
	return &msg, nil
}

func (m *ScriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *ScriptedModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	return &ScriptedModel{script: m.script, tools: tools}, nil
}

// Reply scripts a plain assistant answer.
func Reply(content string) Step {
	return Step{Message: schema.AssistantMessage(content, nil)}
}

// ReplyWithUsage scripts an answer that reports provider token usage.
func ReplyWithUsage(content string, total int) Step {
	msg := schema.AssistantMessage(content, nil)
	msg.ResponseMeta = &schema.ResponseMeta{Usage: &schema.TokenUsage{TotalTokens: total}}
	return Step{Message: msg}
}

// CallTool scripts an assistant message requesting one tool call.
func CallTool(id, name, arguments string) Step {
	return Step{Message: schema.AssistantMessage("", []schema.ToolCall{{
		ID:       id,
		Type:     "function",
		Function: schema.FunctionCall{Name: name, Arguments: arguments},
	}})}
}

// Fail scripts a model error.
func Fail(err error) Step {
	return Step{Err: err}
}
