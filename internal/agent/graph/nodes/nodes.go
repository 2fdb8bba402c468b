package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/formwise-ai/advisor/internal/agent/graph/conversations"
	"github.com/formwise-ai/advisor/internal/agent/graph/parsers"
	"github.com/formwise-ai/advisor/internal/agent/graph/prompts"
	"github.com/formwise-ai/advisor/internal/agent/model"
	logx "github.com/formwise-ai/advisor/pkg/logger"
)

// Orchestrator node names.
const (
	NodeTriage    = "triage"
	NodeLegal     = "legal"
	NodeFinancial = "financial"
	NodeTasks     = "tasks"
	NodeGeneral   = "general"
)

// Fallback confidences used when classification does not produce a usable answer.
const (
	ParseFailureConfidence = 0.5
	CallFailureConfidence  = 0.3
)

// Route maps the agent chosen by triage onto the specialist node. Anything
// that is not a specialist goes to general.
func Route(active model.Agent) string {
	switch active {
	case model.AgentLegal:
		return NodeLegal
	case model.AgentFinancial:
		return NodeFinancial
	case model.AgentTasks:
		return NodeTasks
	default:
		return NodeGeneral
	}
}

// Classifier is the triage step: one model call that labels the latest user
// message with an intent.
type Classifier struct {
	resolver ModelResolver
	messages *conversations.MessagesManager
}

func NewClassifier(resolver ModelResolver, mm *conversations.MessagesManager) *Classifier {
	return &Classifier{resolver: resolver, messages: mm}
}

// Classify never fails. A reply that cannot be parsed routes to general with
// ParseFailureConfidence; a failed call routes to general with
// CallFailureConfidence. No user-visible message is produced.
func (c *Classifier) Classify(ctx context.Context, state *model.ConversationState) *model.Delta {
	res, tokens, err := c.classify(ctx, state)
	if err != nil {
		logx.Warn().Err(err).Str("thread_id", state.ThreadID).Msg("triage call failed; routing to general")
		return routed(parsers.TriageResult{
			Intent:     model.IntentGeneral,
			Confidence: CallFailureConfidence,
			Reason:     "classification call failed: " + err.Error(),
		}, tokens)
	}
	return routed(*res, tokens)
}

func (c *Classifier) classify(ctx context.Context, state *model.ConversationState) (res *parsers.TriageResult, tokens int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("triage panic: %v", r)
		}
	}()

	if c.resolver == nil {
		return nil, 0, fmt.Errorf("no model resolver")
	}
	rm, err := c.resolver.Resolve(ctx, state.LLM, PurposeTriage)
	if err != nil {
		return nil, 0, err
	}

	system, err := prompts.RenderTriageSystem(ctx)
	if err != nil {
		return nil, 0, err
	}
	in := []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(c.messages.BuildTriageContext(state.Messages)),
	}

	out, err := rm.Model.Generate(ctx, in)
	if err != nil {
		return nil, model.EstimateTokens(model.PromptChars(in), 0), err
	}
	tokens = RecordUsage(ctx, state.ThreadID, NodeTriage, rm.Name, in, out)

	parsed, perr := parsers.ParseTriage(out.Content)
	if perr != nil {
		logx.Warn().Err(perr).Str("thread_id", state.ThreadID).Msg("triage reply unparseable; routing to general")
		return &parsers.TriageResult{
			Intent:     model.IntentGeneral,
			Confidence: ParseFailureConfidence,
			Reason:     "could not parse classification: " + perr.Error(),
		}, tokens, nil
	}

	logx.Debug().
		Str("thread_id", state.ThreadID).
		Str("intent", string(parsed.Intent)).
		Float64("confidence", parsed.Confidence).
		Msg("triage classified message")
	return parsed, tokens, nil
}

func routed(res parsers.TriageResult, tokens int) *model.Delta {
	return &model.Delta{
		Intent:           model.Ptr(res.Intent),
		IntentConfidence: model.Ptr(parsers.Clamp01(res.Confidence)),
		RoutingReason:    model.Ptr(res.Reason),
		ActiveAgent:      model.Ptr(model.AgentFor(res.Intent)),
		TokensUsed:       tokens,
	}
}
