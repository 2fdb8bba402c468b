package nodes

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/formwise-ai/advisor/internal/agent/model"
	logx "github.com/formwise-ai/advisor/pkg/logger"
)

// ===== Small helpers shared by triage and the generators =====

// RecordUsage returns the token delta of one model call and annotates out
// with its cost when the provider reported usage. Without provider usage the
// chars/4 estimate over prompt and response is used.
func RecordUsage(ctx context.Context, threadID, node, modelName string, in []*schema.Message, out *schema.Message) int {
	tokens := model.TokensFor(out, model.PromptChars(in))

	if out == nil || out.ResponseMeta == nil || out.ResponseMeta.Usage == nil {
		logx.Debug().
			Str("thread_id", threadID).
			Str("node", node).
			Str("model", modelName).
			Int("estimated_tokens", tokens).
			Msg("LLM usage (estimated)")
		return tokens
	}

	usage := out.ResponseMeta.Usage
	pricing := model.ResolvePricing(modelName)
	inC, outC, totalC := model.ComputeCost(usage, pricing)
	if out.Extra == nil {
		out.Extra = map[string]any{}
	}
	out.Extra["usage_cost"] = map[string]any{
		"currency":          "USD",
		"model":             modelName,
		"prompt_tokens":     usage.PromptTokens,
		"completion_tokens": usage.CompletionTokens,
		"total_tokens":      usage.TotalTokens,
		"input_cost":        inC,
		"output_cost":       outC,
		"total_cost":        totalC,
	}
	logx.Debug().
		Str("thread_id", threadID).
		Str("node", node).
		Str("model", modelName).
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Int("total_tokens", usage.TotalTokens).
		Float64("input_cost_usd", inC).
		Float64("output_cost_usd", outC).
		Float64("total_cost_usd", totalC).
		Msg("LLM usage")
	return tokens
}

// NormalizeToolCallIDs fills in tool call IDs some providers omit, so tool
// results can be matched to their call.
func NormalizeToolCallIDs(msg *schema.Message) {
	if msg == nil {
		return
	}
	for i := range msg.ToolCalls {
		if strings.TrimSpace(msg.ToolCalls[i].ID) == "" {
			msg.ToolCalls[i].ID = "call_" + uuid.NewString()
		}
	}
}
