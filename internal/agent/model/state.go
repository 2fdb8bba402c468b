package model

import (
	"time"

	"github.com/cloudwego/eino/schema"
)

// Agent names the node that produced, or is producing, the current turn.
type Agent string

const (
	AgentTriage    Agent = "triage"
	AgentLegal     Agent = "legal"
	AgentFinancial Agent = "financial"
	AgentTasks     Agent = "tasks"
)

// Intent is the triage classification of a user message.
type Intent string

const (
	IntentLegal     Intent = "legal"
	IntentFinancial Intent = "financial"
	IntentTasks     Intent = "tasks"
	IntentGeneral   Intent = "general"
)

// ParseIntent maps free text onto a known intent. ok is false for anything unknown.
func ParseIntent(v string) (Intent, bool) {
	switch Intent(v) {
	case IntentLegal, IntentFinancial, IntentTasks, IntentGeneral:
		return Intent(v), true
	default:
		return IntentGeneral, false
	}
}

// AgentFor returns the agent that owns an intent. General has no specialist of
// its own, so it stays on triage.
func AgentFor(intent Intent) Agent {
	switch intent {
	case IntentLegal:
		return AgentLegal
	case IntentFinancial:
		return AgentFinancial
	case IntentTasks:
		return AgentTasks
	default:
		return AgentTriage
	}
}

// LLMSelection overrides which inference backend and credential a request uses.
type LLMSelection struct {
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	APIKey   string `json:"-"`
}

// IsZero reports whether no override was requested.
func (s LLMSelection) IsZero() bool {
	return s.Provider == "" && s.Model == "" && s.APIKey == ""
}

// BusinessContext is the snapshot of the user's business record loaded by generators.
type BusinessContext struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Type   string `json:"type,omitempty"`
	State  string `json:"state,omitempty"`
	Status string `json:"status,omitempty"`
}

// ProgressSummary condenses the user's task list.
type ProgressSummary struct {
	Total     int      `json:"total"`
	Completed int      `json:"completed"`
	Pending   []string `json:"pending,omitempty"`
}

// Metadata carries the known context snapshots passed between steps.
// Merging is shallow: any field set on the incoming value replaces the current one.
type Metadata struct {
	Business           *BusinessContext `json:"business,omitempty"`
	Progress           *ProgressSummary `json:"progress,omitempty"`
	LastResponseAt     *time.Time       `json:"last_response_at,omitempty"`
	DisclaimerAdded    bool             `json:"disclaimer_added,omitempty"`
	DisclaimerCategory string           `json:"disclaimer_category,omitempty"`
}

// ConversationState is the record threaded through every step of a turn and
// persisted between turns of the same thread.
//
// Concurrency model:
//   - A state value is owned by exactly one pipeline at a time; the runner holds
//     the thread lock from checkpoint load to checkpoint write.
//   - Nodes never mutate the state they receive. They return a Delta and the
//     graph folds it in with Merge.
type ConversationState struct {
	Messages   []*schema.Message `json:"messages"`
	ThreadID   string            `json:"thread_id"`
	UserID     string            `json:"user_id,omitempty"`
	BusinessID string            `json:"business_id,omitempty"`

	ActiveAgent      Agent   `json:"active_agent,omitempty"`
	Intent           Intent  `json:"intent,omitempty"`
	IntentConfidence float64 `json:"intent_confidence,omitempty"`
	RoutingReason    string  `json:"routing_reason,omitempty"`
	Confidence       float64 `json:"confidence,omitempty"`

	TokensUsed     int      `json:"tokens_used"`
	CompletedSteps []string `json:"completed_steps,omitempty"`

	LLM      LLMSelection `json:"llm"`
	Metadata Metadata     `json:"metadata"`

	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retry_count,omitempty"`
}

// NewConversationState returns the empty state of a thread with no checkpoint.
func NewConversationState(threadID string) *ConversationState {
	return &ConversationState{
		ThreadID:       threadID,
		Messages:       []*schema.Message{},
		CompletedSteps: []string{},
	}
}

// LastUserMessage returns the content of the most recent user message.
func (s *ConversationState) LastUserMessage() string {
	if s == nil {
		return ""
	}
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := s.Messages[i]
		if m != nil && m.Role == schema.User {
			return m.Content
		}
	}
	return ""
}

// LastAssistantMessage returns the most recent assistant message, or nil.
func (s *ConversationState) LastAssistantMessage() *schema.Message {
	if s == nil {
		return nil
	}
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := s.Messages[i]
		if m != nil && m.Role == schema.Assistant {
			return m
		}
	}
	return nil
}

// Delta is a partial state produced by a node. Zero values mean "unchanged",
// except for the accumulating fields which are always folded in.
type Delta struct {
	Messages []*schema.Message

	UserID     *string
	BusinessID *string

	ActiveAgent      *Agent
	Intent           *Intent
	IntentConfidence *float64
	RoutingReason    *string
	Confidence       *float64

	TokensUsed     int
	CompletedSteps []string

	LLM      *LLMSelection
	Metadata *Metadata

	Error      *string
	RetryCount int
}

// Ptr returns a pointer to v, for filling Delta fields.
func Ptr[T any](v T) *T {
	return &v
}

// Merge folds a delta into a state and returns the result. The input state is
// not modified. Reducers per field:
//   - Messages: concatenation in arrival order.
//   - TokensUsed, RetryCount: sum.
//   - CompletedSteps: set union, first-seen order kept.
//   - Metadata: shallow merge.
//   - everything else: last write wins.
func Merge(s *ConversationState, d *Delta) *ConversationState {
	var out ConversationState
	if s != nil {
		out = *s
	}
	out.Messages = append(make([]*schema.Message, 0, len(out.Messages)+lenMessages(d)), out.Messages...)
	out.CompletedSteps = append([]string{}, out.CompletedSteps...)
	if d == nil {
		return &out
	}

	out.Messages = append(out.Messages, d.Messages...)
	out.TokensUsed += d.TokensUsed
	out.RetryCount += d.RetryCount
	out.CompletedSteps = unionSteps(out.CompletedSteps, d.CompletedSteps)

	if d.UserID != nil {
		out.UserID = *d.UserID
	}
	if d.BusinessID != nil {
		out.BusinessID = *d.BusinessID
	}
	if d.ActiveAgent != nil {
		out.ActiveAgent = *d.ActiveAgent
	}
	if d.Intent != nil {
		out.Intent = *d.Intent
	}
	if d.IntentConfidence != nil {
		out.IntentConfidence = *d.IntentConfidence
	}
	if d.RoutingReason != nil {
		out.RoutingReason = *d.RoutingReason
	}
	if d.Confidence != nil {
		out.Confidence = *d.Confidence
	}
	if d.LLM != nil {
		out.LLM = *d.LLM
	}
	if d.Metadata != nil {
		out.Metadata = mergeMetadata(out.Metadata, *d.Metadata)
	}
	if d.Error != nil {
		out.Error = *d.Error
	}
	return &out
}

func lenMessages(d *Delta) int {
	if d == nil {
		return 0
	}
	return len(d.Messages)
}

func unionSteps(cur, add []string) []string {
	if len(add) == 0 {
		return cur
	}
	seen := make(map[string]struct{}, len(cur)+len(add))
	for _, s := range cur {
		seen[s] = struct{}{}
	}
	for _, s := range add {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		cur = append(cur, s)
	}
	return cur
}

func mergeMetadata(cur, in Metadata) Metadata {
	if in.Business != nil {
		cur.Business = in.Business
	}
	if in.Progress != nil {
		cur.Progress = in.Progress
	}
	if in.LastResponseAt != nil {
		cur.LastResponseAt = in.LastResponseAt
	}
	if in.DisclaimerAdded {
		cur.DisclaimerAdded = true
	}
	if in.DisclaimerCategory != "" {
		cur.DisclaimerCategory = in.DisclaimerCategory
	}
	return cur
}
