package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/formwise-ai/advisor/internal/agent/checkpoint"
	"github.com/formwise-ai/advisor/internal/agent/graph/conversations"
	"github.com/formwise-ai/advisor/internal/agent/graph/observers"
	"github.com/formwise-ai/advisor/internal/agent/model"
	logx "github.com/formwise-ai/advisor/pkg/logger"
)

// ErrInvalidInput is returned by Invoke for a state without a thread ID or
// without a user message.
var ErrInvalidInput = errors.New("invalid input")

// RunnerConfig wires a compiled orchestrator to its persistence.
type RunnerConfig struct {
	Orchestrator compose.Runnable[*model.ConversationState, *model.ConversationState]
	Store        checkpoint.Store
	Locks        *conversations.ThreadLocks
	Transcripts  model.TranscriptRepository
	Metrics      *observers.Metrics
	Callbacks    []callbacks.Handler
}

// Runner executes one turn at a time per thread: load the checkpoint, run the
// orchestrator, persist the result.
type Runner struct {
	runnable    compose.Runnable[*model.ConversationState, *model.ConversationState]
	store       checkpoint.Store
	locks       *conversations.ThreadLocks
	transcripts model.TranscriptRepository
	metrics     *observers.Metrics
	callbacks   []callbacks.Handler
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is nil")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("checkpoint store is nil")
	}
	if cfg.Locks == nil {
		cfg.Locks = conversations.NewThreadLocks()
	}
	if cfg.Callbacks == nil {
		cfg.Callbacks = []callbacks.Handler{observers.NewAllCallbacks()}
	}
	return &Runner{
		runnable:    cfg.Orchestrator,
		store:       cfg.Store,
		locks:       cfg.Locks,
		transcripts: cfg.Transcripts,
		metrics:     cfg.Metrics,
		callbacks:   cfg.Callbacks,
	}, nil
}

// Invoke runs one turn. in carries the thread ID, the new user message(s) and
// optionally the user, business and LLM selection of the request. The
// returned state is the persisted checkpoint. Only checkpoint IO and
// unexpected graph failures are returned as errors; generator failures are
// reported through the state's Error field.
func (r *Runner) Invoke(ctx context.Context, in *model.ConversationState) (*model.ConversationState, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	start := time.Now()
	var (
		result *model.ConversationState
		spent  int
	)
	err := r.locks.WithLock(ctx, in.ThreadID, func(ctx context.Context) error {
		prev, err := r.store.Get(ctx, in.ThreadID)
		if errors.Is(err, checkpoint.ErrNotFound) {
			prev = model.NewConversationState(in.ThreadID)
		} else if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}

		turn := startTurn(prev, in)
		base := len(turn.Messages)

		opts := make([]compose.Option, 0, 1)
		if len(r.callbacks) > 0 {
			opts = append(opts, compose.WithCallbacks(r.callbacks...))
		}
		out, err := r.runnable.Invoke(ctx, turn, opts...)
		if err != nil {
			return fmt.Errorf("run orchestrator: %w", err)
		}

		if err := r.store.Put(ctx, in.ThreadID, out); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}

		spent = out.TokensUsed - prev.TokensUsed
		r.appendTranscript(ctx, out, base, spent)
		result = out
		return nil
	})
	r.metrics.ObserveTurn(start, err, spent)
	if err != nil {
		logx.Error().Err(err).Str("thread_id", in.ThreadID).Msg("turn failed")
		return nil, err
	}

	logx.Info().
		Str("thread_id", result.ThreadID).
		Str("intent", string(result.Intent)).
		Str("active_agent", string(result.ActiveAgent)).
		Int("tokens_used", result.TokensUsed).
		Bool("disclaimer", result.Metadata.DisclaimerAdded).
		Dur("took", time.Since(start)).
		Msg("turn completed")
	return result, nil
}

// Snapshot returns the persisted state of a thread, or checkpoint.ErrNotFound.
func (r *Runner) Snapshot(ctx context.Context, threadID string) (*model.ConversationState, error) {
	return r.store.Get(ctx, threadID)
}

// Transcript returns the display history of a thread. Without a transcript
// repository it is always empty.
func (r *Runner) Transcript(ctx context.Context, threadID string) ([]model.TranscriptEntry, error) {
	if r.transcripts == nil {
		return []model.TranscriptEntry{}, nil
	}
	return r.transcripts.Load(ctx, threadID)
}

// Reset forgets a thread: checkpoint and transcript.
func (r *Runner) Reset(ctx context.Context, threadID string) error {
	if strings.TrimSpace(threadID) == "" {
		return fmt.Errorf("%w: thread id is required", ErrInvalidInput)
	}
	return r.locks.WithLock(ctx, threadID, func(ctx context.Context) error {
		if err := r.store.Delete(ctx, threadID); err != nil {
			return fmt.Errorf("delete checkpoint: %w", err)
		}
		if r.transcripts != nil {
			if err := r.transcripts.Clear(ctx, threadID); err != nil {
				return fmt.Errorf("clear transcript: %w", err)
			}
		}
		return nil
	})
}

func validate(in *model.ConversationState) error {
	if in == nil {
		return fmt.Errorf("%w: state is nil", ErrInvalidInput)
	}
	if strings.TrimSpace(in.ThreadID) == "" {
		return fmt.Errorf("%w: thread id is required", ErrInvalidInput)
	}
	for _, m := range in.Messages {
		if m != nil && m.Role == schema.User && strings.TrimSpace(m.Content) != "" {
			return nil
		}
	}
	return fmt.Errorf("%w: a user message is required", ErrInvalidInput)
}

// startTurn clears the fields that describe a single turn and folds the
// inbound request into the checkpointed state.
func startTurn(prev, in *model.ConversationState) *model.ConversationState {
	s := *prev
	s.Intent = ""
	s.IntentConfidence = 0
	s.RoutingReason = ""
	s.Confidence = 0
	s.Error = ""
	s.Metadata.DisclaimerAdded = false
	s.Metadata.DisclaimerCategory = ""

	d := &model.Delta{Messages: in.Messages}
	if in.UserID != "" {
		d.UserID = model.Ptr(in.UserID)
	}
	if in.BusinessID != "" {
		d.BusinessID = model.Ptr(in.BusinessID)
	}
	if !in.LLM.IsZero() {
		d.LLM = model.Ptr(in.LLM)
	}
	return model.Merge(&s, d)
}

// appendTranscript forwards the turn to the transcript repository. tokens is
// what this turn spent. Failures are logged; the checkpoint is already written.
func (r *Runner) appendTranscript(ctx context.Context, s *model.ConversationState, base, tokens int) {
	if r.transcripts == nil {
		return
	}
	var replies []string
	for _, m := range s.Messages[base:] {
		if m != nil && m.Role == schema.Assistant && len(m.ToolCalls) == 0 && m.Content != "" {
			replies = append(replies, m.Content)
		}
	}
	entry := model.TranscriptEntry{
		UserText:         s.LastUserMessage(),
		AssistantText:    strings.Join(replies, "\n\n"),
		TokensUsed:       tokens,
		Intent:           s.Intent,
		IntentConfidence: s.IntentConfidence,
		ActiveAgent:      s.ActiveAgent,
		RoutingReason:    s.RoutingReason,
		Error:            s.Error,
		CreatedAt:        time.Now().UTC(),
	}
	if err := r.transcripts.Append(ctx, s.ThreadID, entry); err != nil {
		logx.Warn().Err(err).Str("thread_id", s.ThreadID).Msg("failed to append transcript")
	}
}
