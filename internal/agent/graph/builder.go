// Package graph composes the advisor: triage, the four specialist generators
// and the disclaimer policy behind a checkpointed Runner.
package graph

import (
	"context"
	"fmt"

	"github.com/formwise-ai/advisor/internal/agent/checkpoint"
	"github.com/formwise-ai/advisor/internal/agent/graph/conversations"
	"github.com/formwise-ai/advisor/internal/agent/graph/disclaimer"
	"github.com/formwise-ai/advisor/internal/agent/graph/generators"
	"github.com/formwise-ai/advisor/internal/agent/graph/nodes"
	"github.com/formwise-ai/advisor/internal/agent/graph/observers"
	"github.com/formwise-ai/advisor/internal/agent/graph/tools"
	"github.com/formwise-ai/advisor/internal/agent/model"
	logx "github.com/formwise-ai/advisor/pkg/logger"
)

// Config holds everything needed to assemble a Runner end-to-end. This is a
// convenience layer over GraphConfig that also builds the tool registry, the
// classifier and the generators.
type Config struct {
	Resolver     nodes.ModelResolver
	Business     model.BusinessRepository
	Conversation model.ConversationConfig
	Store        checkpoint.Store
	Locks        *conversations.ThreadLocks
	Transcripts  model.TranscriptRepository
	Policy       *disclaimer.Policy
	Metrics      *observers.Metrics
}

// BuildRunner wires the whole advisor.
func BuildRunner(ctx context.Context, cfg Config) (*Runner, error) {
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("model resolver is nil")
	}
	if cfg.Business == nil {
		return nil, fmt.Errorf("business repository is nil")
	}

	registry, err := tools.NewRegistry(ctx, cfg.Business)
	if err != nil {
		return nil, err
	}
	mm := conversations.NewMessagesManager(cfg.Conversation)

	deps := generators.Deps{
		Resolver:  cfg.Resolver,
		Tools:     registry,
		Messages:  mm,
		MaxRounds: cfg.Conversation.Tools.MaxRounds,
		Metrics:   cfg.Metrics,
	}
	legal, err := generators.NewLegal(ctx, deps)
	if err != nil {
		return nil, err
	}
	financial, err := generators.NewFinancial(ctx, deps)
	if err != nil {
		return nil, err
	}
	tasks, err := generators.NewTasks(ctx, deps)
	if err != nil {
		return nil, err
	}
	general, err := generators.NewGeneral(ctx, deps)
	if err != nil {
		return nil, err
	}

	orchestrator, err := BuildOrchestrator(ctx, &GraphConfig{
		Classifier: nodes.NewClassifier(cfg.Resolver, mm),
		Specialists: Specialists{
			Legal:     legal,
			Financial: financial,
			Tasks:     tasks,
			General:   general,
		},
		Policy:  cfg.Policy,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}

	runner, err := NewRunner(RunnerConfig{
		Orchestrator: orchestrator,
		Store:        cfg.Store,
		Locks:        cfg.Locks,
		Transcripts:  cfg.Transcripts,
		Metrics:      cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}

	logx.Debug().Msg("Advisor runner built successfully")
	return runner, nil
}
