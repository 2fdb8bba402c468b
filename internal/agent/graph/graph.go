package graph

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/formwise-ai/advisor/internal/agent/graph/disclaimer"
	"github.com/formwise-ai/advisor/internal/agent/graph/generators"
	"github.com/formwise-ai/advisor/internal/agent/graph/nodes"
	"github.com/formwise-ai/advisor/internal/agent/graph/observers"
	"github.com/formwise-ai/advisor/internal/agent/model"
	logx "github.com/formwise-ai/advisor/pkg/logger"
)

// Classifier labels the latest user message. It must not fail.
type Classifier interface {
	Classify(ctx context.Context, state *model.ConversationState) *model.Delta
}

// Specialist produces the reply for a routed turn. Failures are expected to
// come back as a delta with Error set, but the orchestrator also contains
// panics.
type Specialist interface {
	Generate(ctx context.Context, state *model.ConversationState) *model.Delta
}

// Specialists are the four reply generators the triage branch routes to.
type Specialists struct {
	Legal     Specialist
	Financial Specialist
	Tasks     Specialist
	General   Specialist
}

// GraphConfig holds all configuration needed to build the orchestrator.
type GraphConfig struct {
	Classifier  Classifier
	Specialists Specialists
	Policy      *disclaimer.Policy
	Metrics     *observers.Metrics
}

// turnState is the graph-local state of one turn.
type turnState struct {
	query string
}

// GraphBuilder handles the construction of the orchestrator graph.
type GraphBuilder struct {
	config *GraphConfig
	graph  *compose.Graph[*model.ConversationState, *model.ConversationState]
}

// BuildOrchestrator constructs and compiles triage plus the specialist
// branch. Every specialist ends the turn; there is no cycle at this level.
func BuildOrchestrator(ctx context.Context, config *GraphConfig) (compose.Runnable[*model.ConversationState, *model.ConversationState], error) {
	if config == nil {
		return nil, fmt.Errorf("graph config is nil")
	}
	if config.Classifier == nil {
		return nil, fmt.Errorf("classifier is nil")
	}
	sp := config.Specialists
	if sp.Legal == nil || sp.Financial == nil || sp.Tasks == nil || sp.General == nil {
		return nil, fmt.Errorf("all four specialists are required")
	}
	if config.Policy == nil {
		config.Policy = disclaimer.Default()
	}

	builder := &GraphBuilder{
		config: config,
		graph: compose.NewGraph[*model.ConversationState, *model.ConversationState](
			compose.WithGenLocalState(func(ctx context.Context) *turnState {
				return &turnState{}
			}),
		),
	}

	if err := builder.addNodes(); err != nil {
		return nil, err
	}
	if err := builder.addEdges(); err != nil {
		return nil, err
	}
	if err := builder.addBranches(); err != nil {
		return nil, err
	}
	return builder.compile(ctx)
}

func (b *GraphBuilder) addNodes() error {
	if err := b.graph.AddLambdaNode(nodes.NodeTriage,
		compose.InvokableLambda(b.triage),
		compose.WithStatePreHandler(func(ctx context.Context, in *model.ConversationState, ts *turnState) (*model.ConversationState, error) {
			ts.query = in.LastUserMessage()
			return in, nil
		}),
		compose.WithNodeName("triage"),
	); err != nil {
		return err
	}

	specialists := map[string]Specialist{
		nodes.NodeLegal:     b.config.Specialists.Legal,
		nodes.NodeFinancial: b.config.Specialists.Financial,
		nodes.NodeTasks:     b.config.Specialists.Tasks,
		nodes.NodeGeneral:   b.config.Specialists.General,
	}
	for name, s := range specialists {
		if err := b.graph.AddLambdaNode(name, compose.InvokableLambda(b.specialist(name, s)), compose.WithNodeName(name)); err != nil {
			return err
		}
	}
	return nil
}

func (b *GraphBuilder) addEdges() error {
	edges := [][2]string{
		{compose.START, nodes.NodeTriage},
		{nodes.NodeLegal, compose.END},
		{nodes.NodeFinancial, compose.END},
		{nodes.NodeTasks, compose.END},
		{nodes.NodeGeneral, compose.END},
	}
	for _, edge := range edges {
		if err := b.graph.AddEdge(edge[0], edge[1]); err != nil {
			return err
		}
	}
	return nil
}

func (b *GraphBuilder) addBranches() error {
	routeBranch := compose.NewGraphBranch(
		func(_ context.Context, s *model.ConversationState) (string, error) {
			next := nodes.Route(s.ActiveAgent)
			b.config.Metrics.ObserveRoute(next, string(s.Intent))
			return next, nil
		},
		map[string]bool{
			nodes.NodeLegal:     true,
			nodes.NodeFinancial: true,
			nodes.NodeTasks:     true,
			nodes.NodeGeneral:   true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeTriage, routeBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding route branch")
		return fmt.Errorf("error adding route branch: %w", err)
	}
	return nil
}

func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[*model.ConversationState, *model.ConversationState], error) {
	runnable, err := b.graph.Compile(ctx,
		compose.WithMaxRunSteps(10),
		compose.WithGraphName("orchestrator"),
	)
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}
	logx.Debug().Msg("Orchestrator graph compiled successfully")
	return runnable, nil
}

// ===== Nodes =====

func (b *GraphBuilder) triage(ctx context.Context, s *model.ConversationState) (*model.ConversationState, error) {
	return model.Merge(s, b.config.Classifier.Classify(ctx, s)), nil
}

// specialist wraps a generator: it contains panics, then appends the
// disclaimer to each finished assistant reply.
func (b *GraphBuilder) specialist(name string, gen Specialist) func(context.Context, *model.ConversationState) (*model.ConversationState, error) {
	return func(ctx context.Context, s *model.ConversationState) (*model.ConversationState, error) {
		ts := turnState{query: s.LastUserMessage()}
		_ = compose.ProcessState(ctx, func(_ context.Context, st *turnState) error {
			if st.query != "" {
				ts = *st
			}
			return nil
		})

		delta := b.generate(ctx, name, gen, s)
		b.applyDisclaimer(name, ts.query, delta)
		return model.Merge(s, delta), nil
	}
}

func (b *GraphBuilder) generate(ctx context.Context, name string, gen Specialist, s *model.ConversationState) (delta *model.Delta) {
	defer func() {
		if r := recover(); r != nil {
			logx.Error().
				Str("thread_id", s.ThreadID).
				Str("specialist", name).
				Interface("panic", r).
				Msg("specialist panicked; replying with apology")
			b.config.Metrics.ObserveGeneratorFailure(name)
			delta = apology(fmt.Errorf("%s specialist panic: %v", name, r))
		}
	}()

	delta = gen.Generate(ctx, s)
	if delta == nil {
		b.config.Metrics.ObserveGeneratorFailure(name)
		return apology(fmt.Errorf("%s specialist returned no reply", name))
	}
	return delta
}

func (b *GraphBuilder) applyDisclaimer(generator, query string, delta *model.Delta) {
	if delta.Error != nil && *delta.Error != "" {
		return
	}
	for _, msg := range delta.Messages {
		if msg == nil || msg.Role != schema.Assistant || msg.Content == "" || len(msg.ToolCalls) > 0 {
			continue
		}
		text, category, added := b.config.Policy.ApplyCategory(msg.Content, generator, query)
		if !added {
			continue
		}
		msg.Content = text
		if delta.Metadata == nil {
			delta.Metadata = &model.Metadata{}
		}
		delta.Metadata.DisclaimerAdded = true
		delta.Metadata.DisclaimerCategory = string(category)
		b.config.Metrics.ObserveDisclaimer(string(category))
	}
}

func apology(err error) *model.Delta {
	return &model.Delta{
		Messages: []*schema.Message{schema.AssistantMessage(generators.ApologyMessage, nil)},
		Error:    model.Ptr(err.Error()),
	}
}
