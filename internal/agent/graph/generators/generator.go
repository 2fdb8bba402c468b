// Package generators holds the specialist reply generators. Each one is a
// compiled eino graph that loads business context, calls the response model,
// runs requested tools and loops back until the model answers.
package generators

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/formwise-ai/advisor/internal/agent/graph/conversations"
	"github.com/formwise-ai/advisor/internal/agent/graph/nodes"
	"github.com/formwise-ai/advisor/internal/agent/graph/observers"
	"github.com/formwise-ai/advisor/internal/agent/graph/prompts"
	"github.com/formwise-ai/advisor/internal/agent/graph/tools"
	"github.com/formwise-ai/advisor/internal/agent/model"
	logx "github.com/formwise-ai/advisor/pkg/logger"
)

// ApologyMessage is the reply a user gets when a generator could not answer.
const ApologyMessage = "I'm sorry, I ran into a problem while preparing that answer. Please try again in a moment."

const (
	emptyReplyMessage = "I don't have a good answer for that yet. Could you tell me a bit more about what you need?"
	wrapUpNotice      = "You have used all tool calls available for this turn. Answer the user now with the information gathered so far and do not call any tools."

	defaultMaxRounds = 3
)

// Sub-graph node names.
const (
	nodeLoadContext = "load_context"
	nodeProcess     = "process"
	nodeTools       = "tools"
	nodeFinish      = "finish"
)

// Deps are the collaborators shared by every generator.
type Deps struct {
	Resolver  nodes.ModelResolver
	Tools     *tools.Registry
	Messages  *conversations.MessagesManager
	MaxRounds int
	Metrics   *observers.Metrics
}

// profile is what distinguishes one specialist from another.
type profile struct {
	specialist   prompts.Specialist
	confidence   float64
	loadProfile  bool
	loadTasks    bool
	bindTools    bool
	shortCircuit bool
}

// Generator produces the reply of one specialist for the latest user message.
type Generator struct {
	profile  profile
	deps     Deps
	runnable compose.Runnable[*model.ConversationState, *model.Delta]
}

// run is the per-invocation record passed between the sub-graph nodes.
type run struct {
	state *model.ConversationState
	scope tools.Scope

	chat      einomodel.ToolCallingChatModel
	toolChat  einomodel.ToolCallingChatModel
	modelName string
	system    string

	business *model.BusinessContext
	progress *model.ProgressSummary

	produced  []*schema.Message
	last      *schema.Message
	tokens    int
	rounds    int
	completed []string
	done      bool
	err       error
}

func newGenerator(ctx context.Context, p profile, deps Deps) (*Generator, error) {
	if deps.Resolver == nil {
		return nil, fmt.Errorf("%s generator: model resolver is nil", p.specialist)
	}
	if deps.Messages == nil {
		return nil, fmt.Errorf("%s generator: messages manager is nil", p.specialist)
	}
	if (p.bindTools || p.loadProfile || p.loadTasks) && deps.Tools == nil {
		return nil, fmt.Errorf("%s generator: tool registry is nil", p.specialist)
	}
	if deps.MaxRounds <= 0 {
		deps.MaxRounds = defaultMaxRounds
	}

	gen := &Generator{profile: p, deps: deps}
	runnable, err := gen.build(ctx)
	if err != nil {
		return nil, err
	}
	gen.runnable = runnable
	return gen, nil
}

// Name is the specialist this generator answers as.
func (g *Generator) Name() string {
	return string(g.profile.specialist)
}

// Generate never returns an error for its own failures: they become the
// apology reply with Error set on the delta.
func (g *Generator) Generate(ctx context.Context, state *model.ConversationState) (delta *model.Delta) {
	defer func() {
		if r := recover(); r != nil {
			delta = g.failed(state, 0, fmt.Errorf("%s generator panic: %v", g.profile.specialist, r))
		}
	}()

	out, err := g.runnable.Invoke(ctx, state)
	if err != nil {
		return g.failed(state, 0, err)
	}
	if out == nil {
		return g.failed(state, 0, fmt.Errorf("%s generator returned no result", g.profile.specialist))
	}
	return out
}

func (g *Generator) build(ctx context.Context) (compose.Runnable[*model.ConversationState, *model.Delta], error) {
	sg := compose.NewGraph[*model.ConversationState, *model.Delta]()

	if err := sg.AddLambdaNode(nodeLoadContext, compose.InvokableLambda(g.loadContext)); err != nil {
		return nil, err
	}
	if err := sg.AddLambdaNode(nodeProcess, compose.InvokableLambda(g.process)); err != nil {
		return nil, err
	}
	if err := sg.AddLambdaNode(nodeTools, compose.InvokableLambda(g.runTools)); err != nil {
		return nil, err
	}
	if err := sg.AddLambdaNode(nodeFinish, compose.InvokableLambda(g.finish)); err != nil {
		return nil, err
	}

	edges := [][2]string{
		{compose.START, nodeLoadContext},
		{nodeLoadContext, nodeProcess},
		{nodeFinish, compose.END},
	}
	for _, e := range edges {
		if err := sg.AddEdge(e[0], e[1]); err != nil {
			return nil, err
		}
	}

	afterProcess := compose.NewGraphBranch(
		func(_ context.Context, r *run) (string, error) {
			if r.err != nil || r.done || r.last == nil || len(r.last.ToolCalls) == 0 {
				return nodeFinish, nil
			}
			return nodeTools, nil
		},
		map[string]bool{nodeTools: true, nodeFinish: true},
	)
	if err := sg.AddBranch(nodeProcess, afterProcess); err != nil {
		return nil, fmt.Errorf("error adding process branch: %w", err)
	}

	afterTools := compose.NewGraphBranch(
		func(_ context.Context, r *run) (string, error) {
			if r.err != nil || r.done {
				return nodeFinish, nil
			}
			return nodeProcess, nil
		},
		map[string]bool{nodeProcess: true, nodeFinish: true},
	)
	if err := sg.AddBranch(nodeTools, afterTools); err != nil {
		return nil, fmt.Errorf("error adding tools branch: %w", err)
	}

	// load_context + finish, one process/tools pair per round, the wrap-up call.
	maxSteps := 2*g.deps.MaxRounds + 8
	runnable, err := sg.Compile(ctx,
		compose.WithMaxRunSteps(maxSteps),
		compose.WithGraphName("generator_"+string(g.profile.specialist)),
	)
	if err != nil {
		logx.Error().Err(err).Str("generator", string(g.profile.specialist)).Msg("Error compiling generator graph")
		return nil, fmt.Errorf("error compiling %s generator: %w", g.profile.specialist, err)
	}
	return runnable, nil
}

// ===== Nodes =====

func (g *Generator) loadContext(ctx context.Context, state *model.ConversationState) (r *run, _ error) {
	r = &run{
		state: state,
		scope: tools.Scope{UserID: state.UserID, BusinessID: state.BusinessID},
	}
	defer func() {
		if p := recover(); p != nil {
			r.err = fmt.Errorf("load context panic: %v", p)
		}
	}()

	rm, err := g.deps.Resolver.Resolve(ctx, state.LLM, nodes.PurposeResponse)
	if err != nil {
		r.err = err
		return r, nil
	}
	if rm == nil || rm.Model == nil {
		r.err = fmt.Errorf("no response model resolved")
		return r, nil
	}
	r.chat, r.modelName = rm.Model, rm.Name

	if g.profile.bindTools {
		bound, err := rm.Model.WithTools(g.deps.Tools.ToolInfos())
		if err != nil {
			r.err = fmt.Errorf("bind tools: %w", err)
			return r, nil
		}
		r.toolChat = bound
	}

	if g.profile.loadProfile || g.profile.loadTasks {
		r.business = state.Metadata.Business
		if state.UserID != "" {
			g.fetchContext(ctx, r)
		}
	}

	system, err := prompts.RenderSpecialistSystem(ctx, g.profile.specialist, prompts.SpecialistVars{
		Business: r.business,
		Progress: r.progress,
	})
	if err != nil {
		r.err = err
		return r, nil
	}
	r.system = system
	return r, nil
}

// fetchContext reads the business profile and task progress through the
// tools. Failures only mean the prompt carries less context.
func (g *Generator) fetchContext(ctx context.Context, r *run) {
	if g.profile.loadProfile {
		if out, ok := g.contextTool(ctx, r, tools.ToolGetBusinessProfile, nil); ok {
			var bp tools.BusinessProfileOutput
			if err := json.Unmarshal([]byte(out), &bp); err == nil && bp.Found && bp.Business != nil {
				b := bp.Business
				r.business = &model.BusinessContext{ID: b.ID, Name: b.Name, Type: b.Type, State: b.State, Status: b.Status}
				r.scope.BusinessID = b.ID
			}
		}
	}

	if g.profile.loadTasks {
		if out, ok := g.contextTool(ctx, r, tools.ToolListTasks, map[string]any{"include_completed": true}); ok {
			var list tools.ListTasksOutput
			if err := json.Unmarshal([]byte(out), &list); err == nil {
				r.progress = model.Summarize(list.Tasks)
				if r.scope.BusinessID == "" {
					r.scope.BusinessID = list.BusinessID
				}
			}
		}
	}

	logx.Debug().
		Str("thread_id", r.state.ThreadID).
		Str("generator", string(g.profile.specialist)).
		Bool("business", r.business != nil).
		Bool("progress", r.progress != nil).
		Msg("generator context loaded")
}

// contextTool runs one context-loading tool. An error or a panic is logged
// and reported as no data.
func (g *Generator) contextTool(ctx context.Context, r *run, name string, args map[string]any) (out string, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			logx.Warn().
				Str("thread_id", r.state.ThreadID).
				Str("tool", name).
				Interface("panic", p).
				Msg("context tool panicked; continuing without it")
			out, ok = "", false
		}
	}()

	out, err := g.deps.Tools.Call(tools.WithScope(ctx, r.scope), name, args)
	if err != nil {
		logx.Warn().Err(err).Str("thread_id", r.state.ThreadID).Str("tool", name).Msg("context tool failed; continuing without it")
		return "", false
	}
	return out, true
}

func (g *Generator) process(ctx context.Context, r *run) (*run, error) {
	if r.err != nil {
		return r, nil
	}
	defer func() {
		if p := recover(); p != nil {
			r.err = fmt.Errorf("%s model call panic: %v", g.profile.specialist, p)
		}
	}()

	in := g.deps.Messages.BuildResponseContext(r.system, r.state.Messages)
	in = append(in, r.produced...)

	chat := r.chat
	wrapUp := false
	if r.toolChat != nil {
		if r.rounds >= g.deps.MaxRounds {
			wrapUp = true
			in = append(in, schema.SystemMessage(wrapUpNotice))
		} else {
			chat = r.toolChat
		}
	}

	out, err := chat.Generate(ctx, in)
	if err != nil {
		r.err = err
		r.tokens += model.EstimateTokens(model.PromptChars(in), 0)
		return r, nil
	}
	if out == nil {
		r.err = fmt.Errorf("%s model returned no message", g.profile.specialist)
		return r, nil
	}

	nodes.NormalizeToolCallIDs(out)
	if wrapUp && len(out.ToolCalls) > 0 {
		logx.Warn().
			Str("thread_id", r.state.ThreadID).
			Int("tool_calls", len(out.ToolCalls)).
			Msg("tool calls requested after the round limit; dropping them")
		out.ToolCalls = nil
	}
	r.tokens += nodes.RecordUsage(ctx, r.state.ThreadID, string(g.profile.specialist), r.modelName, in, out)
	r.produced = append(r.produced, out)
	r.last = out
	return r, nil
}

func (g *Generator) runTools(ctx context.Context, r *run) (*run, error) {
	defer func() {
		if p := recover(); p != nil {
			r.err = fmt.Errorf("tool execution panic: %v", p)
		}
	}()

	r.rounds++
	scoped := tools.WithScope(ctx, r.scope)
	for _, call := range r.last.ToolCalls {
		name := call.Function.Name
		result := g.deps.Tools.Invoke(scoped, name, call.Function.Arguments)
		ok := !tools.IsError(result)
		g.deps.Metrics.ObserveToolCall(name, ok)

		r.produced = append(r.produced, schema.ToolMessage(
			fmt.Sprintf("tool %s executed: %s", name, result),
			call.ID,
		))

		if g.profile.shortCircuit && ok && name == tools.ToolCompleteTask {
			var task model.Task
			if err := json.Unmarshal([]byte(result), &task); err == nil && task.Title != "" {
				r.completed = append(r.completed, task.Title)
			}
			r.done = true
		}
	}

	logx.Debug().
		Str("thread_id", r.state.ThreadID).
		Str("generator", string(g.profile.specialist)).
		Int("round", r.rounds).
		Int("tool_calls", len(r.last.ToolCalls)).
		Bool("short_circuit", r.done).
		Msg("tool round finished")
	return r, nil
}

func (g *Generator) finish(_ context.Context, r *run) (*model.Delta, error) {
	if r.err != nil {
		return g.failed(r.state, r.tokens, r.err), nil
	}

	msgs := r.produced
	if r.done {
		msgs = append(msgs, schema.AssistantMessage(confirmation(r.completed), nil))
	} else if r.last != nil && strings.TrimSpace(r.last.Content) == "" && len(r.last.ToolCalls) == 0 {
		r.last.Content = emptyReplyMessage
	}
	if len(msgs) == 0 {
		msgs = append(msgs, schema.AssistantMessage(emptyReplyMessage, nil))
	}

	now := time.Now().UTC()
	delta := &model.Delta{
		Messages:       msgs,
		TokensUsed:     r.tokens,
		CompletedSteps: r.completed,
		Confidence:     model.Ptr(g.profile.confidence),
		Metadata: &model.Metadata{
			Business:       r.business,
			Progress:       r.progress,
			LastResponseAt: &now,
		},
	}
	if r.scope.BusinessID != "" && r.scope.BusinessID != r.state.BusinessID {
		delta.BusinessID = model.Ptr(r.scope.BusinessID)
	}
	return delta, nil
}

func (g *Generator) failed(state *model.ConversationState, tokens int, err error) *model.Delta {
	threadID := ""
	if state != nil {
		threadID = state.ThreadID
	}
	logx.Error().Err(err).
		Str("thread_id", threadID).
		Str("generator", string(g.profile.specialist)).
		Msg("generator failed; replying with apology")
	g.deps.Metrics.ObserveGeneratorFailure(string(g.profile.specialist))

	return &model.Delta{
		Messages:   []*schema.Message{schema.AssistantMessage(ApologyMessage, nil)},
		TokensUsed: tokens,
		Error:      model.Ptr(err.Error()),
	}
}

func confirmation(titles []string) string {
	if len(titles) == 0 {
		return "Done. I've marked that task as complete."
	}
	return fmt.Sprintf("Done. I've marked %q as complete.", strings.Join(titles, ", "))
}
