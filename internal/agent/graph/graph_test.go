package graph_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formwise-ai/advisor/internal/agent/checkpoint"
	"github.com/formwise-ai/advisor/internal/agent/graph"
	"github.com/formwise-ai/advisor/internal/agent/graph/disclaimer"
	"github.com/formwise-ai/advisor/internal/agent/graph/generators"
	"github.com/formwise-ai/advisor/internal/agent/graph/nodes"
	"github.com/formwise-ai/advisor/internal/agent/model"
	"github.com/formwise-ai/advisor/internal/testutils"
	pkgsqlite "github.com/formwise-ai/advisor/pkg/sqlite"
)

func triageReply(intent string, confidence float64) testutils.Step {
	return testutils.Reply(fmt.Sprintf(`{"intent":%q,"confidence":%v,"reason":"test"}`, intent, confidence))
}

type harness struct {
	triage      *testutils.ScriptedModel
	response    *testutils.ScriptedModel
	store       checkpoint.Store
	transcripts *memoryTranscripts
	runner      *graph.Runner
}

func newHarness(t *testing.T, store checkpoint.Store) *harness {
	t.Helper()
	if store == nil {
		store = checkpoint.NewMemoryStore()
	}
	h := &harness{
		triage:      testutils.NewScriptedModel(),
		response:    testutils.NewScriptedModel(),
		store:       store,
		transcripts: &memoryTranscripts{entries: map[string][]model.TranscriptEntry{}},
	}
	repo := testutils.NewBusinessRepo()
	repo.AddBusiness(model.Business{ID: "b1", UserID: "u1", Name: "Acme", Type: "LLC", State: "DE"})

	runner, err := graph.BuildRunner(context.Background(), graph.Config{
		Resolver:    &nodes.StaticResolver{Triage: h.triage, Response: h.response, Name: "gemini-2.5-flash"},
		Business:    repo,
		Store:       store,
		Transcripts: h.transcripts,
	})
	require.NoError(t, err)
	h.runner = runner
	return h
}

func userTurn(threadID, text string) *model.ConversationState {
	return &model.ConversationState{
		ThreadID: threadID,
		UserID:   "u1",
		Messages: []*schema.Message{schema.UserMessage(text)},
	}
}

func lastReply(s *model.ConversationState) string {
	m := s.LastAssistantMessage()
	if m == nil {
		return ""
	}
	return m.Content
}

func TestRunner_LLCvsCCorpGetsExactlyOneLegalDisclaimer(t *testing.T) {
	h := newHarness(t, nil)
	h.triage.WithFallback(triageReply("legal", 0.92))
	h.response.WithFallback(testutils.Reply("An LLC offers flexibility, while a C-Corp suits outside venture capital."))

	out, err := h.runner.Invoke(context.Background(), userTurn("t1", "Should I form an LLC or a C-Corp?"))
	require.NoError(t, err)

	assert.Equal(t, model.IntentLegal, out.Intent)
	assert.Equal(t, model.AgentLegal, out.ActiveAgent)
	assert.InDelta(t, 0.92, out.IntentConfidence, 1e-9)
	assert.Equal(t, 0.85, out.Confidence)

	reply := lastReply(out)
	marker := disclaimer.Default().Marker()
	assert.Equal(t, 1, strings.Count(reply, marker))
	assert.Contains(t, reply, disclaimer.Default().Text(disclaimer.Legal))
	assert.True(t, out.Metadata.DisclaimerAdded)
	assert.Equal(t, string(disclaimer.Legal), out.Metadata.DisclaimerCategory)
	assert.Empty(t, out.Error)
}

func TestRunner_GreetingGetsNoDisclaimer(t *testing.T) {
	h := newHarness(t, nil)
	h.triage.WithFallback(triageReply("general", 0.95))
	h.response.WithFallback(testutils.Reply("Hi! How can I help with your business today?"))

	out, err := h.runner.Invoke(context.Background(), userTurn("t1", "hi"))
	require.NoError(t, err)

	assert.Equal(t, model.IntentGeneral, out.Intent)
	assert.Equal(t, model.AgentTriage, out.ActiveAgent)
	assert.Equal(t, "Hi! How can I help with your business today?", lastReply(out))
	assert.False(t, out.Metadata.DisclaimerAdded)
	assert.Empty(t, out.Metadata.DisclaimerCategory)
}

func TestRunner_RoutingIsDeterministic(t *testing.T) {
	cases := []struct {
		intent     string
		agent      model.Agent
		confidence float64
	}{
		{"legal", model.AgentLegal, 0.85},
		{"financial", model.AgentFinancial, 0.85},
		{"tasks", model.AgentTasks, 0.90},
		{"general", model.AgentTriage, 0.80},
	}
	for _, tc := range cases {
		t.Run(tc.intent, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				h := newHarness(t, nil)
				h.triage.WithFallback(triageReply(tc.intent, 0.9))
				h.response.WithFallback(testutils.Reply("ok"))

				out, err := h.runner.Invoke(context.Background(), userTurn("t1", "question"))
				require.NoError(t, err)
				assert.Equal(t, tc.agent, out.ActiveAgent)
				assert.Equal(t, tc.confidence, out.Confidence)
			}
		})
	}
}

func TestRunner_TriageFallbacks(t *testing.T) {
	t.Run("non-JSON reply", func(t *testing.T) {
		h := newHarness(t, nil)
		h.triage.WithFallback(testutils.Reply("Sounds like a legal question to me."))
		h.response.WithFallback(testutils.Reply("Happy to help."))

		out, err := h.runner.Invoke(context.Background(), userTurn("t1", "help"))
		require.NoError(t, err)
		assert.Equal(t, model.IntentGeneral, out.Intent)
		assert.Equal(t, nodes.ParseFailureConfidence, out.IntentConfidence)
		assert.Equal(t, "Happy to help.", lastReply(out))
	})

	t.Run("call failure", func(t *testing.T) {
		h := newHarness(t, nil)
		h.triage.WithFallback(testutils.Fail(errors.New("quota exceeded")))
		h.response.WithFallback(testutils.Reply("Happy to help."))

		out, err := h.runner.Invoke(context.Background(), userTurn("t1", "help"))
		require.NoError(t, err)
		assert.Equal(t, model.IntentGeneral, out.Intent)
		assert.Equal(t, nodes.CallFailureConfidence, out.IntentConfidence)
		assert.Contains(t, out.RoutingReason, "quota exceeded")
	})
}

func TestRunner_TokensGrowMonotonically(t *testing.T) {
	h := newHarness(t, nil)
	h.triage.WithFallback(triageReply("general", 0.9))
	h.response.WithFallback(testutils.Reply("Sure, let's go step by step."))

	prev := 0
	for i := 0; i < 5; i++ {
		out, err := h.runner.Invoke(context.Background(), userTurn("t1", fmt.Sprintf("question %d", i)))
		require.NoError(t, err)
		assert.Greater(t, out.TokensUsed, prev, "turn %d", i)
		prev = out.TokensUsed
		assert.Len(t, out.Messages, 2*(i+1))
	}
}

func TestRunner_ModelFailureStillAnswers(t *testing.T) {
	h := newHarness(t, nil)
	h.triage.WithFallback(triageReply("legal", 0.9))
	h.response.WithFallback(testutils.Fail(errors.New("upstream 500")))

	out, err := h.runner.Invoke(context.Background(), userTurn("t1", "Do I need a trademark?"))
	require.NoError(t, err)

	assert.Equal(t, generators.ApologyMessage, lastReply(out))
	assert.Contains(t, out.Error, "upstream 500")
	assert.False(t, out.Metadata.DisclaimerAdded, "apologies carry no disclaimer")
}

func TestRunner_ErrorIsTurnScoped(t *testing.T) {
	h := newHarness(t, nil)
	h.triage.WithFallback(triageReply("general", 0.9))
	// First response call fails, later ones succeed.
	failing := testutils.NewScriptedModel(testutils.Fail(errors.New("blip"))).WithFallback(testutils.Reply("Fine now."))
	runner, err := graph.BuildRunner(context.Background(), graph.Config{
		Resolver: &nodes.StaticResolver{Triage: h.triage, Response: failing, Name: "m"},
		Business: testutils.NewBusinessRepo(),
		Store:    h.store,
	})
	require.NoError(t, err)

	out, err := runner.Invoke(context.Background(), userTurn("t1", "hello"))
	require.NoError(t, err)
	assert.NotEmpty(t, out.Error)

	out, err = runner.Invoke(context.Background(), userTurn("t1", "hello again"))
	require.NoError(t, err)
	assert.Empty(t, out.Error)
	assert.Equal(t, "Fine now.", lastReply(out))
}

func TestRunner_ResumesFromSQLiteCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "advisor.db")
	first := checkpoint.NewSQLStore(pkgsqlite.Config{Path: path})

	h := newHarness(t, first)
	h.triage.WithFallback(triageReply("general", 0.9))
	h.response.WithFallback(testutils.Reply("Noted."))
	_, err := h.runner.Invoke(context.Background(), userTurn("t1", "My company is called Acme."))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// A new process: fresh store on the same file, fresh runner.
	second := checkpoint.NewSQLStore(pkgsqlite.Config{Path: path})
	t.Cleanup(func() { _ = second.Close() })
	h2 := newHarness(t, second)
	h2.triage.WithFallback(triageReply("general", 0.9))
	h2.response.WithFallback(testutils.Reply("Your company is Acme."))

	out, err := h2.runner.Invoke(context.Background(), userTurn("t1", "What is my company called?"))
	require.NoError(t, err)
	require.Len(t, out.Messages, 4)
	assert.Equal(t, "My company is called Acme.", out.Messages[0].Content)

	calls := h2.response.Calls()
	require.Len(t, calls, 1)
	var seen bool
	for _, m := range calls[0].Messages {
		if m.Content == "My company is called Acme." {
			seen = true
		}
	}
	assert.True(t, seen, "history from the checkpoint reaches the model")
}

func TestRunner_InvalidInput(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.runner.Invoke(ctx, nil)
	assert.ErrorIs(t, err, graph.ErrInvalidInput)

	_, err = h.runner.Invoke(ctx, userTurn("  ", "hello"))
	assert.ErrorIs(t, err, graph.ErrInvalidInput)

	_, err = h.runner.Invoke(ctx, &model.ConversationState{
		ThreadID: "t1",
		Messages: []*schema.Message{schema.AssistantMessage("hi", nil)},
	})
	assert.ErrorIs(t, err, graph.ErrInvalidInput)

	assert.Empty(t, h.triage.Calls())
}

func TestRunner_CheckpointFailureSurfaces(t *testing.T) {
	h := newHarness(t, &brokenStore{err: errors.New("disk full")})
	h.triage.WithFallback(triageReply("general", 0.9))
	h.response.WithFallback(testutils.Reply("ok"))

	_, err := h.runner.Invoke(context.Background(), userTurn("t1", "hello"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestRunner_TranscriptAndReset(t *testing.T) {
	h := newHarness(t, nil)
	h.triage.WithFallback(triageReply("general", 0.9))
	h.response.WithFallback(testutils.Reply("Welcome!"))
	ctx := context.Background()

	_, err := h.runner.Invoke(ctx, userTurn("t1", "hello"))
	require.NoError(t, err)

	entries, err := h.runner.Transcript(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0].UserText)
	assert.Equal(t, "Welcome!", entries[0].AssistantText)
	assert.Equal(t, model.IntentGeneral, entries[0].Intent)

	snap, err := h.runner.Snapshot(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, snap.Messages, 2)

	require.NoError(t, h.runner.Reset(ctx, "t1"))
	_, err = h.runner.Snapshot(ctx, "t1")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	entries, err = h.runner.Transcript(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunner_TranscriptRecordsPerTurnTokens(t *testing.T) {
	h := newHarness(t, nil)
	h.triage.WithFallback(triageReply("general", 0.9))
	h.response.WithFallback(testutils.Reply("Happy to help with that."))
	ctx := context.Background()

	var totals []int
	for _, text := range []string{"hello", "what should I do first?", "thanks"} {
		out, err := h.runner.Invoke(ctx, userTurn("t1", text))
		require.NoError(t, err)
		totals = append(totals, out.TokensUsed)
	}

	entries, err := h.runner.Transcript(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	sum := 0
	for i, e := range entries {
		prev := 0
		if i > 0 {
			prev = totals[i-1]
		}
		assert.Positive(t, e.TokensUsed)
		assert.Equal(t, totals[i]-prev, e.TokensUsed)
		sum += e.TokensUsed
	}
	assert.Equal(t, totals[2], sum)
}

func TestRunner_SameThreadTurnsAreSerialized(t *testing.T) {
	h := newHarness(t, nil)
	h.triage.WithFallback(triageReply("general", 0.9))
	h.response.WithFallback(testutils.Reply("ok"))

	const turns = 6
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.runner.Invoke(context.Background(), userTurn("t1", fmt.Sprintf("msg %d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	snap, err := h.runner.Snapshot(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, snap.Messages, 2*turns, "no turn was lost")
	for i := 0; i < len(snap.Messages); i += 2 {
		assert.Equal(t, schema.User, snap.Messages[i].Role)
		assert.Equal(t, schema.Assistant, snap.Messages[i+1].Role)
	}
}

// ===== Orchestrator-level containment =====

type fixedClassifier struct{ intent model.Intent }

func (c fixedClassifier) Classify(context.Context, *model.ConversationState) *model.Delta {
	return &model.Delta{
		Intent:      model.Ptr(c.intent),
		ActiveAgent: model.Ptr(model.AgentFor(c.intent)),
	}
}

type panicking struct{}

func (panicking) Generate(context.Context, *model.ConversationState) *model.Delta {
	panic("specialist exploded")
}

type silent struct{}

func (silent) Generate(context.Context, *model.ConversationState) *model.Delta { return nil }

type echo struct{ text string }

func (e echo) Generate(context.Context, *model.ConversationState) *model.Delta {
	return &model.Delta{Messages: []*schema.Message{schema.AssistantMessage(e.text, nil)}}
}

func TestOrchestrator_ContainsSpecialistFailures(t *testing.T) {
	for name, sp := range map[string]graph.Specialist{"panic": panicking{}, "nil delta": silent{}} {
		t.Run(name, func(t *testing.T) {
			g, err := graph.BuildOrchestrator(context.Background(), &graph.GraphConfig{
				Classifier: fixedClassifier{intent: model.IntentLegal},
				Specialists: graph.Specialists{
					Legal:     sp,
					Financial: echo{"f"},
					Tasks:     echo{"t"},
					General:   echo{"g"},
				},
			})
			require.NoError(t, err)

			in := model.NewConversationState("t1")
			in.Messages = append(in.Messages, schema.UserMessage("LLC?"))

			var out *model.ConversationState
			require.NotPanics(t, func() {
				out, err = g.Invoke(context.Background(), in)
			})
			require.NoError(t, err)
			assert.Equal(t, generators.ApologyMessage, lastReply(out))
			assert.NotEmpty(t, out.Error)
		})
	}
}

func TestOrchestrator_DisclaimerIsIdempotent(t *testing.T) {
	text := "Form an LLC.\n\n---\n" + disclaimer.Default().Text(disclaimer.Legal)
	g, err := graph.BuildOrchestrator(context.Background(), &graph.GraphConfig{
		Classifier: fixedClassifier{intent: model.IntentLegal},
		Specialists: graph.Specialists{
			Legal:     echo{text},
			Financial: echo{"f"},
			Tasks:     echo{"t"},
			General:   echo{"g"},
		},
	})
	require.NoError(t, err)

	in := model.NewConversationState("t1")
	in.Messages = append(in.Messages, schema.UserMessage("Should I form an LLC?"))
	out, err := g.Invoke(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, text, lastReply(out))
	assert.False(t, out.Metadata.DisclaimerAdded)
}

func TestBuildOrchestrator_Validation(t *testing.T) {
	_, err := graph.BuildOrchestrator(context.Background(), nil)
	assert.Error(t, err)

	_, err = graph.BuildOrchestrator(context.Background(), &graph.GraphConfig{
		Classifier:  fixedClassifier{},
		Specialists: graph.Specialists{Legal: echo{"l"}},
	})
	assert.Error(t, err)
}

// ===== Fakes =====

type memoryTranscripts struct {
	mu      sync.Mutex
	entries map[string][]model.TranscriptEntry
}

func (m *memoryTranscripts) Append(_ context.Context, threadID string, e model.TranscriptEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[threadID] = append(m.entries[threadID], e)
	return nil
}

func (m *memoryTranscripts) Load(_ context.Context, threadID string) ([]model.TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.TranscriptEntry{}, m.entries[threadID]...), nil
}

func (m *memoryTranscripts) Clear(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, threadID)
	return nil
}

func (m *memoryTranscripts) Count(_ context.Context, threadID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries[threadID]), nil
}

type brokenStore struct{ err error }

func (b *brokenStore) Open(context.Context) error { return b.err }
func (b *brokenStore) Put(context.Context, string, *model.ConversationState) error {
	return b.err
}
func (b *brokenStore) Get(context.Context, string) (*model.ConversationState, error) {
	return nil, b.err
}
func (b *brokenStore) Delete(context.Context, string) error { return b.err }
func (b *brokenStore) Close() error                         { return nil }
