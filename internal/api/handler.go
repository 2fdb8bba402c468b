// Package api exposes the advisor over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/formwise-ai/advisor/internal/agent/checkpoint"
	"github.com/formwise-ai/advisor/internal/agent/graph"
	"github.com/formwise-ai/advisor/internal/agent/model"
	errx "github.com/formwise-ai/advisor/internal/core/error"
	logx "github.com/formwise-ai/advisor/pkg/logger"
)

// MaxMessageBytes bounds a single user message.
const MaxMessageBytes = 8 << 10

// Advisor is the slice of graph.Runner the handlers use.
type Advisor interface {
	Invoke(ctx context.Context, in *model.ConversationState) (*model.ConversationState, error)
	Snapshot(ctx context.Context, threadID string) (*model.ConversationState, error)
	Transcript(ctx context.Context, threadID string) ([]model.TranscriptEntry, error)
	Reset(ctx context.Context, threadID string) error
}

var _ Advisor = (*graph.Runner)(nil)

type LLMRequest struct {
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
}

type ChatRequest struct {
	ThreadID   string      `json:"thread_id,omitempty"`
	UserID     string      `json:"user_id,omitempty"`
	BusinessID string      `json:"business_id,omitempty"`
	Message    string      `json:"message"`
	LLM        *LLMRequest `json:"llm,omitempty"`
}

type ChatResponse struct {
	ThreadID           string   `json:"thread_id"`
	Reply              string   `json:"reply"`
	Intent             string   `json:"intent"`
	IntentConfidence   float64  `json:"intent_confidence"`
	ActiveAgent        string   `json:"active_agent"`
	RoutingReason      string   `json:"routing_reason,omitempty"`
	Confidence         float64  `json:"confidence"`
	TokensUsed         int      `json:"tokens_used"`
	DisclaimerAdded    bool     `json:"disclaimer_added"`
	DisclaimerCategory string   `json:"disclaimer_category,omitempty"`
	CompletedSteps     []string `json:"completed_steps,omitempty"`
	Error              string   `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server serves the advisor endpoints.
type Server struct {
	Advisor Advisor
	Timeout time.Duration
}

// NewHandler builds the router. gatherer backs /metrics; nil uses the
// default Prometheus registry.
func NewHandler(advisor Advisor, gatherer prometheus.Gatherer, timeout time.Duration) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{Advisor: advisor, Timeout: timeout}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.Health)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat", s.Chat)
		r.Get("/threads/{threadID}", s.GetThread)
		r.Delete("/threads/{threadID}", s.DeleteThread)
		r.Get("/threads/{threadID}/transcript", s.GetTranscript)
	})
	return r
}

func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Chat handles POST /v1/chat: one user turn on a thread. A missing thread_id
// starts a new thread.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	var body ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 2*MaxMessageBytes)).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		logx.Warn().Err(err).Msg("Chat: invalid request body")
		return
	}
	body.Message = strings.TrimSpace(body.Message)
	if body.Message == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "message is required"})
		return
	}
	if len(body.Message) > MaxMessageBytes {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "message is too long"})
		return
	}
	if body.ThreadID == "" {
		body.ThreadID = uuid.NewString()
	}

	in := &model.ConversationState{
		ThreadID:   body.ThreadID,
		UserID:     body.UserID,
		BusinessID: body.BusinessID,
		Messages:   []*schema.Message{schema.UserMessage(body.Message)},
	}
	if body.LLM != nil {
		in.LLM = model.LLMSelection{Provider: body.LLM.Provider, Model: body.LLM.Model, APIKey: body.LLM.APIKey}
	}

	ctx := r.Context()
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	out, err := s.Advisor.Invoke(ctx, in)
	if err != nil {
		s.fail(w, "Chat", err)
		return
	}
	writeJSON(w, http.StatusOK, toChatResponse(out))
}

func (s *Server) GetThread(w http.ResponseWriter, r *http.Request) {
	st, err := s.Advisor.Snapshot(r.Context(), chi.URLParam(r, "threadID"))
	if err != nil {
		s.fail(w, "GetThread", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) DeleteThread(w http.ResponseWriter, r *http.Request) {
	if err := s.Advisor.Reset(r.Context(), chi.URLParam(r, "threadID")); err != nil {
		s.fail(w, "DeleteThread", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) GetTranscript(w http.ResponseWriter, r *http.Request) {
	entries, err := s.Advisor.Transcript(r.Context(), chi.URLParam(r, "threadID"))
	if err != nil {
		s.fail(w, "GetTranscript", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	var (
		status int
		msg    string
	)
	switch {
	case errors.Is(err, graph.ErrInvalidInput):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, checkpoint.ErrNotFound):
		status, msg = http.StatusNotFound, "thread not found"
	case errors.Is(err, context.DeadlineExceeded):
		status, msg = http.StatusGatewayTimeout, "request timed out"
	default:
		status, msg = errx.StatusOf(err), errx.MessageOf(err)
	}
	if status >= http.StatusInternalServerError {
		logx.Error().Err(err).Str("op", op).Int("status", status).Msg("request failed")
	} else {
		logx.Debug().Err(err).Str("op", op).Int("status", status).Msg("request rejected")
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func toChatResponse(s *model.ConversationState) ChatResponse {
	reply := ""
	if m := s.LastAssistantMessage(); m != nil {
		reply = m.Content
	}
	return ChatResponse{
		ThreadID:           s.ThreadID,
		Reply:              reply,
		Intent:             string(s.Intent),
		IntentConfidence:   s.IntentConfidence,
		ActiveAgent:        string(s.ActiveAgent),
		RoutingReason:      s.RoutingReason,
		Confidence:         s.Confidence,
		TokensUsed:         s.TokensUsed,
		DisclaimerAdded:    s.Metadata.DisclaimerAdded,
		DisclaimerCategory: s.Metadata.DisclaimerCategory,
		CompletedSteps:     s.CompletedSteps,
		Error:              s.Error,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Error().Err(err).Msg("response encode failed")
	}
}
