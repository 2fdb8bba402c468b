package nodes

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	einomodel "github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"github.com/formwise-ai/advisor/internal/agent/model"
	logx "github.com/formwise-ai/advisor/pkg/logger"
)

// Purpose distinguishes the two model roles of a turn.
type Purpose string

const (
	PurposeTriage   Purpose = "triage"
	PurposeResponse Purpose = "response"
)

const ProviderGemini = "gemini"

// ResolvedModel is a chat model plus the name used for pricing and logs.
type ResolvedModel struct {
	Model einomodel.ToolCallingChatModel
	Name  string
}

// ModelResolver picks the chat model for a request's LLM selection.
type ModelResolver interface {
	Resolve(ctx context.Context, sel model.LLMSelection, purpose Purpose) (*ResolvedModel, error)
}

// StaticResolver always returns the same two models regardless of selection.
type StaticResolver struct {
	Triage   einomodel.ToolCallingChatModel
	Response einomodel.ToolCallingChatModel
	Name     string
}

func (r *StaticResolver) Resolve(_ context.Context, _ model.LLMSelection, purpose Purpose) (*ResolvedModel, error) {
	m := r.Response
	if purpose == PurposeTriage {
		m = r.Triage
	}
	if m == nil {
		return nil, fmt.Errorf("no %s model configured", purpose)
	}
	return &ResolvedModel{Model: m, Name: r.Name}, nil
}

// ChatModelConfig holds the configuration for chat model creation
type ChatModelConfig struct {
	APIKey       string
	BaseURL      string
	TriageConfig *model.TriageModelConfig
	RespConfig   *model.ResponseModelConfig
}

// GeminiResolver builds Gemini chat models on demand and caches them per
// (purpose, model, API key). A selection without an API key uses the server key.
type GeminiResolver struct {
	config ChatModelConfig

	mu      sync.Mutex
	clients map[string]*genai.Client
	models  map[string]einomodel.ToolCallingChatModel
}

func NewGeminiResolver(config ChatModelConfig) (*GeminiResolver, error) {
	if config.TriageConfig == nil || config.RespConfig == nil {
		return nil, fmt.Errorf("model configs are required")
	}
	return &GeminiResolver{
		config:  config,
		clients: make(map[string]*genai.Client),
		models:  make(map[string]einomodel.ToolCallingChatModel),
	}, nil
}

func (r *GeminiResolver) Resolve(ctx context.Context, sel model.LLMSelection, purpose Purpose) (*ResolvedModel, error) {
	provider := strings.ToLower(strings.TrimSpace(sel.Provider))
	if provider != "" && provider != ProviderGemini {
		return nil, fmt.Errorf("unsupported LLM provider %q", sel.Provider)
	}

	apiKey := sel.APIKey
	if apiKey == "" {
		apiKey = r.config.APIKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no API key for provider %s", ProviderGemini)
	}

	name, temperature, maxTokens := r.defaults(purpose)
	if sel.Model != "" && purpose == PurposeResponse {
		name = sel.Model
	}

	cacheKey := string(purpose) + "|" + name + "|" + apiKey

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.models[cacheKey]; ok {
		return &ResolvedModel{Model: m, Name: name}, nil
	}

	client, err := r.client(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	cm, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       name,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Str("model", name).Msg("Error creating chat model")
		return nil, fmt.Errorf("error creating %s model: %w", purpose, err)
	}

	var base any = cm
	tc, ok := base.(einomodel.ToolCallingChatModel)
	if !ok {
		return nil, fmt.Errorf("model %s does not support tool calling", name)
	}
	r.models[cacheKey] = tc

	logx.Debug().Str("purpose", string(purpose)).Str("model", name).Msg("chat model created")
	return &ResolvedModel{Model: tc, Name: name}, nil
}

func (r *GeminiResolver) defaults(purpose Purpose) (string, float32, int) {
	if purpose == PurposeTriage {
		c := r.config.TriageConfig
		return c.Model, c.Temperature, c.MaxTokens
	}
	c := r.config.RespConfig
	return c.Model, c.Temperature, c.MaxTokens
}

// client returns the genai client for apiKey. Caller holds r.mu.
func (r *GeminiResolver) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	if c, ok := r.clients[apiKey]; ok {
		return c, nil
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if r.config.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = r.config.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}
	r.clients[apiKey] = client
	return client, nil
}
