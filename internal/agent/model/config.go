package model

import "time"

// ================ Config ================
type ConversationConfig struct {
	Triage struct {
		MaxTurns int `envconfig:"CONVERSATION_TRIAGE_MAX_TURNS" default:"6"`
	}
	Tools struct {
		MaxRounds int `envconfig:"CONVERSATION_TOOL_MAX_ROUNDS" default:"3"`
	}
	History struct {
		MaxMessages int `envconfig:"CONVERSATION_HISTORY_MAX_MESSAGES" default:"20"`
	}
	TranscriptTTL time.Duration `envconfig:"CONVERSATION_TRANSCRIPT_TTL" default:"720h"`
}

type TriageModelConfig struct {
	Model       string  `envconfig:"TRIAGE_MODEL" default:"gemini-2.5-flash-lite"`
	MaxTokens   int     `envconfig:"TRIAGE_MAX_TOKENS" default:"512"`
	Temperature float32 `envconfig:"TRIAGE_TEMPERATURE" default:"0.1"`
}

type ResponseModelConfig struct {
	Model       string  `envconfig:"RESPONSE_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"RESPONSE_MAX_TOKENS" default:"2000"`
	Temperature float32 `envconfig:"RESPONSE_TEMPERATURE" default:"0.4"`
}

type CheckpointConfig struct {
	Backend   string        `envconfig:"CHECKPOINT_BACKEND" default:"sqlite"`
	Namespace string        `envconfig:"CHECKPOINT_NAMESPACE" default:""`
	Fallback  bool          `envconfig:"CHECKPOINT_FALLBACK" default:"false"`
	TTL       time.Duration `envconfig:"CHECKPOINT_TTL" default:"0"`
	LockTTL   time.Duration `envconfig:"CHECKPOINT_LOCK_TTL" default:"2m"`
}
