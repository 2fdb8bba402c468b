package model

import (
	"context"
	"time"
)

// TranscriptRepository persists the human-readable history of a thread for
// display. It is a downstream consumer of the final turn state and is not part
// of the checkpoint durability guarantee.
type TranscriptRepository interface {
	// Append adds one turn to the thread's transcript.
	Append(ctx context.Context, threadID string, entry TranscriptEntry) error

	// Load returns the transcript of a thread in turn order.
	Load(ctx context.Context, threadID string) ([]TranscriptEntry, error)

	// Clear removes a thread's transcript.
	Clear(ctx context.Context, threadID string) error

	// Count returns the number of turns stored for a thread.
	Count(ctx context.Context, threadID string) (int, error)
}

// TranscriptEntry is one turn as shown in chat history.
type TranscriptEntry struct {
	UserText         string    `json:"user_text"`
	AssistantText    string    `json:"assistant_text"`
	TokensUsed       int       `json:"tokens_used"`
	Intent           Intent    `json:"intent"`
	IntentConfidence float64   `json:"intent_confidence"`
	ActiveAgent      Agent     `json:"active_agent"`
	RoutingReason    string    `json:"routing_reason,omitempty"`
	Error            string    `json:"error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
