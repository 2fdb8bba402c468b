package generators

import (
	"context"

	"github.com/formwise-ai/advisor/internal/agent/graph/prompts"
)

// NewLegal answers entity-choice, formation and compliance questions with the
// business profile in context.
func NewLegal(ctx context.Context, deps Deps) (*Generator, error) {
	return newGenerator(ctx, profile{
		specialist:  prompts.Legal,
		confidence:  0.85,
		loadProfile: true,
		bindTools:   true,
	}, deps)
}

// NewFinancial answers tax, banking and funding questions with the profile
// and checklist progress in context.
func NewFinancial(ctx context.Context, deps Deps) (*Generator, error) {
	return newGenerator(ctx, profile{
		specialist:  prompts.Financial,
		confidence:  0.85,
		loadProfile: true,
		loadTasks:   true,
		bindTools:   true,
	}, deps)
}

// NewTasks manages the checklist. A successful complete_task ends the turn
// with a confirmation.
func NewTasks(ctx context.Context, deps Deps) (*Generator, error) {
	return newGenerator(ctx, profile{
		specialist:   prompts.Tasks,
		confidence:   0.90,
		loadProfile:  true,
		loadTasks:    true,
		bindTools:    true,
		shortCircuit: true,
	}, deps)
}

// NewGeneral is the conversational fallback: no context, no tools.
func NewGeneral(ctx context.Context, deps Deps) (*Generator, error) {
	return newGenerator(ctx, profile{
		specialist: prompts.General,
		confidence: 0.80,
	}, deps)
}
