package checkpoint

import (
	"context"

	logx "github.com/formwise-ai/advisor/pkg/logger"
)

// OpenWithFallback opens primary and returns it. When the backend cannot be
// reached it logs a warning and returns a MemoryStore instead, so the process
// keeps serving with non-durable checkpoints. The bool reports the downgrade.
func OpenWithFallback(ctx context.Context, primary Store) (Store, bool) {
	if err := primary.Open(ctx); err != nil {
		logx.Warn().
			Err(err).
			Msg("checkpoint backend unreachable; using in-memory checkpoints (development only: lost on restart, not shared across instances)")
		_ = primary.Close()
		return NewMemoryStore(), true
	}
	return primary, false
}
