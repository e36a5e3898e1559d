package job

import "context"

// Meta carries queue-level facts about the job being processed.
type Meta struct {
	// ID is the queue-assigned job id, stable across redeliveries.
	ID int64

	// Attempt is the current delivery attempt, starting at 1.
	Attempt int

	// MaxAttempts is the job's attempt budget.
	MaxAttempts int
}

type metaKey struct{}

func withMeta(ctx context.Context, m Meta) context.Context {
	return context.WithValue(ctx, metaKey{}, m)
}

// MetaFromContext returns the Meta for the job being processed.
// The second return value is false outside a job handler.
func MetaFromContext(ctx context.Context) (Meta, bool) {
	m, ok := ctx.Value(metaKey{}).(Meta)
	return m, ok
}

// WithTestMeta returns a context carrying the given Meta. Intended for
// exercising handlers outside a running queue.
func WithTestMeta(ctx context.Context, m Meta) context.Context {
	return withMeta(ctx, m)
}
