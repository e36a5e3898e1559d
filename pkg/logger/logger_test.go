package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ctxKey struct{}

func TestContextHandler(t *testing.T) {
	t.Parallel()

	t.Run("injects extracted attributes", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		base := slog.NewJSONHandler(&buf, nil)

		log := slog.New(newContextHandler(base, func(ctx context.Context) (slog.Attr, bool) {
			if v, ok := ctx.Value(ctxKey{}).(string); ok {
				return slog.String("request_id", v), true
			}
			return slog.Attr{}, false
		}))

		ctx := context.WithValue(context.Background(), ctxKey{}, "req-123")
		log.InfoContext(ctx, "send accepted")

		var rec map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
		assert.Equal(t, "req-123", rec["request_id"])
	})

	t.Run("skips nil extractors", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log := slog.New(newContextHandler(slog.NewJSONHandler(&buf, nil), nil))

		log.Info("no extractors")
		assert.Contains(t, buf.String(), "no extractors")
	})
}

func TestNewNop(t *testing.T) {
	t.Parallel()

	log := NewNop()
	log.Error("discarded")
}
