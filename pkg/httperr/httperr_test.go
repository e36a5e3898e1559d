package httperr_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mailroom/pkg/httperr"
)

func TestConstructors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  *httperr.Error
		code int
	}{
		{"bad request", httperr.BadRequest("invalid"), http.StatusBadRequest},
		{"unauthorized", httperr.Unauthorized("who are you"), http.StatusUnauthorized},
		{"forbidden", httperr.Forbidden("not allowed"), http.StatusForbidden},
		{"not found", httperr.NotFound("missing"), http.StatusNotFound},
		{"conflict", httperr.Conflict("duplicate"), http.StatusConflict},
		{"internal", httperr.Internal("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.code, tc.err.StatusCode())
			assert.NotEmpty(t, tc.err.Error())
		})
	}
}

func TestUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("pg: connection refused")
	err := httperr.Internal("internal server error", httperr.WithError(cause))

	require.ErrorIs(t, err, cause)
	assert.Equal(t, "internal server error", err.Error())
}

func TestAs(t *testing.T) {
	t.Parallel()

	t.Run("extracts from wrapped chain", func(t *testing.T) {
		t.Parallel()

		inner := httperr.Forbidden("missing required permission: send_direct",
			httperr.WithErrorCode("send_direct"))
		wrapped := fmt.Errorf("handler: %w", inner)

		got := httperr.As(wrapped)
		require.NotNil(t, got)
		assert.Equal(t, http.StatusForbidden, got.Code)
		assert.Equal(t, "send_direct", got.ErrorCode)
	})

	t.Run("nil for plain errors", func(t *testing.T) {
		t.Parallel()

		assert.Nil(t, httperr.As(errors.New("plain")))
		assert.Nil(t, httperr.As(nil))
	})
}

func TestRender(t *testing.T) {
	t.Parallel()

	t.Run("renders classified error", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		httperr.Render(rec, httperr.NotFound("email log not found"))

		assert.Equal(t, http.StatusNotFound, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "email log not found", body["error"])
	})

	t.Run("masks unclassified errors", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		httperr.Render(rec, errors.New("pq: relation does not exist"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "relation")
	})
}
