package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mailroom/internal/auth"
	"github.com/dmitrymomot/mailroom/internal/storage"
	"github.com/dmitrymomot/mailroom/pkg/cache"
	"github.com/dmitrymomot/mailroom/pkg/logger"
)

func TestGenerateAPIKey(t *testing.T) {
	t.Parallel()

	t.Run("has prefix and hex body", func(t *testing.T) {
		t.Parallel()

		key, err := auth.GenerateAPIKey()
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(key, auth.KeyPrefix))
		assert.Len(t, key, len(auth.KeyPrefix)+64)
	})

	t.Run("unique per call", func(t *testing.T) {
		t.Parallel()

		a, err := auth.GenerateAPIKey()
		require.NoError(t, err)
		b, err := auth.GenerateAPIKey()
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})
}

func TestVerifyAPIKey(t *testing.T) {
	t.Parallel()

	key, err := auth.GenerateAPIKey()
	require.NoError(t, err)
	hash, err := auth.HashAPIKey(key)
	require.NoError(t, err)

	t.Run("accepts matching key", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, auth.VerifyAPIKey(hash, key))
	})

	t.Run("rejects wrong key", func(t *testing.T) {
		t.Parallel()
		assert.ErrorIs(t, auth.VerifyAPIKey(hash, "sk_wrong"), auth.ErrKeyMismatch)
	})
}

func TestPermissionSet(t *testing.T) {
	t.Parallel()

	set := auth.NewPermissionSet([]string{auth.PermSendDirect, auth.PermViewLogs})
	assert.True(t, set.Has(auth.PermSendDirect))
	assert.True(t, set.Has(auth.PermViewLogs))
	assert.False(t, set.Has(auth.PermAdmin))
	assert.ElementsMatch(t, []string{auth.PermSendDirect, auth.PermViewLogs}, set.Codes())
}

type fakeFinder struct {
	system *storage.AuthorizedSystem
	err    error
	calls  int
}

func (f *fakeFinder) FindByName(_ context.Context, name string) (*storage.AuthorizedSystem, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.system == nil || f.system.Name != name {
		return nil, storage.ErrNotFound
	}
	s := *f.system
	return &s, nil
}

func newTestSystem(t *testing.T, key string) *storage.AuthorizedSystem {
	t.Helper()
	hash, err := auth.HashAPIKey(key)
	require.NoError(t, err)
	return &storage.AuthorizedSystem{
		ID:          uuid.New(),
		Name:        "billing",
		APIKeyHash:  hash,
		Permissions: []string{auth.PermSendDirect},
		IsActive:    true,
	}
}

func authedRequest(clientID, apiKey string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/email/send", nil)
	if clientID != "" {
		r.Header.Set(auth.HeaderClientID, clientID)
	}
	if apiKey != "" {
		r.Header.Set(auth.HeaderAPIKey, apiKey)
	}
	return r
}

func TestAuthenticator_Middleware(t *testing.T) {
	t.Parallel()

	newAuthenticator := func(t *testing.T, finder auth.SystemFinder) *auth.Authenticator {
		t.Helper()
		c := cache.NewMemory[storage.AuthorizedSystem]()
		t.Cleanup(func() { _ = c.Close() })
		return auth.NewAuthenticator(finder, c, time.Minute, logger.NewNop())
	}

	serve := func(a *auth.Authenticator, r *http.Request) (*httptest.ResponseRecorder, *auth.Identity) {
		var got *auth.Identity
		handler := a.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id, ok := auth.IdentityFromContext(r.Context()); ok {
				got = &id
			}
			w.WriteHeader(http.StatusNoContent)
		}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
		return rec, got
	}

	t.Run("attaches identity on valid credentials", func(t *testing.T) {
		t.Parallel()

		key, err := auth.GenerateAPIKey()
		require.NoError(t, err)
		system := newTestSystem(t, key)
		a := newAuthenticator(t, &fakeFinder{system: system})

		rec, identity := serve(a, authedRequest("billing", key))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.NotNil(t, identity)
		assert.Equal(t, system.ID, identity.ID)
		assert.True(t, identity.Permissions.Has(auth.PermSendDirect))
	})

	t.Run("missing headers yield 401", func(t *testing.T) {
		t.Parallel()

		a := newAuthenticator(t, &fakeFinder{})
		rec, identity := serve(a, authedRequest("", ""))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Nil(t, identity)
	})

	t.Run("unknown client yields 401", func(t *testing.T) {
		t.Parallel()

		a := newAuthenticator(t, &fakeFinder{})
		rec, _ := serve(a, authedRequest("ghost", "sk_anything"))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("inactive client yields 401", func(t *testing.T) {
		t.Parallel()

		key, err := auth.GenerateAPIKey()
		require.NoError(t, err)
		system := newTestSystem(t, key)
		system.IsActive = false
		a := newAuthenticator(t, &fakeFinder{system: system})

		rec, _ := serve(a, authedRequest("billing", key))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong key yields 403", func(t *testing.T) {
		t.Parallel()

		key, err := auth.GenerateAPIKey()
		require.NoError(t, err)
		a := newAuthenticator(t, &fakeFinder{system: newTestSystem(t, key)})

		rec, _ := serve(a, authedRequest("billing", "sk_not_the_key"))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("caches lookups between requests", func(t *testing.T) {
		t.Parallel()

		key, err := auth.GenerateAPIKey()
		require.NoError(t, err)
		finder := &fakeFinder{system: newTestSystem(t, key)}
		a := newAuthenticator(t, finder)

		for range 3 {
			rec, _ := serve(a, authedRequest("billing", key))
			require.Equal(t, http.StatusNoContent, rec.Code)
		}
		assert.Equal(t, 1, finder.calls)
	})

	t.Run("invalidate forces a fresh lookup", func(t *testing.T) {
		t.Parallel()

		key, err := auth.GenerateAPIKey()
		require.NoError(t, err)
		finder := &fakeFinder{system: newTestSystem(t, key)}
		a := newAuthenticator(t, finder)

		serve(a, authedRequest("billing", key))
		a.Invalidate(context.Background(), "billing")
		serve(a, authedRequest("billing", key))
		assert.Equal(t, 2, finder.calls)
	})
}

func TestRequire(t *testing.T) {
	t.Parallel()

	handler := auth.Require(auth.PermManageTemplates)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("passes when permission granted", func(t *testing.T) {
		t.Parallel()

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		ctx := auth.WithIdentity(r.Context(), auth.Identity{
			Permissions: auth.NewPermissionSet([]string{auth.PermManageTemplates}),
		})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r.WithContext(ctx))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("names the missing permission", func(t *testing.T) {
		t.Parallel()

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		ctx := auth.WithIdentity(r.Context(), auth.Identity{Permissions: auth.NewPermissionSet(nil)})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r.WithContext(ctx))
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), auth.PermManageTemplates)
	})

	t.Run("rejects unauthenticated requests", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
