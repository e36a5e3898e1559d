package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/mailroom/internal/storage"
	"github.com/dmitrymomot/mailroom/pkg/cache"
	"github.com/dmitrymomot/mailroom/pkg/httperr"
)

// Request headers carrying tenant credentials.
const (
	HeaderClientID = "X-Client-ID"
	HeaderAPIKey   = "X-API-Key"
)

var (
	ErrMissingCredentials = errors.New("auth: missing credentials")
	ErrUnknownSystem      = errors.New("auth: unknown system")
	ErrSystemInactive     = errors.New("auth: system inactive")
)

// SystemFinder loads tenant records for authentication.
type SystemFinder interface {
	FindByName(ctx context.Context, name string) (*storage.AuthorizedSystem, error)
}

// Authenticator validates credentials on incoming requests and resolves
// them to an Identity. Lookups go through a short-lived cache so hot
// tenants do not hit the database on every request.
type Authenticator struct {
	systems  SystemFinder
	cache    cache.Cache[storage.AuthorizedSystem]
	cacheTTL time.Duration
	log      *slog.Logger
}

func NewAuthenticator(systems SystemFinder, c cache.Cache[storage.AuthorizedSystem], cacheTTL time.Duration, log *slog.Logger) *Authenticator {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &Authenticator{systems: systems, cache: c, cacheTTL: cacheTTL, log: log}
}

// Invalidate drops a tenant from the cache. Called after admin updates
// so credential and permission changes take effect promptly.
func (a *Authenticator) Invalidate(ctx context.Context, name string) {
	if err := a.cache.Delete(ctx, cacheKey(name)); err != nil && !errors.Is(err, cache.ErrNotFound) {
		a.log.WarnContext(ctx, "failed to invalidate auth cache", slog.String("system", name), slog.Any("error", err))
	}
}

func cacheKey(name string) string {
	return "auth:system:" + name
}

// Middleware authenticates requests via the X-Client-ID and X-API-Key
// headers and attaches the resolved Identity to the request context.
// Missing or unknown credentials yield 401, a bad key 403.
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := a.authenticate(r)
			if err != nil {
				httperr.Render(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), *identity)))
		})
	}
}

func (a *Authenticator) authenticate(r *http.Request) (*Identity, error) {
	ctx := r.Context()

	clientID := r.Header.Get(HeaderClientID)
	apiKey := r.Header.Get(HeaderAPIKey)
	if clientID == "" || apiKey == "" {
		return nil, httperr.Unauthorized("missing authentication headers", httperr.WithError(ErrMissingCredentials))
	}

	system, err := cache.GetOrSet(ctx, a.cache, cacheKey(clientID), func(ctx context.Context) (storage.AuthorizedSystem, time.Duration, error) {
		s, err := a.systems.FindByName(ctx, clientID)
		if err != nil {
			return storage.AuthorizedSystem{}, 0, err
		}
		return *s, a.cacheTTL, nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, httperr.Unauthorized("unknown client", httperr.WithError(ErrUnknownSystem))
		}
		a.log.ErrorContext(ctx, "auth lookup failed", slog.Any("error", err))
		return nil, httperr.Internal("authentication unavailable", httperr.WithError(err))
	}

	if !system.IsActive {
		return nil, httperr.Unauthorized("client is inactive", httperr.WithError(ErrSystemInactive))
	}
	if err := VerifyAPIKey(system.APIKeyHash, apiKey); err != nil {
		return nil, httperr.Forbidden("invalid api key", httperr.WithError(err))
	}

	return &Identity{
		ID:          system.ID,
		Name:        system.Name,
		Permissions: NewPermissionSet(system.Permissions),
	}, nil
}

// Require guards a route with a permission code. It must run after
// Middleware; requests whose identity lacks the code get 403 naming it.
func Require(code string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				httperr.Render(w, httperr.Unauthorized("authentication required", httperr.WithError(ErrMissingCredentials)))
				return
			}
			if !identity.Permissions.Has(code) {
				httperr.Render(w, httperr.Forbidden("missing permission: "+code, httperr.WithErrorCode(code)))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
