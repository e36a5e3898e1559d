package auth

import (
	"context"

	"github.com/google/uuid"
)

// Permission codes granted to authorized systems.
const (
	PermSendDirect      = "send_direct"
	PermSendTemplate    = "send_template"
	PermManageTemplates = "manage_templates"
	PermViewLogs        = "view_logs"
	PermAdmin           = "admin"
)

// PermissionSet answers membership queries over a system's granted
// permission codes.
type PermissionSet map[string]struct{}

func NewPermissionSet(codes []string) PermissionSet {
	set := make(PermissionSet, len(codes))
	for _, code := range codes {
		set[code] = struct{}{}
	}
	return set
}

func (s PermissionSet) Has(code string) bool {
	_, ok := s[code]
	return ok
}

func (s PermissionSet) Codes() []string {
	codes := make([]string, 0, len(s))
	for code := range s {
		codes = append(codes, code)
	}
	return codes
}

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	ID          uuid.UUID
	Name        string
	Permissions PermissionSet
}

type ctxKey struct{}

// WithIdentity returns a context carrying the authenticated identity.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// IdentityFromContext extracts the identity set by the Authenticate
// middleware. The second return is false on unauthenticated requests.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
