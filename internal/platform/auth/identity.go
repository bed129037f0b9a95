package auth

import (
	"context"
	"slices"
	"strings"
)

// Roles carried in the Firebase "role" custom claim.
const (
	RoleUser  = "user"
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// Identity is the verified caller behind a customer or admin request.
type Identity struct {
	UID   string
	Email string
	Roles []string
}

// HasRole compares case-insensitively; roles from claims are already lower-cased.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	return role != "" && slices.ContainsFunc(i.Roles, func(r string) bool { return strings.EqualFold(r, role) })
}

// HasAnyRole reports whether the identity includes any of the provided roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	return slices.ContainsFunc(roles, i.HasRole)
}

// CanManageOrders reports whether the caller may move orders through the admin lifecycle.
func (i *Identity) CanManageOrders() bool {
	return i.HasAnyRole(RoleAdmin, RoleStaff)
}

type identityKey struct{}

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	return identity, ok && identity != nil
}

// UserID returns the authenticated uid, or "" for anonymous requests.
func UserID(ctx context.Context) string {
	if identity, ok := IdentityFromContext(ctx); ok {
		return strings.TrimSpace(identity.UID)
	}
	return ""
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
