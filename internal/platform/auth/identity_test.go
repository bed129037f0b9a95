package auth

import (
	"context"
	"testing"
)

func TestIdentityRoles(t *testing.T) {
	staff := &Identity{UID: "staff-7", Roles: []string{"staff"}}
	if !staff.HasRole(" STAFF ") || !staff.CanManageOrders() {
		t.Fatalf("staff should manage orders")
	}
	customer := &Identity{UID: "user-1", Roles: []string{RoleUser}}
	if customer.CanManageOrders() || customer.HasRole("") {
		t.Fatalf("customer must not manage orders")
	}
	var missing *Identity
	if missing.HasAnyRole(RoleAdmin) {
		t.Fatalf("nil identity has no roles")
	}
}

func TestUserIDFromContext(t *testing.T) {
	if got := UserID(context.Background()); got != "" {
		t.Fatalf("expected anonymous, got %q", got)
	}
	ctx := WithIdentity(context.Background(), &Identity{UID: " user-1 "})
	if got := UserID(ctx); got != "user-1" {
		t.Fatalf("expected trimmed uid, got %q", got)
	}
	if _, ok := IdentityFromContext(WithIdentity(context.Background(), nil)); ok {
		t.Fatalf("nil identity must not be reported")
	}
}
