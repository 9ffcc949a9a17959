package access

import (
	"testing"
	"time"
)

func TestGrantIsValid(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	g := Grant{ExpiresAt: now.Add(time.Hour)}

	if !g.IsValid(now) || !g.IsValid(now.Add(time.Hour)) {
		t.Fatalf("grant should be valid up to and including expiry")
	}
	if g.IsValid(now.Add(time.Hour + time.Nanosecond)) {
		t.Fatalf("grant should lapse after expiry")
	}
	if !(Grant{}).IsValid(now.Add(1000 * time.Hour)) {
		t.Fatalf("zero expiry should never lapse")
	}
	g.Revoked = true
	if g.IsValid(now) {
		t.Fatalf("revoked grant must be invalid")
	}
}

func TestPolicyMembership(t *testing.T) {
	var p Policy
	p.Owner = "owner"
	p.AddMember(RoleAdmin, "a")
	p.AddMember(RoleViewer, "v")

	if !p.CanManage("owner") || !p.CanManage("a") || p.CanManage("v") {
		t.Fatalf("unexpected CanManage results")
	}
	p.RemoveMember(RoleViewer, "v")
	if p.HasRole(RoleViewer, "v") {
		t.Fatalf("viewer not removed")
	}
	p.ClearRoles()
	if p.HasRole(RoleAdmin, "a") {
		t.Fatalf("roles not cleared")
	}
}

func TestParseRole(t *testing.T) {
	if r, ok := ParseRole(" Viewer "); !ok || r != RoleViewer {
		t.Fatalf("ParseRole viewer = %q,%v", r, ok)
	}
	if _, ok := ParseRole("owner"); ok {
		t.Fatalf("owner is not a grantable role")
	}
}
