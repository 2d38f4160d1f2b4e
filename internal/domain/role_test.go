package domain

import "testing"

func TestCapabilitiesForReturnsCopy(t *testing.T) {
	caps := CapabilitiesFor(RoleStaff)
	if len(caps) == 0 {
		t.Fatal("expected staff capabilities")
	}
	caps[0] = "mutated"
	if CapabilitiesFor(RoleStaff)[0] == "mutated" {
		t.Fatal("expected capability set to be copied")
	}
}

func TestCapabilitiesForUnknownRoleIsEmpty(t *testing.T) {
	if got := CapabilitiesFor(Role("ghost")); len(got) != 0 {
		t.Fatalf("expected no capabilities for unknown role, got %v", got)
	}
	if Role("ghost").Valid() {
		t.Fatal("expected unknown role to be invalid")
	}
}

func TestTenantRevokeCapabilityIsRestricted(t *testing.T) {
	if !HasCapability(CapabilitiesFor(RoleOwner), CapabilityTenantSessionsRevoke) {
		t.Fatal("expected owner to revoke tenant sessions")
	}
	if HasCapability(CapabilitiesFor(RoleStaff), CapabilityTenantSessionsRevoke) {
		t.Fatal("expected staff to be denied tenant session revoke")
	}
}
