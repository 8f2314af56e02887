package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "guest read", role: RoleGuest, action: ActionRead, allow: true},
		{name: "guest comment", role: RoleGuest, action: ActionComment, allow: false},
		{name: "member comment", role: RoleMember, action: ActionComment, allow: true},
		{name: "member moderate", role: RoleMember, action: ActionModerate, allow: false},
		{name: "editor moderate", role: RoleEditor, action: ActionModerate, allow: false},
		{name: "editor purge", role: RoleEditor, action: ActionPurge, allow: false},
		{name: "admin moderate", role: RoleAdmin, action: ActionModerate, allow: true},
		{name: "admin purge", role: RoleAdmin, action: ActionPurge, allow: true},
		{name: "unknown role", role: Role("root"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("admin") != RoleAdmin {
		t.Fatal("admin should stay admin")
	}
	if Normalize("superuser") != RoleMember {
		t.Fatal("unknown roles should fall back to member")
	}
}
