package users

import "testing"

func TestAuthenticate(t *testing.T) {
	s := NewStore()
	if err := s.Add("alice", "s3cret", "alice@example.com", []string{"admin"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	u, ok := s.Authenticate("alice", "s3cret")
	if !ok || u.Username != "alice" || u.Email != "alice@example.com" {
		t.Fatalf("expected successful auth, got %+v ok=%v", u, ok)
	}
	if _, ok := s.Authenticate("alice", "wrong"); ok {
		t.Fatalf("wrong password must fail")
	}
	if _, ok := s.Authenticate("nobody", "s3cret"); ok {
		t.Fatalf("unknown user must fail")
	}
}

func TestAddRequiresUsername(t *testing.T) {
	s := NewStore()
	if err := s.Add("  ", "pw", "", nil); err == nil {
		t.Fatalf("expected error for blank username")
	}
}

func TestSeedDefaults(t *testing.T) {
	s := NewStore()
	if err := SeedDefaults(s, map[string]string{"admin": "override"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, ok := s.Authenticate("admin", "override"); !ok {
		t.Fatalf("expected overridden admin password to work")
	}
	if _, ok := s.Authenticate("analyst", "analyst_password"); !ok {
		t.Fatalf("expected default analyst password to work")
	}
	list := s.List()
	if len(list) != 3 || list[0].Username != "admin" {
		t.Fatalf("unexpected user list: %+v", list)
	}
}
