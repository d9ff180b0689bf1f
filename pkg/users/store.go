package users

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User is a principal known to the gateway.
type User struct {
	Username     string    `json:"username"`
	Roles        []string  `json:"roles"`
	Email        string    `json:"email"`
	CreatedAt    time.Time `json:"created_at"`
	passwordHash []byte
}

// Store is the in-memory principal store. Passwords are kept only as bcrypt
// hashes.
type Store struct {
	mu    sync.RWMutex
	users map[string]*User
}

func NewStore() *Store {
	return &Store{users: make(map[string]*User)}
}

func (s *Store) Add(username, password, email string, roles []string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("users: username is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("users: hash password for %s: %w", username, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = &User{
		Username:     username,
		Roles:        roles,
		Email:        email,
		CreatedAt:    time.Now().UTC(),
		passwordHash: hash,
	}
	return nil
}

// Authenticate checks the password for the username. The result does not
// reveal whether the username or the password was wrong.
func (s *Store) Authenticate(username, password string) (User, bool) {
	s.mu.RLock()
	u, ok := s.users[username]
	s.mu.RUnlock()
	if !ok {
		// Burn a comparison anyway so unknown usernames cost the same.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return User{}, false
	}
	if bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)) != nil {
		return User{}, false
	}
	return *u, true
}

func (s *Store) Get(username string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return User{}, false
	}
	return *u, true
}

func (s *Store) List() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("swifthost-dummy"), bcrypt.DefaultCost)

// SeedDefaults loads the built-in demo principals. Passwords come from the
// caller so deployments can override them via configuration.
func SeedDefaults(s *Store, passwords map[string]string) error {
	defaults := []struct {
		username string
		roles    []string
		email    string
	}{
		{"admin", []string{"admin"}, "admin@example.com"},
		{"analyst", []string{"security_analyst"}, "analyst@example.com"},
		{"hunter", []string{"threat_hunter"}, "hunter@example.com"},
	}
	for _, d := range defaults {
		pw := passwords[d.username]
		if pw == "" {
			pw = d.username + "_password"
		}
		if err := s.Add(d.username, pw, d.email, d.roles); err != nil {
			return err
		}
	}
	return nil
}
