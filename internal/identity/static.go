package identity

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/linnemanlabs/itemdesk/internal/item"
)

type staticUser struct {
	id   string
	role item.Role
}

// Static is a Gateway over a fixed user table, configured from flags.
type Static struct {
	byToken map[[sha256.Size]byte]staticUser
	roles   map[string]item.Role
}

// User is one configured account.
type User struct {
	ID    string
	Role  item.Role
	Token string
}

// ParseUsers parses "id:role:token" entries separated by commas. Whitespace
// around entries is ignored and the token may itself contain colons.
func ParseUsers(spec string) ([]User, error) {
	var (
		users  []User
		ids    = make(map[string]bool)
		tokens = make(map[string]bool)
	)
	for i, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("static user %d: want id:role:token", i)
		}
		id, roleStr, token := parts[0], parts[1], parts[2]
		if id == "" || token == "" {
			return nil, fmt.Errorf("static user %d: id and token must not be empty", i)
		}
		role, ok := ParseRole(roleStr)
		if !ok {
			return nil, fmt.Errorf("static user %q: unknown role %q", id, roleStr)
		}
		if ids[id] {
			return nil, fmt.Errorf("static user %q: duplicate id", id)
		}
		if tokens[token] {
			return nil, fmt.Errorf("static user %q: token already assigned", id)
		}
		ids[id], tokens[token] = true, true
		users = append(users, User{ID: id, Role: role, Token: token})
	}
	return users, nil
}

// ParseStatic builds a Static gateway from a ParseUsers spec.
func ParseStatic(spec string) (*Static, error) {
	users, err := ParseUsers(spec)
	if err != nil {
		return nil, err
	}
	return NewStatic(users), nil
}

// NewStatic builds a Static gateway over users. Tokens are kept only as digests.
func NewStatic(users []User) *Static {
	s := &Static{
		byToken: make(map[[sha256.Size]byte]staticUser, len(users)),
		roles:   make(map[string]item.Role, len(users)),
	}
	for _, u := range users {
		s.byToken[HashToken(u.Token)] = staticUser{id: u.ID, role: u.Role}
		s.roles[u.ID] = u.Role
	}
	return s
}

// Len returns the number of configured users.
func (s *Static) Len() int {
	return len(s.roles)
}

// Authenticate implements Gateway.
func (s *Static) Authenticate(_ context.Context, c Credentials) (Session, error) {
	if c.Token == "" {
		return Session{}, ErrInvalidCredentials
	}
	u, ok := s.byToken[HashToken(c.Token)]
	if !ok {
		return Session{}, ErrInvalidCredentials
	}
	return Session{UserID: u.id, Token: c.Token}, nil
}

// Role implements Gateway.
func (s *Static) Role(_ context.Context, userID string) (item.Role, error) {
	r, ok := s.roles[userID]
	if !ok {
		return "", item.ErrNotFound
	}
	return r, nil
}
