// Package identity authenticates callers and answers role lookups for the
// item core. Roles are always read from the backing provider.
package identity

import (
	"context"
	"crypto/sha256"
	"errors"

	"github.com/linnemanlabs/itemdesk/internal/item"
)

// ErrInvalidCredentials is returned when a token does not match any user.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Credentials are what a caller presents to authenticate.
type Credentials struct {
	Token string
}

// Session is an authenticated caller.
type Session struct {
	UserID string
	Token  string
}

// Gateway authenticates callers and resolves their current role.
type Gateway interface {
	Authenticate(ctx context.Context, c Credentials) (Session, error)

	// Role returns item.ErrNotFound for unknown users.
	Role(ctx context.Context, userID string) (item.Role, error)
}

// HashToken returns the SHA-256 digest under which tokens are stored.
func HashToken(token string) [sha256.Size]byte {
	return sha256.Sum256([]byte(token))
}

// ParseRole converts s into an item.Role.
func ParseRole(s string) (item.Role, bool) {
	switch r := item.Role(s); r {
	case item.RoleAdmin, item.RoleUser:
		return r, true
	default:
		return "", false
	}
}
