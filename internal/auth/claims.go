package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// The subject is the user id, which becomes the owner of every negotiation
// the bearer creates. Both token types carry the role so a refresh can
// reissue an equivalent pair.
type Claims struct {
	jwt.RegisteredClaims

	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}

func (c Claims) UserID() string { return c.Subject }
