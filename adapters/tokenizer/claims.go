package tokenizer

import "github.com/golang-jwt/jwt/v5"

// SessionClaims carry only the session id and its validity window, so the
// token reveals nothing about the user it belongs to.
type SessionClaims struct {
	jwt.RegisteredClaims
}
