package security

import (
	"errors"
	"time"
)

var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
)

type TokenClaims struct {
	UserID  string
	Role    string
	Exp     time.Time
	Issuer  string
	Subject string
}

// AccessTokenVerifier validates bearer tokens minted by the external auth
// service. Token issuance is out of scope here; only verification is carried.
type AccessTokenVerifier interface {
	VerifyAccessToken(token string) (TokenClaims, error)
}
