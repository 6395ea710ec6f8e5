// Package auth provides token signing, password hashing and the request
// middleware that recovers the caller from a token.
//
// TOKEN FLOW OVERVIEW:
//  1. POST /api/cockpit/authUser checks credentials and issues a session token
//  2. The client sends it back as "Authorization: Bearer <jwt>", a "token"
//     cookie or a "token" query parameter
//  3. OptionalAuth decodes it and puts a model.Actor in the request context
//  4. POST /api/cockpit/isLogged re-checks the token and hands out a fresh one
//
// The same codec signs the one-time links in verification and reset emails.
// A token's Purpose says which of those it is, so a reset link can never be
// used as a session and vice versa.
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: {"alg":"HS256","typ":"JWT"}
//	- Payload: {"whoisit":"<account id>","group":"user","expire":1234567890,"purpose":"session","ver":0}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Purpose tells apart the kinds of token this service signs.
type Purpose string

const (
	PurposeSession Purpose = "session"
	PurposeVerify  Purpose = "verify"
	PurposeReset   Purpose = "reset"
)

var (
	// ErrTokenExpired is returned whenever expire < now, whatever the other
	// claims say.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid covers malformed tokens, bad signatures, foreign
	// algorithms and a purpose other than the one asked for.
	ErrTokenInvalid = errors.New("auth: invalid token")
)

// TokenService handles JWT creation and validation.
//
// It holds the HMAC secret key used to sign and verify tokens.
type TokenService struct {
	secret []byte
	now    func() time.Time
}

// NewTokenService creates a TokenService with the given secret.
// The secret should be at least 32 bytes of random data in production.
// Example: PAIRSHOT_AUTH_JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret), now: time.Now}, nil
}

// Claims is the token payload. Field names match what the web client reads.
type Claims struct {
	WhoIsIt string  `json:"whoisit"`
	Group   string  `json:"group,omitempty"`
	Expire  int64   `json:"expire"`
	Purpose Purpose `json:"purpose"`
	// Ver is the account's token_version when the token was issued.
	Ver int64 `json:"ver"`
}

// jwt.Claims implementation. Only expiry is carried; the other registered
// claims are absent.

func (c *Claims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.Expire, 0)), nil
}
func (c *Claims) GetIssuedAt() (*jwt.NumericDate, error)  { return nil, nil }
func (c *Claims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (c *Claims) GetIssuer() (string, error)              { return "", nil }
func (c *Claims) GetSubject() (string, error)             { return c.WhoIsIt, nil }
func (c *Claims) GetAudience() (jwt.ClaimStrings, error)  { return nil, nil }

// Issue signs c with expire = now + ttl. A negative ttl produces an already
// expired token, which tests use.
//
// Signing algorithm: HS256 (HMAC-SHA256), symmetric, same key for signing
// and verifying.
func (s *TokenService) Issue(c Claims, ttl time.Duration) (string, error) {
	if c.WhoIsIt == "" {
		return "", errors.New("auth: token needs a subject")
	}
	if c.Purpose == "" {
		c.Purpose = PurposeSession
	}
	c.Expire = s.now().Add(ttl).Unix()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Decode parses and verifies a token and checks that it was issued for
// purpose.
//
// ALGORITHM CONFUSION ATTACK:
// Without checking the algorithm, an attacker could send a token signed with
// "none" and the library might accept it. Passing jwt.WithValidMethods
// prevents this.
func (s *TokenService) Decode(tokenStr string, purpose Purpose) (*Claims, error) {
	c := &Claims{}
	token, err := jwt.ParseWithClaims(
		tokenStr,
		c,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}

	// The library treats exp == now as still valid; expiry here is strict
	// and checked independently of every other claim.
	if c.Expire <= s.now().Unix() {
		return nil, ErrTokenExpired
	}
	if c.WhoIsIt == "" {
		return nil, fmt.Errorf("%w: no subject", ErrTokenInvalid)
	}
	if c.Purpose != purpose {
		return nil, fmt.Errorf("%w: purpose %q, want %q", ErrTokenInvalid, c.Purpose, purpose)
	}
	return c, nil
}
