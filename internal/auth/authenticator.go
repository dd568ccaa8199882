// Package auth extracts caller identities from bearer credentials.
//
// Token issuance, refresh and user management belong to the external
// identity provider. This package only verifies the signature of an
// incoming JWT and hands the subject claim to the core as an opaque
// responder identity.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Authenticator errors.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoSubject    = errors.New("token has no subject")
)

// Config holds authenticator configuration.
type Config struct {
	SecretKey string
	Issuer    string // optional; verified when set
}

// Authenticator verifies bearer JWTs issued by the external identity
// provider. Implements httputil.IdentityExtractor.
type Authenticator struct {
	config Config
}

// NewAuthenticator creates a new Authenticator.
func NewAuthenticator(config Config) *Authenticator {
	return &Authenticator{config: config}
}

// ExtractIdentity verifies the token signature and returns the subject
// claim as the caller identity.
func (a *Authenticator) ExtractIdentity(_ context.Context, tokenString string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
	}
	if a.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.config.Issuer))
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return []byte(a.config.SecretKey), nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidToken, err)
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", ErrNoSubject
	}

	return subject, nil
}

// IssueToken mints a token for the given subject. Only used by tests
// and local development; production tokens come from the IdP.
func (a *Authenticator) IssueToken(subject string, claims jwt.MapClaims) (string, error) {
	if claims == nil {
		claims = jwt.MapClaims{}
	}
	claims["sub"] = subject
	if a.config.Issuer != "" {
		claims["iss"] = a.config.Issuer
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(a.config.SecretKey))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
