package gotrue

import (
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/lumakit/go-session"
)

// TokenVerifier validates platform-issued access tokens against the
// project's JWK set, refreshing keys in the background.
type TokenVerifier struct {
	jwks   *keyfunc.JWKS
	logger session.Logger
}

// NewTokenVerifier fetches the JWK set at jwksURL and keeps it fresh until
// Close is called.
func NewTokenVerifier(jwksURL string, logger session.Logger) (*TokenVerifier, error) {
	v := &TokenVerifier{logger: logger}

	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			if logger != nil {
				logger.Warn("background JWK set refresh failed: %v", err)
			}
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryOperation, "failed to fetch JWK set").
			WithMetadata(map[string]any{"url": jwksURL})
	}

	v.jwks = jwks
	return v, nil
}

// Verify checks the token signature and expiry and returns the embedded
// identity claims.
func (v *TokenVerifier) Verify(tokenString string) (*session.Identity, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.jwks.Keyfunc)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryAuth, "token verification failed").
			WithCode(errors.CodeUnauthorized)
	}
	if !token.Valid {
		return nil, errors.New("token is not valid", errors.CategoryAuth).
			WithCode(errors.CodeUnauthorized)
	}

	identity := &session.Identity{}
	if sub, err := claims.GetSubject(); err == nil {
		identity.ID = sub
	}
	if email, ok := claims["email"].(string); ok {
		identity.Email = email
	}
	if meta, ok := claims["user_metadata"].(map[string]any); ok {
		identity.Metadata = meta
	}
	identity.Name = identity.FullName()
	identity.AvatarURL = identity.Avatar()

	if identity.ID == "" {
		return nil, errors.New("token carries no subject", errors.CategoryAuth).
			WithCode(errors.CodeUnauthorized)
	}

	return identity, nil
}

// Close stops the background key refresh.
func (v *TokenVerifier) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}
