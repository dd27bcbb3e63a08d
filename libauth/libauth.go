// Package libauth mints and verifies the HMAC-signed bearer tokens that carry
// an inbox identity.
package libauth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/medstay/inbox/conversationid"
)

var (
	ErrNotAuthorized           = errors.New("libauth: not authorized")
	ErrTokenExpired            = errors.New("libauth: token expired")
	ErrIssuedAtMissing         = errors.New("libauth: issued-at claim missing")
	ErrIssuedAtInFuture        = errors.New("libauth: issued-at claim in the future")
	ErrIdentityMissing         = errors.New("libauth: identity missing")
	ErrInvalidTokenClaims      = errors.New("libauth: invalid token claims")
	ErrTokenMissing            = errors.New("libauth: token missing")
	ErrUnexpectedSigningMethod = errors.New("libauth: unexpected signing method")
	ErrTokenParsingFailed      = errors.New("libauth: token parsing failed")
	ErrTokenSigningFailed      = errors.New("libauth: token signing failed")
	ErrSecretMissing           = errors.New("libauth: signing secret missing")
)

const issuer = "inbox"

// Claims are the registered claims of an inbox token; the subject is the identity.
type Claims struct {
	jwt.RegisteredClaims
}

// CreateToken signs a token for identity that expires after ttl.
func CreateToken(secret, identity string, ttl time.Duration) (string, time.Time, error) {
	if secret == "" {
		return "", time.Time{}, ErrSecretMissing
	}
	if err := conversationid.ValidateIdentity(identity); err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %w", ErrInvalidTokenClaims, err)
	}
	now := time.Now()
	expiresAt := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %w", ErrTokenSigningFailed, err)
	}
	return signed, expiresAt, nil
}

// ParseIdentity verifies tokenString and returns the identity it was issued for.
func ParseIdentity(secret, tokenString string) (string, error) {
	if secret == "" {
		return "", ErrSecretMissing
	}
	if tokenString == "" {
		return "", ErrTokenMissing
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedSigningMethod, t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuedAt(), jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	switch {
	case err == nil:
	case errors.Is(err, ErrUnexpectedSigningMethod):
		return "", ErrUnexpectedSigningMethod
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return "", ErrIssuedAtInFuture
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "", fmt.Errorf("%w: %w", ErrNotAuthorized, err)
	case errors.Is(err, jwt.ErrTokenInvalidClaims):
		return "", fmt.Errorf("%w: %w", ErrInvalidTokenClaims, err)
	default:
		return "", fmt.Errorf("%w: %w", ErrTokenParsingFailed, err)
	}
	if claims.IssuedAt == nil {
		return "", ErrIssuedAtMissing
	}
	if claims.Subject == "" {
		return "", ErrIdentityMissing
	}
	if err := conversationid.ValidateIdentity(claims.Subject); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidTokenClaims, err)
	}
	return claims.Subject, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrTokenMissing
	}
	return strings.TrimSpace(token), nil
}
