package apiframework

import (
	"fmt"
	"net/http"

	"github.com/medstay/inbox/conversationid"
	"github.com/medstay/inbox/libauth"
	"github.com/medstay/inbox/libtracker"
)

// IdentityHeader carries the caller identity when no token secret is configured.
const IdentityHeader = "X-Inbox-Identity"

// IdentityMiddleware resolves the caller identity and stores it in the request
// context. With a secret, only bearer tokens are accepted; without one (local
// development) the IdentityHeader is trusted. Requests without credentials pass
// through anonymously; handlers that need a caller use RequireIdentity.
func IdentityMiddleware(secret string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		switch {
		case secret != "" && r.Header.Get("Authorization") != "":
			token, err := libauth.BearerToken(r.Header.Get("Authorization"))
			if err != nil {
				_ = Error(w, r, err, AuthorizeOperation)
				return
			}
			identity, err := libauth.ParseIdentity(secret, token)
			if err != nil {
				_ = Error(w, r, err, AuthorizeOperation)
				return
			}
			ctx = libtracker.WithIdentity(ctx, identity)
		case secret == "" && r.Header.Get(IdentityHeader) != "":
			identity := r.Header.Get(IdentityHeader)
			if err := conversationid.ValidateIdentity(identity); err != nil {
				_ = Error(w, r, err, GetOperation)
				return
			}
			ctx = libtracker.WithIdentity(ctx, identity)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireIdentity returns the identity set by IdentityMiddleware.
func RequireIdentity(r *http.Request) (string, error) {
	identity := libtracker.Identity(r.Context())
	if identity == "" {
		return "", fmt.Errorf("%w: %w", ErrUnauthorized, libauth.ErrTokenMissing)
	}
	return identity, nil
}
