package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"nibras-backend/internal/identity"
)

type contextKey string

const claimsKey contextKey = "claims"

// TokenQueryParam carries the bearer token for WebSocket upgrades, where
// browsers cannot set an Authorization header.
const TokenQueryParam = "access_token"

// OptionalAuth lets anonymous requests through untouched. A request that
// presents a token must present a valid one or it is rejected with 401.
func OptionalAuth(v identity.Verifier) func(http.Handler) http.Handler {
	if v == nil {
		v = identity.Reject{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, present, ok := bearerToken(r)
			if !present {
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
				return
			}

			claims, err := v.Verify(r.Context(), tokenStr)
			if err != nil {
				code := "UNAUTHORIZED"
				if errors.Is(err, identity.ErrExpiredToken) {
					code = "TOKEN_EXPIRED"
				}
				zerolog.Ctx(r.Context()).Debug().Err(err).Msg("rejected bearer token")
				writeError(w, http.StatusUnauthorized, code, "Invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			logger := zerolog.Ctx(ctx).With().Str("subject", claims.Subject).Logger()
			ctx = logger.WithContext(ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken reports whether a token was presented at all and whether the
// presentation was well formed.
func bearerToken(r *http.Request) (token string, present, ok bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", true, false
		}
		return strings.TrimSpace(parts[1]), true, true
	}
	if q := r.URL.Query().Get(TokenQueryParam); q != "" {
		return q, true, true
	}
	return "", false, false
}

// GetClaims returns the verified caller, or nil for anonymous requests.
func GetClaims(ctx context.Context) *identity.Claims {
	claims, _ := ctx.Value(claimsKey).(*identity.Claims)
	return claims
}

func GetSubject(ctx context.Context) string {
	if c := GetClaims(ctx); c != nil {
		return c.Subject
	}
	return ""
}
