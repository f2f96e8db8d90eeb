package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/frahmantamala/ride-wallet/internal"
	"github.com/frahmantamala/ride-wallet/pkg/logger"
)

// RiderAuth extracts the rider identity from a bearer token minted by
// the external identity service. Only the rider id claim is read here;
// token issuance and session lifecycle live outside this service.
func RiderAuth(secret string, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := bearerToken(r)
			if tokenString == "" {
				http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
				return
			}

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				log.Warn("rider token rejected", "error", err)
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			riderID, _ := claims["rider_id"].(string)
			if riderID == "" {
				if sub, ok := claims["sub"].(string); ok {
					riderID = sub
				}
			}
			if riderID == "" {
				log.Warn("rider token missing rider_id claim")
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := internal.ContextWithRiderID(r.Context(), riderID)
			ctx = logger.With(ctx, "rider_id", riderID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(authHeader, "Bearer ")
}
