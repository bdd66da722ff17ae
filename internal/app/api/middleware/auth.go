package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/fatflowers/creditledger/pkg/config"
	"github.com/fatflowers/creditledger/pkg/response"
	"github.com/fatflowers/creditledger/pkg/types"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
)

// IdentityKey is the gin context key AuthMiddleware stores the caller
// identity under.
const IdentityKey = "identity"

// AuthMiddleware extracts the caller identity from a bearer token. The
// ledger serves unverified identities locally only, so the "verified" claim
// rides along instead of rejecting the request.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Authorization")
		if !strings.HasPrefix(raw, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing bearer token"))
			return
		}
		token, err := jwt.Parse(strings.TrimPrefix(raw, "Bearer "), func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(cfg.Auth.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeBadRequest, "invalid token"))
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeBadRequest, "invalid claims"))
			return
		}
		sub, _ := claims["sub"].(string)
		if sub == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing subject"))
			return
		}
		verified, _ := claims["verified"].(bool)

		id := types.Identity{UserID: sub, Verified: verified}
		c.Set(IdentityKey, id)
		// surface user_id to the request-scoped logger
		ctx := context.WithValue(c.Request.Context(), "user_id", sub)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// IdentityFrom returns the identity attached by AuthMiddleware.
func IdentityFrom(c *gin.Context) (types.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return types.Identity{}, false
	}
	id, ok := v.(types.Identity)
	return id, ok
}
