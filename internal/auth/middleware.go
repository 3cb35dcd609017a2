package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ContextClaimsKey is the gin context key holding validated claims.
const ContextClaimsKey = "auth_claims"

// GinMiddleware validates the bearer token and stores the claims on the
// request context.
func (validator *Validator) GinMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		claims, err := validator.ParseAuthorizationHeader(ctx.GetHeader("Authorization"))
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"code": "unauthenticated", "message": "missing or invalid session"},
			})
			return
		}
		ctx.Set(ContextClaimsKey, claims)
		ctx.Next()
	}
}

// RequireAdmin aborts requests whose claims lack the admin role. Must run
// after GinMiddleware.
func RequireAdmin() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		claims := ClaimsFrom(ctx)
		if claims == nil || !claims.IsAdmin() {
			ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": gin.H{"code": "forbidden", "message": "admin role required"},
			})
			return
		}
		ctx.Next()
	}
}

// ClaimsFrom returns the validated claims stored by GinMiddleware, or nil.
func ClaimsFrom(ctx *gin.Context) *Claims {
	value, ok := ctx.Get(ContextClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := value.(*Claims)
	return claims
}
