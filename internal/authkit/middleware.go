package authkit

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/blogauth/pkg/tokenvalidator"
)

type principalContextKey struct{}

// WithPrincipal returns a context carrying the authenticated principal.
func WithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// PrincipalFromContext returns the principal installed by TokenAuthenticationFilter.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(Principal)
	return principal, ok
}

// TokenAuthenticationFilter installs the principal for a valid bearer token and always
// forwards the request. Missing, malformed, and invalid credentials leave the context empty.
func TokenAuthenticationFilter(codec *TokenCodec) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		tokenString, present := tokenvalidator.BearerToken(contextGin.GetHeader(tokenvalidator.AuthorizationHeader))
		if present && codec.IsValid(tokenString) {
			if principal, err := codec.Authenticate(tokenString); err == nil {
				contextGin.Request = contextGin.Request.WithContext(WithPrincipal(contextGin.Request.Context(), principal))
			}
		}
		contextGin.Next()
	}
}

// RequirePrincipal rejects requests that reach it without an authenticated principal.
func RequirePrincipal() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		if _, ok := PrincipalFromContext(contextGin.Request.Context()); !ok {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		contextGin.Next()
	}
}
