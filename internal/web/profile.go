package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/blogauth/internal/authkit"
	"go.uber.org/zap"
)

// HandleWhoAmI returns the authenticated principal joined with its stored profile.
func HandleWhoAmI(logger *zap.Logger, users authkit.UserStore) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	if users == nil {
		panic("user store is required")
	}

	return func(contextGin *gin.Context) {
		principal, found := authkit.PrincipalFromContext(contextGin.Request.Context())
		if !found {
			logger.Warn("missing principal on context",
				zap.String("code", "api.me.missing_principal"))
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		user, lookupErr := users.FindByID(contextGin.Request.Context(), principal.UserID)
		if lookupErr != nil {
			if errors.Is(lookupErr, authkit.ErrUserNotFound) {
				logger.Warn("user profile missing",
					zap.String("code", "api.me.profile_missing"),
					zap.Int64("user_id", principal.UserID))
				contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
				return
			}
			logger.Error("user profile lookup error",
				zap.String("code", "api.me.profile_error"),
				zap.Int64("user_id", principal.UserID),
				zap.Error(lookupErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		contextGin.JSON(http.StatusOK, gin.H{
			"id":       user.ID,
			"email":    principal.Email,
			"nickname": user.Nickname,
			"role":     principal.Role,
		})
	}
}
