package authkit

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// AuthorizationRoutePrefix starts the login redirect for a provider.
	AuthorizationRoutePrefix = "/oauth2/authorization"
	// CallbackRoutePrefix receives the provider redirect.
	CallbackRoutePrefix = "/login/oauth2/code"
	// TokenRoutePath exchanges a refresh token for an access token.
	TokenRoutePath = "/api/token"
	// LogoutRoutePath clears the client-held credentials.
	LogoutRoutePath = "/logout"
)

type tokenExchangeRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// MountAuthRoutes registers the login redirect, provider callback, refresh exchange, and logout.
func MountAuthRoutes(router gin.IRouter, core *Core) {
	router.GET(AuthorizationRoutePrefix+"/:provider", core.handleAuthorization)
	router.GET(CallbackRoutePrefix+"/:provider", core.handleCallback)
	router.POST(TokenRoutePath, core.limiter.middleware(), core.handleTokenExchange)
	router.POST(LogoutRoutePath, core.handleLogout)
}

func (core *Core) handleAuthorization(contextGin *gin.Context) {
	providerName := contextGin.Param("provider")
	jar := NewHTTPCookieJar(contextGin.Request, contextGin.Writer)
	authorizationURL, err := core.Login.Begin(contextGin.Request.Context(), jar, providerName)
	if err != nil {
		if errors.Is(err, ErrUnknownProvider) {
			contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown_provider"})
			return
		}
		core.logger.Error("authorization redirect failed", zap.String("code", "oauth2.begin.failure"), zap.Error(err))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	contextGin.Redirect(http.StatusFound, authorizationURL)
}

func (core *Core) handleCallback(contextGin *gin.Context) {
	providerName := contextGin.Param("provider")
	jar := NewHTTPCookieJar(contextGin.Request, contextGin.Writer)
	ctx := contextGin.Request.Context()

	attributes, err := core.Login.Complete(ctx, jar, providerName, contextGin.Request.URL.Query())
	if err != nil {
		core.onAuthenticationFailure(contextGin, jar, providerName, err)
		return
	}
	target, err := core.LoginSuccess.OnAuthenticationSuccess(ctx, jar, attributes)
	if err != nil {
		core.onAuthenticationFailure(contextGin, jar, providerName, err)
		return
	}
	core.metrics.Increment(MetricLoginSuccess)
	contextGin.Redirect(http.StatusFound, target)
}

func (core *Core) onAuthenticationFailure(contextGin *gin.Context, jar CookieJar, providerName string, cause error) {
	core.AuthorizationRequests.Clear(jar)
	core.metrics.Increment(MetricLoginFailure)
	core.logger.Warn("federated login failed",
		zap.String("code", "auth.login.failure"),
		zap.String("provider", providerName),
		zap.Error(cause))
	contextGin.Redirect(http.StatusFound, core.configuration.LoginPath+"?error")
}

func (core *Core) handleTokenExchange(contextGin *gin.Context) {
	if !core.configuration.AllowInsecureHTTP && !isHTTPS(contextGin.Request) {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "https_required"})
		return
	}
	body, err := contextGin.GetRawData()
	if err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		return
	}
	var inbound tokenExchangeRequest
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &inbound); err != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}
	}
	refreshToken := strings.TrimSpace(inbound.RefreshToken)
	if refreshToken == "" {
		if cookie, cookieErr := contextGin.Request.Cookie(RefreshTokenCookieName); cookieErr == nil && cookie != nil {
			refreshToken = strings.TrimSpace(cookie.Value)
		}
	}

	accessToken, err := core.Tokens.CreateNewAccessToken(contextGin.Request.Context(), refreshToken)
	if err != nil {
		core.metrics.Increment(MetricRefreshFailure)
		if errors.Is(err, ErrInvalidToken) {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}
		core.logger.Error("refresh exchange failed", zap.String("code", "auth.refresh.failure"), zap.Error(err))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	core.metrics.Increment(MetricRefreshSuccess)
	contextGin.JSON(http.StatusCreated, gin.H{"accessToken": accessToken})
}

func (core *Core) handleLogout(contextGin *gin.Context) {
	if cookie, err := contextGin.Request.Cookie(RefreshTokenCookieName); err == nil && cookie != nil {
		if revokeErr := core.Tokens.Revoke(contextGin.Request.Context(), cookie.Value); revokeErr != nil {
			core.logger.Warn("refresh token revoke failed", zap.String("code", "auth.logout.revoke_failure"), zap.Error(revokeErr))
		}
	}
	jar := NewHTTPCookieJar(contextGin.Request, contextGin.Writer)
	deleteCookie(jar, core.configuration.cookieSecurity(), RefreshTokenCookieName)
	core.AuthorizationRequests.Clear(jar)
	core.metrics.Increment(MetricLogoutSuccess)
	contextGin.Redirect(http.StatusFound, core.configuration.LoginPath)
}

func isHTTPS(request *http.Request) bool {
	if request.TLS != nil {
		return true
	}
	scheme := request.Header.Get("X-Forwarded-Proto")
	if strings.EqualFold(scheme, "https") {
		return true
	}
	forwarded := request.Header.Get("Forwarded")
	if forwarded != "" && strings.Contains(strings.ToLower(forwarded), "proto=https") {
		return true
	}
	host, _, splitErr := net.SplitHostPort(request.Host)
	if splitErr != nil {
		host = request.Host
	}
	return host == "localhost"
}
