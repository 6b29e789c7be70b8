package authkit

import (
	"net/http"
	"time"
)

const (
	// RefreshTokenCookieName holds the long-lived refresh token.
	RefreshTokenCookieName = "refresh_token"
	// AuthorizationRequestCookieName holds the in-flight OAuth2 authorization request.
	AuthorizationRequestCookieName = "oauth2_auth_request"

	// DefaultAccessTokenTTL is the lifetime of the access token minted at login.
	DefaultAccessTokenTTL = 24 * time.Hour
	// DefaultRefreshedAccessTokenTTL is the lifetime of access tokens minted by the refresh exchange.
	DefaultRefreshedAccessTokenTTL = 2 * time.Hour
	// DefaultRefreshTokenTTL is the refresh token lifetime.
	DefaultRefreshTokenTTL = 14 * 24 * time.Hour
	// DefaultAuthorizationRequestTTL bounds the OAuth2 redirect round trip.
	DefaultAuthorizationRequestTTL = 18000 * time.Second

	// DefaultPostLoginPath receives the access token after a successful login.
	DefaultPostLoginPath = "/articles"
	// DefaultLoginPath is where failed and finished sessions land.
	DefaultLoginPath = "/login"
)

// ServerConfig configures the issuer, signing secret, cookies, and token lifetimes.
type ServerConfig struct {
	JWTIssuer               string
	JWTSigningKey           []byte
	CookieDomain            string
	SameSiteMode            http.SameSite
	AllowInsecureHTTP       bool
	AccessTokenTTL          time.Duration
	RefreshedAccessTokenTTL time.Duration
	RefreshTokenTTL         time.Duration
	AuthorizationRequestTTL time.Duration
	PostLoginPath           string
	LoginPath               string
	TokenRateLimit          float64
	TokenRateBurst          int
}

// withDefaults fills unset lifetimes and paths.
func (configuration ServerConfig) withDefaults() ServerConfig {
	if configuration.AccessTokenTTL <= 0 {
		configuration.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if configuration.RefreshedAccessTokenTTL <= 0 {
		configuration.RefreshedAccessTokenTTL = DefaultRefreshedAccessTokenTTL
	}
	if configuration.RefreshTokenTTL <= 0 {
		configuration.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if configuration.AuthorizationRequestTTL <= 0 {
		configuration.AuthorizationRequestTTL = DefaultAuthorizationRequestTTL
	}
	if configuration.PostLoginPath == "" {
		configuration.PostLoginPath = DefaultPostLoginPath
	}
	if configuration.LoginPath == "" {
		configuration.LoginPath = DefaultLoginPath
	}
	if configuration.SameSiteMode == 0 {
		configuration.SameSiteMode = http.SameSiteLaxMode
	}
	return configuration
}

func (configuration ServerConfig) cookieSecurity() CookieSecurity {
	return CookieSecurity{
		Domain:   configuration.CookieDomain,
		Secure:   !configuration.AllowInsecureHTTP,
		SameSite: configuration.SameSiteMode,
	}
}
