package authkit

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Dependencies are the external collaborators of the authentication core.
type Dependencies struct {
	Users         UserStore
	RefreshTokens RefreshTokenStore
	Providers     []OAuthProvider
	Logger        *zap.Logger
	Metrics       MetricsRecorder
	Clock         Clock
}

// Core assembles the token codec, cookie store, login flow, and refresh service.
type Core struct {
	Codec                 *TokenCodec
	AuthorizationRequests *AuthorizationRequestStore
	LoginSuccess          *LoginSuccessHandler
	Tokens                *TokenService
	Login                 *OAuthLogin

	configuration ServerConfig
	logger        *zap.Logger
	metrics       MetricsRecorder
	limiter       *clientRateLimiter
}

// NewCore validates the configuration and wires every component.
func NewCore(configuration ServerConfig, dependencies Dependencies) (*Core, error) {
	if dependencies.Users == nil || dependencies.RefreshTokens == nil {
		return nil, errors.New("core.new: user and refresh token stores are required")
	}
	configuration = configuration.withDefaults()
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := dependencies.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	clock := dependencies.Clock
	if clock == nil {
		clock = NewSystemClock()
	}

	codec, err := NewTokenCodec(TokenConfig{Issuer: configuration.JWTIssuer, SigningKey: configuration.JWTSigningKey}, WithTokenClock(clock))
	if err != nil {
		return nil, fmt.Errorf("core.new: %w", err)
	}
	security := configuration.cookieSecurity()
	authorizationRequests := NewAuthorizationRequestStore(
		WithAuthorizationRequestClock(clock),
		WithAuthorizationRequestTTL(configuration.AuthorizationRequestTTL),
		WithCookieSecurity(security),
		WithAuthorizationRequestLogger(logger),
	)
	loginSuccess, err := NewLoginSuccessHandler(LoginSuccessDependencies{
		Codec:                 codec,
		Users:                 NewFederatedUserService(dependencies.Users),
		RefreshTokens:         dependencies.RefreshTokens,
		AuthorizationRequests: authorizationRequests,
		Logger:                logger,
		Security:              security,
		RefreshTokenTTL:       configuration.RefreshTokenTTL,
		AccessTokenTTL:        configuration.AccessTokenTTL,
		PostLoginPath:         configuration.PostLoginPath,
	})
	if err != nil {
		return nil, fmt.Errorf("core.new: %w", err)
	}
	login, err := NewOAuthLogin(authorizationRequests, dependencies.Providers, WithOAuthLoginLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("core.new: %w", err)
	}
	tokens := NewTokenService(codec, dependencies.RefreshTokens, dependencies.Users,
		WithRefreshedAccessTokenTTL(configuration.RefreshedAccessTokenTTL),
		WithTokenServiceLogger(logger),
	)

	return &Core{
		Codec:                 codec,
		AuthorizationRequests: authorizationRequests,
		LoginSuccess:          loginSuccess,
		Tokens:                tokens,
		Login:                 login,
		configuration:         configuration,
		logger:                logger,
		metrics:               metrics,
		limiter:               newClientRateLimiter(configuration.TokenRateLimit, configuration.TokenRateBurst, logger),
	}, nil
}
