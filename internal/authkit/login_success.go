package authkit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// LoginSuccessDependencies wires the login success handler.
type LoginSuccessDependencies struct {
	Codec                 *TokenCodec
	Users                 *FederatedUserService
	RefreshTokens         RefreshTokenStore
	AuthorizationRequests *AuthorizationRequestStore
	Logger                *zap.Logger
	Security              CookieSecurity
	RefreshTokenTTL       time.Duration
	AccessTokenTTL        time.Duration
	PostLoginPath         string
}

// LoginSuccessHandler mints tokens for a federated identity once its login completes.
type LoginSuccessHandler struct {
	codec                 *TokenCodec
	users                 *FederatedUserService
	refreshTokens         RefreshTokenStore
	authorizationRequests *AuthorizationRequestStore
	logger                *zap.Logger
	security              CookieSecurity
	refreshTokenTTL       time.Duration
	accessTokenTTL        time.Duration
	postLoginPath         string
}

// NewLoginSuccessHandler validates dependencies and applies default lifetimes.
func NewLoginSuccessHandler(dependencies LoginSuccessDependencies) (*LoginSuccessHandler, error) {
	if dependencies.Codec == nil || dependencies.Users == nil || dependencies.RefreshTokens == nil || dependencies.AuthorizationRequests == nil {
		return nil, errors.New("login_success.new: codec, users, refresh tokens, and authorization requests are required")
	}
	handler := &LoginSuccessHandler{
		codec:                 dependencies.Codec,
		users:                 dependencies.Users,
		refreshTokens:         dependencies.RefreshTokens,
		authorizationRequests: dependencies.AuthorizationRequests,
		logger:                dependencies.Logger,
		security:              dependencies.Security,
		refreshTokenTTL:       dependencies.RefreshTokenTTL,
		accessTokenTTL:        dependencies.AccessTokenTTL,
		postLoginPath:         dependencies.PostLoginPath,
	}
	if handler.logger == nil {
		handler.logger = zap.NewNop()
	}
	if handler.refreshTokenTTL <= 0 {
		handler.refreshTokenTTL = DefaultRefreshTokenTTL
	}
	if handler.accessTokenTTL <= 0 {
		handler.accessTokenTTL = DefaultAccessTokenTTL
	}
	if handler.postLoginPath == "" {
		handler.postLoginPath = DefaultPostLoginPath
	}
	return handler, nil
}

// OnAuthenticationSuccess resolves the user, persists a fresh refresh token, sets the
// refresh cookie, clears the authorization request, and returns the redirect target.
// Nothing is written to the jar unless every step before it succeeded.
func (handler *LoginSuccessHandler) OnAuthenticationSuccess(ctx context.Context, jar CookieJar, attributes map[string]any) (string, error) {
	user, err := handler.users.SaveOrUpdate(ctx, attributes)
	if err != nil {
		return "", fmt.Errorf("login_success.user: %w", err)
	}
	principal := Principal{UserID: user.ID, Email: user.Email, Role: RoleUser}

	refreshToken, err := handler.codec.Issue(principal, handler.refreshTokenTTL)
	if err != nil {
		return "", fmt.Errorf("login_success.refresh_token: %w", err)
	}
	if err := handler.saveRefreshToken(ctx, user.ID, refreshToken); err != nil {
		return "", err
	}

	accessToken, err := handler.codec.Issue(principal, handler.accessTokenTTL)
	if err != nil {
		return "", fmt.Errorf("login_success.access_token: %w", err)
	}

	deleteCookie(jar, handler.security, RefreshTokenCookieName)
	addCookie(jar, handler.security, RefreshTokenCookieName, refreshToken, int(handler.refreshTokenTTL/time.Second))
	handler.authorizationRequests.Clear(jar)

	handler.logger.Info("federated login succeeded",
		zap.String("code", "auth.login.success"),
		zap.Int64("user_id", user.ID))
	return handler.targetURL(accessToken), nil
}

func (handler *LoginSuccessHandler) saveRefreshToken(ctx context.Context, userID int64, refreshToken string) error {
	record, err := handler.refreshTokens.FindByUserID(ctx, userID)
	switch {
	case err == nil:
		record.Update(refreshToken)
	case errors.Is(err, ErrRefreshTokenNotFound):
		record = RefreshTokenRecord{UserID: userID, RefreshToken: refreshToken}
	default:
		return fmt.Errorf("login_success.refresh_lookup: %w", err)
	}
	if _, err := handler.refreshTokens.Save(ctx, record); err != nil {
		return fmt.Errorf("login_success.refresh_save: %w", err)
	}
	return nil
}

func (handler *LoginSuccessHandler) targetURL(accessToken string) string {
	query := url.Values{}
	query.Set("token", accessToken)
	return handler.postLoginPath + "?" + query.Encode()
}
