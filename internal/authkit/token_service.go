package authkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// TokenService exchanges a refresh token for a new access token.
type TokenService struct {
	codec          *TokenCodec
	refreshTokens  RefreshTokenStore
	users          UserStore
	accessTokenTTL time.Duration
	logger         *zap.Logger
}

// TokenServiceOption customizes a TokenService.
type TokenServiceOption func(*TokenService)

// WithRefreshedAccessTokenTTL overrides the lifetime of exchanged access tokens.
func WithRefreshedAccessTokenTTL(ttl time.Duration) TokenServiceOption {
	return func(service *TokenService) {
		if ttl > 0 {
			service.accessTokenTTL = ttl
		}
	}
}

// WithTokenServiceLogger attaches a logger.
func WithTokenServiceLogger(logger *zap.Logger) TokenServiceOption {
	return func(service *TokenService) {
		if logger != nil {
			service.logger = logger
		}
	}
}

// NewTokenService constructs a refresh exchange service.
func NewTokenService(codec *TokenCodec, refreshTokens RefreshTokenStore, users UserStore, options ...TokenServiceOption) *TokenService {
	service := &TokenService{
		codec:          codec,
		refreshTokens:  refreshTokens,
		users:          users,
		accessTokenTTL: DefaultRefreshedAccessTokenTTL,
		logger:         zap.NewNop(),
	}
	for _, option := range options {
		option(service)
	}
	return service
}

// CreateNewAccessToken validates the refresh token, matches it against the stored record,
// resolves its user, and mints an access token. The refresh token is not rotated.
// Rejections wrap ErrInvalidToken; store outages are returned as-is.
func (service *TokenService) CreateNewAccessToken(ctx context.Context, refreshToken string) (string, error) {
	verdict := service.codec.Parse(refreshToken)
	if !verdict.Valid() {
		service.logger.Debug("refresh token rejected",
			zap.String("code", "auth.refresh.invalid_token"),
			zap.Error(verdict.Reason))
		return "", fmt.Errorf("token_service.verify: %w", ErrInvalidToken)
	}

	record, err := service.refreshTokens.FindByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrRefreshTokenNotFound) || errors.Is(err, ErrRefreshTokenEmpty) {
			service.logger.Debug("refresh token not current",
				zap.String("code", "auth.refresh.unknown_token"),
				zap.Int64("claimed_user_id", verdict.Claims.GetUserID()))
			return "", fmt.Errorf("token_service.lookup: %w", ErrInvalidToken)
		}
		return "", fmt.Errorf("token_service.lookup: %w", err)
	}

	user, err := service.users.FindByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			service.logger.Warn("refresh token owner missing",
				zap.String("code", "auth.refresh.orphaned_record"),
				zap.Int64("user_id", record.UserID))
			return "", fmt.Errorf("token_service.user: %w", ErrInvalidToken)
		}
		return "", fmt.Errorf("token_service.user: %w", err)
	}

	accessToken, err := service.codec.Issue(Principal{UserID: user.ID, Email: user.Email, Role: RoleUser}, service.accessTokenTTL)
	if err != nil {
		return "", fmt.Errorf("token_service.issue: %w", err)
	}
	return accessToken, nil
}

// Revoke drops the stored record that the refresh token is current for. Tokens that do not
// verify or are no longer current are ignored; store failures are returned.
func (service *TokenService) Revoke(ctx context.Context, refreshToken string) error {
	if !service.codec.IsValid(refreshToken) {
		return nil
	}
	record, err := service.refreshTokens.FindByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrRefreshTokenNotFound) || errors.Is(err, ErrRefreshTokenEmpty) {
			return nil
		}
		return fmt.Errorf("token_service.revoke.lookup: %w", err)
	}
	if err := service.refreshTokens.DeleteByUserID(ctx, record.UserID); err != nil {
		return fmt.Errorf("token_service.revoke.delete: %w", err)
	}
	service.logger.Debug("refresh token revoked",
		zap.String("code", "auth.refresh.revoked"),
		zap.Int64("user_id", record.UserID))
	return nil
}
