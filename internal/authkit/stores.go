package authkit

import "context"

// User is the local account resolved from a federated identity.
type User struct {
	ID       int64
	Email    string
	Nickname string
}

// RefreshTokenRecord pairs a user with the single refresh token currently accepted for them.
type RefreshTokenRecord struct {
	ID           int64
	UserID       int64
	RefreshToken string
}

// Update overwrites the stored token value.
func (record *RefreshTokenRecord) Update(newRefreshToken string) {
	record.RefreshToken = newRefreshToken
}

// UserStore persists and retrieves application users. Lookups that match nothing wrap ErrUserNotFound.
type UserStore interface {
	FindByID(ctx context.Context, userID int64) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	Save(ctx context.Context, user User) (User, error)
}

// RefreshTokenStore persists at most one refresh token record per user. Lookups that match nothing wrap ErrRefreshTokenNotFound.
type RefreshTokenStore interface {
	FindByUserID(ctx context.Context, userID int64) (RefreshTokenRecord, error)
	FindByRefreshToken(ctx context.Context, refreshToken string) (RefreshTokenRecord, error)
	Save(ctx context.Context, record RefreshTokenRecord) (RefreshTokenRecord, error)
	DeleteByUserID(ctx context.Context, userID int64) error
}
