package authkit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("database.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("database.empty_database_url")
	errSQLiteEmptyPath     = errors.New("database.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("database.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("database.unsupported_no_scheme")
)

// Database owns a GORM connection shared by the user and refresh token stores.
type Database struct {
	db          *gorm.DB
	driverLabel string
}

type userRow struct {
	ID            int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Email         string `gorm:"column:email;uniqueIndex;not null"`
	Nickname      string `gorm:"column:nickname;not null;default:''"`
	CreatedAtUnix int64  `gorm:"column:created_at_unix;not null"`
	UpdatedAtUnix int64  `gorm:"column:updated_at_unix;not null"`
}

func (userRow) TableName() string {
	return "users"
}

type refreshTokenRow struct {
	ID            int64  `gorm:"column:id;primaryKey;autoIncrement"`
	UserID        int64  `gorm:"column:user_id;uniqueIndex;not null"`
	RefreshToken  string `gorm:"column:refresh_token;index;not null"`
	UpdatedAtUnix int64  `gorm:"column:updated_at_unix;not null"`
}

func (refreshTokenRow) TableName() string {
	return "refresh_tokens"
}

// OpenDatabase connects to databaseURL (postgres:// or sqlite://) and migrates the schema.
func OpenDatabase(ctx context.Context, databaseURL string) (*Database, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("database.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("database.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&userRow{}, &refreshTokenRow{}); migrateErr != nil {
		return nil, fmt.Errorf("database.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &Database{db: gormDB, driverLabel: driverLabel}, nil
}

// Driver exposes the selected database driver label.
func (database *Database) Driver() string {
	return database.driverLabel
}

// Users returns the GORM-backed user store.
func (database *Database) Users() *DatabaseUserStore {
	return &DatabaseUserStore{db: database.db, driverLabel: database.driverLabel}
}

// RefreshTokens returns the GORM-backed refresh token store.
func (database *Database) RefreshTokens() *DatabaseRefreshTokenStore {
	return &DatabaseRefreshTokenStore{db: database.db, driverLabel: database.driverLabel}
}

// Close releases the underlying connection pool.
func (database *Database) Close() error {
	sqlDB, err := database.db.DB()
	if err != nil {
		return fmt.Errorf("database.close.%s: %w", database.driverLabel, err)
	}
	return sqlDB.Close()
}

// DatabaseUserStore persists users using GORM.
type DatabaseUserStore struct {
	db          *gorm.DB
	driverLabel string
}

// FindByID returns the user with the given identity.
func (store *DatabaseUserStore) FindByID(ctx context.Context, userID int64) (User, error) {
	var row userRow
	if err := store.db.WithContext(ctx).Where("id = ?", userID).Take(&row).Error; err != nil {
		return User{}, store.wrapLookupError("find_by_id", err)
	}
	return row.toUser(), nil
}

// FindByEmail returns the user registered under the email.
func (store *DatabaseUserStore) FindByEmail(ctx context.Context, email string) (User, error) {
	var row userRow
	if err := store.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).Take(&row).Error; err != nil {
		return User{}, store.wrapLookupError("find_by_email", err)
	}
	return row.toUser(), nil
}

// Save creates the user when ID is zero (upserting on email), otherwise updates it.
func (store *DatabaseUserStore) Save(ctx context.Context, user User) (User, error) {
	emailKey := normalizeEmail(user.Email)
	if emailKey == "" {
		return User{}, fmt.Errorf("user_store.save.%s: %w", store.driverLabel, ErrMissingEmailAttribute)
	}
	nowUnix := time.Now().UTC().Unix()
	database := store.db.WithContext(ctx)
	if user.ID == 0 {
		row := userRow{Email: emailKey, Nickname: user.Nickname, CreatedAtUnix: nowUnix, UpdatedAtUnix: nowUnix}
		err := database.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email"}},
			DoUpdates: clause.AssignmentColumns([]string{"nickname", "updated_at_unix"}),
		}).Create(&row).Error
		if err != nil {
			return User{}, fmt.Errorf("user_store.save.%s: %w", store.driverLabel, err)
		}
		return store.FindByEmail(ctx, emailKey)
	}
	result := database.Model(&userRow{}).Where("id = ?", user.ID).Updates(map[string]any{
		"email":           emailKey,
		"nickname":        user.Nickname,
		"updated_at_unix": nowUnix,
	})
	if result.Error != nil {
		return User{}, fmt.Errorf("user_store.save.%s: %w", store.driverLabel, result.Error)
	}
	if result.RowsAffected == 0 {
		return User{}, fmt.Errorf("user_store.save.%s: %w", store.driverLabel, ErrUserNotFound)
	}
	return store.FindByID(ctx, user.ID)
}

func (store *DatabaseUserStore) wrapLookupError(operation string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("user_store.%s.%s: %w", operation, store.driverLabel, ErrUserNotFound)
	}
	return fmt.Errorf("user_store.%s.%s: %w", operation, store.driverLabel, err)
}

func (row userRow) toUser() User {
	return User{ID: row.ID, Email: row.Email, Nickname: row.Nickname}
}

// DatabaseRefreshTokenStore persists one refresh token per user using GORM.
type DatabaseRefreshTokenStore struct {
	db          *gorm.DB
	driverLabel string
}

// FindByUserID returns the record owned by the user.
func (store *DatabaseRefreshTokenStore) FindByUserID(ctx context.Context, userID int64) (RefreshTokenRecord, error) {
	var row refreshTokenRow
	if err := store.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error; err != nil {
		return RefreshTokenRecord{}, store.wrapLookupError("find_by_user_id", err)
	}
	return row.toRecord(), nil
}

// FindByRefreshToken returns the record whose current value equals the token.
func (store *DatabaseRefreshTokenStore) FindByRefreshToken(ctx context.Context, refreshToken string) (RefreshTokenRecord, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.find_by_token.%s: %w", store.driverLabel, ErrRefreshTokenEmpty)
	}
	var row refreshTokenRow
	if err := store.db.WithContext(ctx).Where("refresh_token = ?", refreshToken).Take(&row).Error; err != nil {
		return RefreshTokenRecord{}, store.wrapLookupError("find_by_token", err)
	}
	return row.toRecord(), nil
}

// Save upserts on user_id so concurrent logins leave a single row; the last writer wins.
func (store *DatabaseRefreshTokenStore) Save(ctx context.Context, record RefreshTokenRecord) (RefreshTokenRecord, error) {
	if record.UserID <= 0 {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.save.%s: %w", store.driverLabel, ErrUserNotFound)
	}
	if strings.TrimSpace(record.RefreshToken) == "" {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.save.%s: %w", store.driverLabel, ErrRefreshTokenEmpty)
	}
	row := refreshTokenRow{
		UserID:        record.UserID,
		RefreshToken:  record.RefreshToken,
		UpdatedAtUnix: time.Now().UTC().Unix(),
	}
	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"refresh_token", "updated_at_unix"}),
	}).Create(&row).Error
	if err != nil {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.save.%s: %w", store.driverLabel, err)
	}
	return store.FindByUserID(ctx, record.UserID)
}

// DeleteByUserID drops the user's record; it is a no-op when none exists.
func (store *DatabaseRefreshTokenStore) DeleteByUserID(ctx context.Context, userID int64) error {
	if err := store.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&refreshTokenRow{}).Error; err != nil {
		return fmt.Errorf("refresh_store.delete.%s: %w", store.driverLabel, err)
	}
	return nil
}

func (store *DatabaseRefreshTokenStore) wrapLookupError(operation string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("refresh_store.%s.%s: %w", operation, store.driverLabel, ErrRefreshTokenNotFound)
	}
	return fmt.Errorf("refresh_store.%s.%s: %w", operation, store.driverLabel, err)
}

func (row refreshTokenRow) toRecord() RefreshTokenRecord {
	return RefreshTokenRecord{ID: row.ID, UserID: row.UserID, RefreshToken: row.RefreshToken}
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("database.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("database.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("database.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("database.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
