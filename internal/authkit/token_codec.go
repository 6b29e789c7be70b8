package authkit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tyemirov/blogauth/pkg/tokenvalidator"
)

// RoleUser is granted uniformly to every token holder.
const RoleUser = "ROLE_USER"

// Clock provides the current time.
type Clock = tokenvalidator.Clock

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// NewSystemClock returns a Clock backed by time.Now.
func NewSystemClock() Clock {
	return systemClock{}
}

var (
	errEmptySubject    = errors.New("subject must be non-empty")
	errMissingIdentity = errors.New("identity must be positive")
	errInvalidLifetime = errors.New("lifetime must be greater than zero")
)

// Principal identifies an authenticated actor for the lifetime of one request.
type Principal struct {
	UserID int64
	Email  string
	Role   string
}

// TokenConfig carries the issuer and the HMAC secret shared by issuance and verification.
type TokenConfig struct {
	Issuer     string
	SigningKey []byte
}

// TokenVerdict is the outcome of parsing an untrusted token string.
type TokenVerdict struct {
	Claims *tokenvalidator.Claims
	Reason error
}

// Valid reports whether the token verified and its claims can be trusted.
func (verdict TokenVerdict) Valid() bool {
	return verdict.Reason == nil && verdict.Claims != nil
}

// TokenCodec issues and verifies HS256 access and refresh tokens.
type TokenCodec struct {
	issuer     string
	signingKey []byte
	clock      Clock
	validator  *tokenvalidator.Validator
}

// TokenCodecOption customizes a TokenCodec.
type TokenCodecOption func(*TokenCodec)

// WithTokenClock overrides the time source used for iat, exp, and expiry checks.
func WithTokenClock(clock Clock) TokenCodecOption {
	return func(codec *TokenCodec) {
		if clock != nil {
			codec.clock = clock
		}
	}
}

// NewTokenCodec constructs a codec from explicit configuration.
func NewTokenCodec(configuration TokenConfig, options ...TokenCodecOption) (*TokenCodec, error) {
	codec := &TokenCodec{
		issuer:     configuration.Issuer,
		signingKey: configuration.SigningKey,
		clock:      NewSystemClock(),
	}
	for _, option := range options {
		option(codec)
	}
	validator, err := tokenvalidator.New(tokenvalidator.Config{
		SigningKey: codec.signingKey,
		Issuer:     codec.issuer,
		Clock:      codec.clock,
	})
	if err != nil {
		return nil, fmt.Errorf("token.codec.new: %w", err)
	}
	codec.validator = validator
	return codec, nil
}

// Issue signs a token for the principal that expires after lifetime.
func (codec *TokenCodec) Issue(principal Principal, lifetime time.Duration) (string, error) {
	if strings.TrimSpace(principal.Email) == "" {
		return "", fmt.Errorf("token.issue.failure: %w", errEmptySubject)
	}
	if principal.UserID <= 0 {
		return "", fmt.Errorf("token.issue.failure: %w", errMissingIdentity)
	}
	if lifetime <= 0 {
		return "", fmt.Errorf("token.issue.failure: %w", errInvalidLifetime)
	}
	issuedAt := codec.clock.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenvalidator.Claims{
		UserID: principal.UserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    codec.issuer,
			Subject:   principal.Email,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiryCeiling(issuedAt.Add(lifetime))),
		},
	})
	signed, err := token.SignedString(codec.signingKey)
	if err != nil {
		return "", fmt.Errorf("token.issue.sign: %w", err)
	}
	return signed, nil
}

// Parse classifies an untrusted token string. It never panics on malformed input.
func (codec *TokenCodec) Parse(tokenString string) TokenVerdict {
	claims, err := codec.validator.ValidateToken(tokenString)
	if err != nil {
		return TokenVerdict{Reason: err}
	}
	return TokenVerdict{Claims: claims}
}

// IsValid reports whether the token verifies under the configured secret and issuer and has not expired.
func (codec *TokenCodec) IsValid(tokenString string) bool {
	return codec.Parse(tokenString).Valid()
}

// Authenticate reconstructs the principal carried by a valid token.
func (codec *TokenCodec) Authenticate(tokenString string) (Principal, error) {
	verdict := codec.Parse(tokenString)
	if !verdict.Valid() {
		return Principal{}, fmt.Errorf("token.authenticate: %w", ErrInvalidToken)
	}
	return Principal{
		UserID: verdict.Claims.GetUserID(),
		Email:  verdict.Claims.GetUserEmail(),
		Role:   RoleUser,
	}, nil
}

// ExtractUserID returns the id claim of a valid token.
func (codec *TokenCodec) ExtractUserID(tokenString string) (int64, error) {
	verdict := codec.Parse(tokenString)
	if !verdict.Valid() {
		return 0, fmt.Errorf("token.extract_user_id: %w", ErrInvalidToken)
	}
	return verdict.Claims.GetUserID(), nil
}

// expiryCeiling rounds up to the whole second exp is encoded at, so a token is never
// shorter-lived than requested and is valid at the instant it is issued.
func expiryCeiling(expiresAt time.Time) time.Time {
	truncated := expiresAt.Truncate(time.Second)
	if truncated.Equal(expiresAt) {
		return expiresAt
	}
	return truncated.Add(time.Second)
}
