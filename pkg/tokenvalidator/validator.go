package tokenvalidator

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// Now returns the current UTC timestamp.
func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Config configures the Validator.
type Config struct {
	SigningKey []byte
	Issuer     string
	Clock      Clock
}

// DefaultContextKey is used by GinMiddleware when no explicit key is provided.
const DefaultContextKey = "auth_claims"

// AuthorizationHeader carries the bearer credential.
const AuthorizationHeader = "Authorization"

// BearerPrefix must precede the token in the authorization header, byte for byte.
const BearerPrefix = "Bearer "

// Sentinel errors exposed by the validator.
var (
	ErrMissingSigningKey = errors.New("token.validator.missing_signing_key")
	ErrMissingIssuer     = errors.New("token.validator.missing_issuer")
	ErrMissingToken      = errors.New("token.validator.missing_token")
	ErrMalformedToken    = errors.New("token.validator.malformed")
	ErrInvalidSignature  = errors.New("token.validator.invalid_signature")
	ErrInvalidToken      = errors.New("token.validator.invalid_token")
	ErrInvalidIssuer     = errors.New("token.validator.invalid_issuer")
	ErrTokenExpired      = errors.New("token.validator.expired")
	ErrMissingIdentity   = errors.New("token.validator.missing_identity")
)

// Validator validates HS256 access and refresh tokens.
type Validator struct {
	signingKey []byte
	issuer     string
	clock      Clock
}

// Claims represent the payload embedded inside blog auth tokens.
// The subject carries the user email and the id claim the stable user identity.
type Claims struct {
	UserID int64 `json:"id"`
	jwt.RegisteredClaims
}

// GetUserID returns the user identity from the token.
func (claims *Claims) GetUserID() int64 {
	if claims == nil {
		return 0
	}
	return claims.UserID
}

// GetUserEmail returns the email carried in the subject claim.
func (claims *Claims) GetUserEmail() string {
	if claims == nil {
		return ""
	}
	return claims.Subject
}

// GetExpiresAt returns the expiry timestamp.
func (claims *Claims) GetExpiresAt() time.Time {
	if claims == nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// New constructs a Validator after validating the supplied configuration.
func New(configuration Config) (*Validator, error) {
	if len(configuration.SigningKey) == 0 {
		return nil, fmt.Errorf("token.validator.new: %w", ErrMissingSigningKey)
	}
	if strings.TrimSpace(configuration.Issuer) == "" {
		return nil, fmt.Errorf("token.validator.new: %w", ErrMissingIssuer)
	}
	clock := configuration.Clock
	if clock == nil {
		clock = systemClock{}
	}
	return &Validator{
		signingKey: configuration.SigningKey,
		issuer:     configuration.Issuer,
		clock:      clock,
	}, nil
}

// ValidateToken validates the provided JWT string and returns the parsed claims.
// A token is accepted strictly before its exp instant; at exp it is already expired.
func (validator *Validator) ValidateToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("token.validator.validate_token: %w", ErrMissingToken)
	}
	parsedToken, parseErr := jwt.ParseWithClaims(tokenString, &Claims{}, func(parsed *jwt.Token) (interface{}, error) {
		return validator.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(validator.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(func() time.Time {
			return validator.clock.Now()
		}),
	)
	if parseErr != nil {
		return nil, fmt.Errorf("token.validator.validate_token: %w", classifyParseError(parseErr))
	}
	if parsedToken == nil || !parsedToken.Valid {
		return nil, fmt.Errorf("token.validator.validate_token: %w", ErrInvalidToken)
	}
	claims, ok := parsedToken.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("token.validator.validate_token: %w", ErrInvalidToken)
	}
	if claims.UserID <= 0 || strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("token.validator.validate_token: %w", ErrMissingIdentity)
	}
	return claims, nil
}

// ValidateRequest reads the bearer token from the authorization header and validates it.
func (validator *Validator) ValidateRequest(request *http.Request) (*Claims, error) {
	if request == nil {
		return nil, fmt.Errorf("token.validator.validate_request: %w", ErrMissingToken)
	}
	tokenValue, found := BearerToken(request.Header.Get(AuthorizationHeader))
	if !found {
		return nil, fmt.Errorf("token.validator.validate_request: %w", ErrMissingToken)
	}
	return validator.ValidateToken(tokenValue)
}

// GinMiddleware returns a Gin middleware that rejects requests without a valid bearer token.
func (validator *Validator) GinMiddleware(contextKey string) gin.HandlerFunc {
	if strings.TrimSpace(contextKey) == "" {
		contextKey = DefaultContextKey
	}
	return func(contextGin *gin.Context) {
		claims, err := validator.ValidateRequest(contextGin.Request)
		if err != nil {
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		contextGin.Set(contextKey, claims)
		contextGin.Next()
	}
}

// BearerToken strips the exact "Bearer " prefix from an authorization header value.
func BearerToken(headerValue string) (string, bool) {
	if !strings.HasPrefix(headerValue, BearerPrefix) {
		return "", false
	}
	tokenValue := headerValue[len(BearerPrefix):]
	if tokenValue == "" {
		return "", false
	}
	return tokenValue, true
}

func classifyParseError(parseErr error) error {
	switch {
	case errors.Is(parseErr, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(parseErr, jwt.ErrTokenInvalidIssuer):
		return ErrInvalidIssuer
	case errors.Is(parseErr, jwt.ErrTokenSignatureInvalid):
		return ErrInvalidSignature
	case errors.Is(parseErr, jwt.ErrTokenMalformed):
		return ErrMalformedToken
	default:
		return ErrInvalidToken
	}
}
