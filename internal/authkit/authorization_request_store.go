package authkit

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	errEmptyAuthorizationRequest     = errors.New("authorization_request.empty")
	errMalformedAuthorizationRequest = errors.New("authorization_request.malformed")
)

// AuthorizationRequest is the in-flight OAuth2 request carried across the provider redirect.
type AuthorizationRequest struct {
	Provider             string            `json:"provider"`
	AuthorizationURI     string            `json:"authorization_uri"`
	ClientID             string            `json:"client_id"`
	RedirectURI          string            `json:"redirect_uri"`
	Scopes               []string          `json:"scopes,omitempty"`
	State                string            `json:"state"`
	CodeVerifier         string            `json:"code_verifier,omitempty"`
	AdditionalParameters map[string]string `json:"additional_parameters,omitempty"`
	ExpiresAt            time.Time         `json:"expires_at"`
}

// EncodeAuthorizationRequest serializes the envelope into a cookie-safe base64url string.
func EncodeAuthorizationRequest(envelope *AuthorizationRequest) (string, error) {
	if envelope == nil {
		return "", errEmptyAuthorizationRequest
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("authorization_request.encode: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(payload), nil
}

// DecodeAuthorizationRequest reverses EncodeAuthorizationRequest. Padded input is accepted.
func DecodeAuthorizationRequest(value string) (*AuthorizationRequest, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(value), "=")
	if trimmed == "" {
		return nil, errEmptyAuthorizationRequest
	}
	payload, err := base64.RawURLEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedAuthorizationRequest, err)
	}
	var envelope AuthorizationRequest
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedAuthorizationRequest, err)
	}
	if envelope.State == "" {
		return nil, fmt.Errorf("%w: missing state", errMalformedAuthorizationRequest)
	}
	return &envelope, nil
}

// AuthorizationRequestStore keeps the authorization request in a client-held cookie.
type AuthorizationRequestStore struct {
	clock    Clock
	ttl      time.Duration
	security CookieSecurity
	logger   *zap.Logger
}

// AuthorizationRequestStoreOption customizes an AuthorizationRequestStore.
type AuthorizationRequestStoreOption func(*AuthorizationRequestStore)

// WithAuthorizationRequestClock overrides the expiry time source.
func WithAuthorizationRequestClock(clock Clock) AuthorizationRequestStoreOption {
	return func(store *AuthorizationRequestStore) {
		if clock != nil {
			store.clock = clock
		}
	}
}

// WithAuthorizationRequestTTL overrides the cookie lifetime.
func WithAuthorizationRequestTTL(ttl time.Duration) AuthorizationRequestStoreOption {
	return func(store *AuthorizationRequestStore) {
		if ttl > 0 {
			store.ttl = ttl
		}
	}
}

// WithCookieSecurity sets domain and secure flags. SameSite stays Lax so the provider redirect carries the cookie back.
func WithCookieSecurity(security CookieSecurity) AuthorizationRequestStoreOption {
	return func(store *AuthorizationRequestStore) {
		store.security.Domain = security.Domain
		store.security.Secure = security.Secure
	}
}

// WithAuthorizationRequestLogger attaches a logger for discarded envelopes.
func WithAuthorizationRequestLogger(logger *zap.Logger) AuthorizationRequestStoreOption {
	return func(store *AuthorizationRequestStore) {
		if logger != nil {
			store.logger = logger
		}
	}
}

// NewAuthorizationRequestStore constructs a cookie-backed store.
func NewAuthorizationRequestStore(options ...AuthorizationRequestStoreOption) *AuthorizationRequestStore {
	store := &AuthorizationRequestStore{
		clock:    NewSystemClock(),
		ttl:      DefaultAuthorizationRequestTTL,
		security: CookieSecurity{Secure: true, SameSite: http.SameSiteLaxMode},
		logger:   zap.NewNop(),
	}
	for _, option := range options {
		option(store)
	}
	return store
}

// Save writes the envelope cookie; a nil envelope clears any existing one.
func (store *AuthorizationRequestStore) Save(jar CookieJar, envelope *AuthorizationRequest) error {
	if envelope == nil {
		store.Clear(jar)
		return nil
	}
	stored := *envelope
	if stored.ExpiresAt.IsZero() {
		stored.ExpiresAt = store.clock.Now().UTC().Add(store.ttl)
	}
	encoded, err := EncodeAuthorizationRequest(&stored)
	if err != nil {
		return err
	}
	addCookie(jar, store.security, AuthorizationRequestCookieName, encoded, int(store.ttl/time.Second))
	return nil
}

// Load returns the envelope carried by the request, if present, decodable, and unexpired.
func (store *AuthorizationRequestStore) Load(jar CookieJar) (*AuthorizationRequest, bool) {
	cookie, err := jar.Cookie(AuthorizationRequestCookieName)
	if err != nil || cookie == nil || cookie.Value == "" {
		return nil, false
	}
	envelope, decodeErr := DecodeAuthorizationRequest(cookie.Value)
	if decodeErr != nil {
		store.logger.Debug("discarding undecodable authorization request",
			zap.String("code", "oauth2.authorization_request.undecodable"),
			zap.Error(decodeErr))
		return nil, false
	}
	if !store.clock.Now().Before(envelope.ExpiresAt) {
		store.logger.Debug("discarding expired authorization request",
			zap.String("code", "oauth2.authorization_request.expired"),
			zap.String("provider", envelope.Provider))
		return nil, false
	}
	return envelope, true
}

// Remove returns the envelope at the point it is consumed. It does not clear the cookie.
func (store *AuthorizationRequestStore) Remove(jar CookieJar) (*AuthorizationRequest, bool) {
	return store.Load(jar)
}

// Clear expires the envelope cookie.
func (store *AuthorizationRequestStore) Clear(jar CookieJar) {
	deleteCookie(jar, store.security, AuthorizationRequestCookieName)
}
