package authkit

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// OAuthProvider is one configured identity provider.
type OAuthProvider struct {
	Name       string
	Config     *oauth2.Config
	Attributes AttributeFetcher
}

// OAuthLogin drives the authorization code flow with PKCE, keeping its state in the envelope cookie.
type OAuthLogin struct {
	providers map[string]OAuthProvider
	requests  *AuthorizationRequestStore
	logger    *zap.Logger
}

// OAuthLoginOption customizes an OAuthLogin.
type OAuthLoginOption func(*OAuthLogin)

// WithOAuthLoginLogger attaches a logger.
func WithOAuthLoginLogger(logger *zap.Logger) OAuthLoginOption {
	return func(login *OAuthLogin) {
		if logger != nil {
			login.logger = logger
		}
	}
}

// NewOAuthLogin registers providers by name.
func NewOAuthLogin(requests *AuthorizationRequestStore, providers []OAuthProvider, options ...OAuthLoginOption) (*OAuthLogin, error) {
	login := &OAuthLogin{
		providers: make(map[string]OAuthProvider, len(providers)),
		requests:  requests,
		logger:    zap.NewNop(),
	}
	for _, provider := range providers {
		if provider.Name == "" || provider.Config == nil || provider.Attributes == nil {
			return nil, fmt.Errorf("oauth2.login.new: provider %q requires name, config, and attributes", provider.Name)
		}
		if _, exists := login.providers[provider.Name]; exists {
			return nil, fmt.Errorf("oauth2.login.new: duplicate provider %q", provider.Name)
		}
		login.providers[provider.Name] = provider
	}
	for _, option := range options {
		option(login)
	}
	return login, nil
}

// ProviderNames lists registered providers in lexical order.
func (login *OAuthLogin) ProviderNames() []string {
	names := make([]string, 0, len(login.providers))
	for name := range login.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Begin stores a fresh authorization request and returns the provider URL to redirect to.
func (login *OAuthLogin) Begin(ctx context.Context, jar CookieJar, providerName string) (string, error) {
	provider, ok := login.providers[providerName]
	if !ok {
		return "", fmt.Errorf("oauth2.begin.%s: %w", providerName, ErrUnknownProvider)
	}
	state, err := randomState()
	if err != nil {
		return "", fmt.Errorf("oauth2.begin.state: %w", err)
	}
	verifier := oauth2.GenerateVerifier()
	envelope := &AuthorizationRequest{
		Provider:         provider.Name,
		AuthorizationURI: provider.Config.Endpoint.AuthURL,
		ClientID:         provider.Config.ClientID,
		RedirectURI:      provider.Config.RedirectURL,
		Scopes:           provider.Config.Scopes,
		State:            state,
		CodeVerifier:     verifier,
	}
	if err := login.requests.Save(jar, envelope); err != nil {
		return "", fmt.Errorf("oauth2.begin.save: %w", err)
	}
	return provider.Config.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), nil
}

// Complete consumes the stored authorization request, validates the callback, exchanges
// the code, and returns the federated attributes.
func (login *OAuthLogin) Complete(ctx context.Context, jar CookieJar, providerName string, query url.Values) (map[string]any, error) {
	provider, ok := login.providers[providerName]
	if !ok {
		return nil, fmt.Errorf("oauth2.complete.%s: %w", providerName, ErrUnknownProvider)
	}
	envelope, found := login.requests.Remove(jar)
	if !found {
		return nil, fmt.Errorf("oauth2.complete.%s: %w", providerName, ErrAuthorizationRequestNotFound)
	}
	if envelope.Provider != provider.Name {
		return nil, fmt.Errorf("oauth2.complete.%s: envelope for %q: %w", providerName, envelope.Provider, ErrAuthorizationRequestNotFound)
	}
	if subtle.ConstantTimeCompare([]byte(envelope.State), []byte(query.Get("state"))) != 1 {
		return nil, fmt.Errorf("oauth2.complete.%s: %w", providerName, ErrStateMismatch)
	}
	if providerError := query.Get("error"); providerError != "" {
		return nil, fmt.Errorf("oauth2.complete.%s: %s: %w", providerName, providerError, ErrProviderDenied)
	}
	code := query.Get("code")
	if code == "" {
		return nil, fmt.Errorf("oauth2.complete.%s: %w", providerName, ErrMissingAuthorizationCode)
	}

	exchangeOptions := []oauth2.AuthCodeOption{}
	if envelope.CodeVerifier != "" {
		exchangeOptions = append(exchangeOptions, oauth2.VerifierOption(envelope.CodeVerifier))
	}
	token, err := provider.Config.Exchange(ctx, code, exchangeOptions...)
	if err != nil {
		return nil, fmt.Errorf("oauth2.complete.%s.exchange: %w", providerName, err)
	}
	attributes, err := provider.Attributes.FetchAttributes(ctx, provider.Config, token)
	if err != nil {
		return nil, fmt.Errorf("oauth2.complete.%s: %w", providerName, err)
	}
	login.logger.Debug("federated attributes fetched",
		zap.String("code", "oauth2.complete.attributes"),
		zap.String("provider", providerName),
		zap.Int("attribute_count", len(attributes)))
	return attributes, nil
}

func randomState() (string, error) {
	buffer := make([]byte, 32)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}
