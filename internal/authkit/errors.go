package authkit

import "errors"

var (
	// ErrInvalidToken is returned whenever a token cannot be trusted or exchanged.
	ErrInvalidToken = errors.New("token.invalid")
	// ErrUserNotFound indicates no user matched the lookup.
	ErrUserNotFound = errors.New("user_store.not_found")
	// ErrRefreshTokenNotFound indicates no refresh token record matched the lookup.
	ErrRefreshTokenNotFound = errors.New("refresh_store.not_found")
	// ErrRefreshTokenEmpty indicates that the provided refresh token text is empty.
	ErrRefreshTokenEmpty = errors.New("refresh_store.empty_token")
	// ErrMissingEmailAttribute indicates the federated identity carried no email.
	ErrMissingEmailAttribute = errors.New("oauth2.missing_email")
	// ErrUnknownProvider indicates the requested OAuth2 provider is not registered.
	ErrUnknownProvider = errors.New("oauth2.unknown_provider")
	// ErrAuthorizationRequestNotFound indicates the callback carried no usable authorization request.
	ErrAuthorizationRequestNotFound = errors.New("oauth2.authorization_request_not_found")
	// ErrStateMismatch indicates the callback state does not match the stored authorization request.
	ErrStateMismatch = errors.New("oauth2.state_mismatch")
	// ErrProviderDenied indicates the identity provider returned an error to the callback.
	ErrProviderDenied = errors.New("oauth2.provider_denied")
	// ErrMissingAuthorizationCode indicates the callback carried no authorization code.
	ErrMissingAuthorizationCode = errors.New("oauth2.missing_code")
)
