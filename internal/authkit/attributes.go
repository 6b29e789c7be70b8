package authkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/idtoken"
)

var (
	errMissingIDToken      = errors.New("oauth2.attributes.missing_id_token")
	errUserInfoStatus      = errors.New("oauth2.attributes.userinfo_status")
	errMissingUserInfoURL  = errors.New("oauth2.attributes.missing_endpoint")
	errMissingIDTokenCheck = errors.New("oauth2.attributes.missing_validator")
)

const maxUserInfoBytes = 1 << 20

// AttributeFetcher turns an exchanged provider token into the federated user attribute map.
type AttributeFetcher interface {
	FetchAttributes(ctx context.Context, config *oauth2.Config, token *oauth2.Token) (map[string]any, error)
}

// UserInfoAttributes reads attributes from the provider's userinfo endpoint.
type UserInfoAttributes struct {
	Endpoint string
}

// FetchAttributes issues an authenticated GET and decodes the JSON object.
func (fetcher UserInfoAttributes) FetchAttributes(ctx context.Context, config *oauth2.Config, token *oauth2.Token) (map[string]any, error) {
	if strings.TrimSpace(fetcher.Endpoint) == "" {
		return nil, errMissingUserInfoURL
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, fetcher.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("oauth2.attributes.request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	response, err := config.Client(ctx, token).Do(request)
	if err != nil {
		return nil, fmt.Errorf("oauth2.attributes.userinfo: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", errUserInfoStatus, response.StatusCode)
	}
	var attributes map[string]any
	if err := json.NewDecoder(io.LimitReader(response.Body, maxUserInfoBytes)).Decode(&attributes); err != nil {
		return nil, fmt.Errorf("oauth2.attributes.decode: %w", err)
	}
	return attributes, nil
}

// GoogleTokenValidator verifies Google ID tokens.
type GoogleTokenValidator interface {
	Validate(ctx context.Context, token string, audience string) (*idtoken.Payload, error)
}

// NewGoogleTokenValidator builds a validator backed by Google's published certificates.
func NewGoogleTokenValidator(ctx context.Context) (GoogleTokenValidator, error) {
	validator, err := idtoken.NewValidator(ctx)
	if err != nil {
		return nil, fmt.Errorf("oauth2.google_validator: %w", err)
	}
	return validator, nil
}

// GoogleIDTokenAttributes reads attributes from the id_token returned alongside the access token.
type GoogleIDTokenAttributes struct {
	Validator GoogleTokenValidator
	Audience  string
}

// FetchAttributes validates the id_token and returns its claims.
func (fetcher GoogleIDTokenAttributes) FetchAttributes(ctx context.Context, config *oauth2.Config, token *oauth2.Token) (map[string]any, error) {
	if fetcher.Validator == nil {
		return nil, errMissingIDTokenCheck
	}
	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		return nil, errMissingIDToken
	}
	audience := fetcher.Audience
	if audience == "" {
		audience = config.ClientID
	}
	payload, err := fetcher.Validator.Validate(ctx, rawIDToken, audience)
	if err != nil {
		return nil, fmt.Errorf("oauth2.attributes.id_token: %w", err)
	}
	attributes := make(map[string]any, len(payload.Claims)+1)
	for key, value := range payload.Claims {
		attributes[key] = value
	}
	if _, ok := attributes["sub"]; !ok && payload.Subject != "" {
		attributes["sub"] = payload.Subject
	}
	return attributes, nil
}
