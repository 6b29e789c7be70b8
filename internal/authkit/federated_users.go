package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	// AttributeEmail names the federated attribute that keys the local user.
	AttributeEmail = "email"
	// AttributeName names the federated display name attribute.
	AttributeName = "name"
)

// FederatedUserService resolves a local user from federated identity attributes.
type FederatedUserService struct {
	users UserStore
}

// NewFederatedUserService wraps a user store.
func NewFederatedUserService(users UserStore) *FederatedUserService {
	return &FederatedUserService{users: users}
}

// SaveOrUpdate finds the user by email and refreshes its nickname, or creates it.
func (service *FederatedUserService) SaveOrUpdate(ctx context.Context, attributes map[string]any) (User, error) {
	email := stringAttribute(attributes, AttributeEmail)
	if email == "" {
		return User{}, fmt.Errorf("federated_user.save_or_update: %w", ErrMissingEmailAttribute)
	}
	nickname := stringAttribute(attributes, AttributeName)

	user, err := service.users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		user.Nickname = nickname
	case errors.Is(err, ErrUserNotFound):
		user = User{Email: email, Nickname: nickname}
	default:
		return User{}, fmt.Errorf("federated_user.find: %w", err)
	}

	saved, saveErr := service.users.Save(ctx, user)
	if saveErr != nil {
		return User{}, fmt.Errorf("federated_user.save: %w", saveErr)
	}
	return saved, nil
}

func stringAttribute(attributes map[string]any, key string) string {
	value, ok := attributes[key]
	if !ok {
		return ""
	}
	text, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(text)
}
