package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/patrik-fredon/rococua-muhah/internal/domain"
)

// Authenticator resolves a bearer token to the identity of an active user.
// Roles come from the user record, not from the token, so revoked roles take
// effect before the token expires.
type Authenticator struct {
	tokens *TokenManager
	users  domain.UserRepository
}

func NewAuthenticator(tokens *TokenManager, users domain.UserRepository) *Authenticator {
	return &Authenticator{tokens: tokens, users: users}
}

// Authenticate returns domain.ErrUnauthenticated for an empty token and an
// error wrapping domain.ErrInvalidToken for anything else that is wrong with
// the credential. Repository failures are returned as-is.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*domain.Identity, error) {
	claims, err := a.tokens.Verify(token)
	if err != nil {
		return nil, err
	}

	userID, err := claims.UserID()
	if err != nil {
		return nil, err
	}

	user, err := a.users.GetByID(ctx, userID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidToken, err)
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidToken, domain.ErrInactiveUser)
	}

	return &domain.Identity{
		UserID: user.ID,
		Email:  user.Email,
		Roles:  user.Roles,
	}, nil
}
