package jwt

import (
	"context"
	"errors"
	"fmt"

	"roomcast/internal/app/user"
	"roomcast/internal/pkg/randx"
)

// ErrMissingToken is returned when no token is presented and guests are not allowed.
var ErrMissingToken = errors.New("missing token")

// Authenticator resolves socket credentials into chat identities. Signed tokens map to
// registered users; an empty token yields a fresh guest when guests are allowed.
type Authenticator struct {
	secretKey   string
	allowGuests bool
}

// NewAuthenticator returns an Authenticator verifying tokens signed with secretKey.
func NewAuthenticator(secretKey string, allowGuests bool) *Authenticator {
	return &Authenticator{secretKey: secretKey, allowGuests: allowGuests}
}

// Authenticate validates token. A present but invalid token is always rejected, even
// when guests are allowed.
func (a *Authenticator) Authenticate(_ context.Context, token string) (user.User, error) {
	if token == "" {
		if !a.allowGuests {
			return user.User{}, ErrMissingToken
		}
		return newGuest()
	}

	payload, err := ParseToken(token, a.secretKey)
	if err != nil {
		return user.User{}, fmt.Errorf("parse token: %w", err)
	}

	return payload.User(), nil
}

func newGuest() (user.User, error) {
	id, err := randx.GuestID()
	if err != nil {
		return user.User{}, fmt.Errorf("generate guest id: %w", err)
	}

	name, err := randx.GuestName()
	if err != nil {
		return user.User{}, fmt.Errorf("generate guest name: %w", err)
	}

	return user.User{ID: id, Name: name, UserType: user.TypeGuest}, nil
}
