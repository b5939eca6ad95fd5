package jwt

import (
	"github.com/golang-jwt/jwt"

	"roomcast/internal/app/user"
)

// Payload is the claim set carried by roomcast identity tokens.
type Payload struct {
	// StandardClaims holds expiry, issue time and issuer.
	jwt.StandardClaims `json:"standard_claims"`

	// ID is the stable user id.
	ID string `json:"id"`

	// Name is the display name shown in rooms.
	Name string `json:"name"`

	// Avatar is an optional avatar URL.
	Avatar string `json:"avatar,omitempty"`

	// UserType is user.TypeRegistered for issued accounts, user.TypeGuest otherwise.
	UserType string `json:"user_type"`
}

// User converts the claims into the chat identity.
func (p *Payload) User() user.User {
	userType := p.UserType
	if userType == "" {
		userType = user.TypeRegistered
	}

	return user.User{
		ID:       p.ID,
		Name:     p.Name,
		Avatar:   p.Avatar,
		UserType: userType,
	}
}
