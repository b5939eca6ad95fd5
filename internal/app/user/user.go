/*
Package user defines the identity of a chat participant as resolved by authentication.
*/
package user

const (
	// TypeGuest marks an identity issued to an anonymous connection.
	TypeGuest = "guest"

	// TypeRegistered marks an identity backed by a signed token.
	TypeRegistered = "registered"
)

// User is the authenticated identity attached to a connection.
// Several connections may carry the same User.
type User struct {
	// ID is the stable user id from the token, or a generated guest id.
	ID string `json:"id"`

	// Name is the display name shown to other participants.
	Name string `json:"name"`

	// Avatar is an optional avatar URL.
	Avatar string `json:"avatar,omitempty"`

	// UserType is TypeGuest or TypeRegistered.
	UserType string `json:"userType"`
}

// IsGuest reports whether the identity was issued without credentials.
func (u User) IsGuest() bool {
	return u.UserType == TypeGuest
}

// DisplayName returns Name, falling back to ID when no name is set.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}
