/*
Package randx generates identifiers from crypto/rand: Base62 room ids and guest ids,
and UUIDs for connections and messages.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	// Base62Chars defines the character set used for Base62 encoding (0-9, A-Z, a-z).
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base62Len is the number of characters in Base62Chars.
	Base62Len = int64(len(Base62Chars))

	// RoomIDLength is the length of generated room ids.
	RoomIDLength = 8

	// GuestIDPrefix prefixes every guest user id.
	GuestIDPrefix = "guest_"

	// GuestIDRawLength is the length of the Base62 part of a guest id.
	GuestIDRawLength = 6
)

// base62 returns n random Base62 characters.
func base62(n int) (string, error) {
	result := make([]byte, n)

	for i := range n {
		num, err := rand.Int(rand.Reader, big.NewInt(Base62Len))
		if err != nil {
			return "", fmt.Errorf("failed to read random number: %w", err)
		}
		result[i] = Base62Chars[num.Int64()]
	}

	return string(result), nil
}

// RoomID generates a Base62 room id of RoomIDLength characters.
func RoomID() (string, error) {
	return base62(RoomIDLength)
}

// ConnectionID generates a UUID v4 identifying one socket connection.
func ConnectionID() string {
	return uuid.New().String()
}

// MessageID generates a UUID v4 identifying one chat message.
func MessageID() string {
	return uuid.New().String()
}

// GuestID generates an id of the form guest_XXXXXX.
func GuestID() (string, error) {
	raw, err := base62(GuestIDRawLength)
	if err != nil {
		return "", err
	}
	return GuestIDPrefix + raw, nil
}

// GuestName generates a display name of the form Guest_XXXX.
func GuestName() (string, error) {
	raw, err := base62(4)
	if err != nil {
		return "", err
	}
	return "Guest_" + raw, nil
}

// IsValidRoomID reports whether id has the room id length and alphabet.
func IsValidRoomID(id string) bool {
	return len(id) == RoomIDLength && isBase62(id)
}

// IsValidGuestID reports whether id is a well formed guest id.
func IsValidGuestID(id string) bool {
	rawID, ok := strings.CutPrefix(id, GuestIDPrefix)
	return ok && len(rawID) == GuestIDRawLength && isBase62(rawID)
}

func isBase62(s string) bool {
	for _, char := range s {
		if !strings.ContainsRune(Base62Chars, char) {
			return false
		}
	}
	return true
}
