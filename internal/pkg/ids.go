package pkg

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateGameID returns a short id suitable for sharing between players.
func GenerateGameID() string {
	return strings.Split(uuid.NewString(), "-")[0]
}

// GenerateClientID returns a stable client identity for a session cookie.
func GenerateClientID() string {
	return uuid.NewString()
}

// GenerateConnID identifies one physical socket.
func GenerateConnID() string {
	return uuid.NewString()
}
