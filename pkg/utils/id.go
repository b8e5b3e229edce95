package utils

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// GenerateRoomID generates a unique room ID
func GenerateRoomID() string {
	return uuid.NewString()
}

// GenerateSessionID generates a unique per-connection session ID
func GenerateSessionID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return "session_" + hex.EncodeToString(b)
}
