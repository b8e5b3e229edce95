package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// UserIDRegex validates user ID format
	UserIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// RoomIDRegex validates room ID format
	RoomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateRoomName validates a room display name
func ValidateRoomName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("room name is required")
	}
	if len(name) > 100 {
		return fmt.Errorf("room name is too long (max 100 characters)")
	}
	return nil
}

// ValidateRoomID validates a room identifier
func ValidateRoomID(id string) error {
	if id == "" {
		return fmt.Errorf("room id is required")
	}
	if len(id) > 64 {
		return fmt.Errorf("room id is too long (max 64 characters)")
	}
	if !RoomIDRegex.MatchString(id) {
		return fmt.Errorf("room id contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateUserID validates a user identifier
func ValidateUserID(id string) error {
	if id == "" {
		return fmt.Errorf("user id is required")
	}
	if len(id) > 64 {
		return fmt.Errorf("user id is too long (max 64 characters)")
	}
	if !UserIDRegex.MatchString(id) {
		return fmt.Errorf("user id contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateCapacity validates a room capacity against the configured maximum
func ValidateCapacity(capacity, max int) error {
	if capacity <= 0 {
		return fmt.Errorf("capacity must be > 0")
	}
	if capacity > max {
		return fmt.Errorf("capacity must be <= %d", max)
	}
	return nil
}
