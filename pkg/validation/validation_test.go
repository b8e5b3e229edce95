package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRoomName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "evening math group", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"too long", strings.Repeat("a", 101), true},
		{"max length", strings.Repeat("a", 100), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRoomName(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRoomID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "room-123_abc", false},
		{"empty", "", true},
		{"too long", strings.Repeat("x", 65), true},
		{"spaces", "room 123", true},
		{"slash", "room/123", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRoomID(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateUserID(t *testing.T) {
	assert.NoError(t, ValidateUserID("user_42"))
	assert.Error(t, ValidateUserID(""))
	assert.Error(t, ValidateUserID("user!42"))
}

func TestValidateCapacity(t *testing.T) {
	assert.NoError(t, ValidateCapacity(8, 16))
	assert.NoError(t, ValidateCapacity(16, 16))
	assert.Error(t, ValidateCapacity(0, 16))
	assert.Error(t, ValidateCapacity(-1, 16))
	assert.Error(t, ValidateCapacity(17, 16))
}
