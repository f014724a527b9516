package validation

import (
	"testing"

	"github.com/onir-world/legal-chat-backend/internal/dto"
	"github.com/stretchr/testify/assert"
)

func TestStruct_Valid(t *testing.T) {
	msg := Struct(&dto.ChatRequest{Message: "What is a lease?", Language: "italian"})
	assert.Empty(t, msg)
}

func TestStruct_Messages(t *testing.T) {
	msg := Struct(&dto.RegisterRequest{Email: "not-an-email", Password: "short"})
	assert.Contains(t, msg, "field email must be a valid email address")
	assert.Contains(t, msg, "field password must be at least 8 characters")

	msg = Struct(&dto.ChatRequest{Language: "french"})
	assert.Contains(t, msg, "field message is a required field")
	assert.Contains(t, msg, "field language must be one of: english, italian")
}
