package mail

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposerLinks(t *testing.T) {
	composer := NewComposer("https://api.finora.test", "https://app.finora.test")

	tests := []struct {
		name    string
		compose func() (Message, error)
		subject string
		link    string
	}{
		{
			name:    "verification points at the api",
			compose: func() (Message, error) { return composer.Verification("ana@example.com", "Ana", "abc.def-ghi") },
			subject: "Verify Your Email Address",
			link:    "https://api.finora.test/api/auth/verify-email?token=abc.def-ghi",
		},
		{
			name:    "reset points at the client",
			compose: func() (Message, error) { return composer.PasswordReset("ana@example.com", "Ana", "abc.def-ghi") },
			subject: "Reset Your Password",
			link:    "https://app.finora.test/auth/reset-password?token=abc.def-ghi",
		},
		{
			name:    "welcome points at the dashboard",
			compose: func() (Message, error) { return composer.Welcome("ana@example.com", "Ana") },
			subject: "Welcome to Finora!",
			link:    "https://app.finora.test/dashboard",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := tt.compose()
			require.NoError(t, err)
			assert.Equal(t, "ana@example.com", msg.To)
			assert.Equal(t, tt.subject, msg.Subject)
			assert.Contains(t, msg.HTML, `href="`+tt.link+`"`)
			assert.Contains(t, msg.HTML, "Ana")
		})
	}
}

func TestComposerEscapesNames(t *testing.T) {
	msg, err := NewComposer("https://api.finora.test", "https://app.finora.test").
		Welcome("ana@example.com", `<script>alert("x")</script>`)
	require.NoError(t, err)
	assert.False(t, strings.Contains(msg.HTML, "<script>"))
	assert.Contains(t, msg.HTML, "&lt;script&gt;")
}
