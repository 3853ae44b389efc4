package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRequiresPublicationURL(t *testing.T) {
	s := DefaultSettings()
	s.UserID = "alice"
	s.UserKey = "secret"
	assert.Error(t, s.Validate())

	s.PublicationURL = "https://publications.example/2026"
	assert.NoError(t, s.Validate())
}

func TestValidateRejectsOutOfRangeDebugLevel(t *testing.T) {
	s := DefaultSettings()
	s.PublicationURL = "https://publications.example/2026"
	s.UserID = "alice"
	s.UserKey = "secret"
	s.DebugLevel = 9
	assert.Error(t, s.Validate())
}

func TestDefaultShim(t *testing.T) {
	original := Default()
	defer SetDefault(original)

	custom := DefaultSettings()
	custom.UserID = "bob"
	SetDefault(custom)
	assert.Equal(t, "bob", Default().UserID)
}
