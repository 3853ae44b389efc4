// Package config holds the process-wide settings spec.md §5 describes:
// publication URL, extender URL, user id, user key, debug-level, and
// "show verified" flag, initialized once by the caller before the first
// verification session and read-only afterward. Modeled on the teacher's
// ServerConfig (cmd/lognode/main.go) for the struct/defaults/env-override
// shape and on its go-playground/validator usage (internal/events) for
// field validation.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// Settings is the process-wide configuration value. verifier.New does not
// take it: a caller reads it itself (cmd/logsigdemo uses DebugLevel for
// its logger), and apart from Validate nothing in this module uses the
// URL, user or ShowVerified fields.
type Settings struct {
	PublicationURL string `validate:"required,url"`
	ExtenderURL    string `validate:"omitempty,url"`
	UserID         string `validate:"required"`
	UserKey        string `validate:"required"`
	DebugLevel     int    `validate:"gte=0,lte=3"`
	ShowVerified   bool
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("url", validateURL)
}

func validateURL(fl validator.FieldLevel) bool {
	raw := fl.Field().String()
	if raw == "" {
		return true
	}
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Validate checks Settings against its struct tags.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("config: invalid settings: %w", err)
	}
	return nil
}

// DefaultSettings returns conservative zero-network defaults; callers are
// expected to override PublicationURL/UserID/UserKey before use.
func DefaultSettings() Settings {
	return Settings{
		DebugLevel:   0,
		ShowVerified: false,
	}
}

// FromEnv overlays environment variable overrides onto s, mirroring the
// teacher's LOGNODE_* env-var convention.
func FromEnv(s Settings) Settings {
	if v := os.Getenv("LOGSIG_PUBLICATION_URL"); v != "" {
		s.PublicationURL = v
	}
	if v := os.Getenv("LOGSIG_EXTENDER_URL"); v != "" {
		s.ExtenderURL = v
	}
	if v := os.Getenv("LOGSIG_USER_ID"); v != "" {
		s.UserID = v
	}
	if v := os.Getenv("LOGSIG_USER_KEY"); v != "" {
		s.UserKey = v
	}
	if v := os.Getenv("LOGSIG_DEBUG_LEVEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.DebugLevel = n
		}
	}
	if v := os.Getenv("LOGSIG_SHOW_VERIFIED"); v != "" {
		s.ShowVerified = v == "1" || v == "true"
	}
	return s
}

// defaultSettings is the thin global-defaults compatibility shim spec.md
// §9 calls for, for callers that still want ambient configuration instead
// of threading Settings through every call explicitly.
var defaultSettings = DefaultSettings()

// SetDefault installs s as the process-wide default Settings returned by
// Default. It must be called before the first verification session
// starts; sessions never mutate it.
func SetDefault(s Settings) {
	defaultSettings = s
}

// Default returns the process-wide default Settings.
func Default() Settings {
	return defaultSettings
}
