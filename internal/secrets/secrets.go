// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads API keys and credentials from a directory of plain-text files.
// Each file in the directory represents one secret: the filename is the key name and the
// file contents (trimmed) are the value.
//
// Known key files: groq-api-key, twocaptcha-api-key, telegram-token, polite-contact,
// and iranpaper-email-<n> / iranpaper-password-<n> for account slots.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/dastyar-team/dastyar/internal/logging"
)

// Key files read by the CLI.
const (
	AIKey         = "groq-api-key"
	CaptchaKey    = "twocaptcha-api-key"
	TelegramToken = "telegram-token"
	Contact       = "polite-contact"
)

// DefaultDir is the secrets directory relative to the working directory.
const DefaultDir = ".secrets"

// Load reads all files in dir and returns a map of filename to trimmed contents.
// A missing directory is not an error; Load returns an empty map.
// Unreadable files are logged and skipped.
func Load(dir string, logger *log.Logger) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logging.OrDiscard(logger).Warn("secret_unreadable", "name", name, "err", err)
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// FileName maps an environment variable name to its key file:
// IRANPAPER_EMAIL_1 becomes iranpaper-email-1.
func FileName(env string) string {
	return strings.ReplaceAll(strings.ToLower(env), "_", "-")
}

// Lookup returns a function that reads env first and falls back to the
// key file named by FileName.
func Lookup(secrets map[string]string, env func(string) string) func(string) string {
	return func(key string) string {
		if env != nil {
			if v := strings.TrimSpace(env(key)); v != "" {
				return v
			}
		}
		return secrets[FileName(key)]
	}
}
