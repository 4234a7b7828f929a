// Package auth checks the shared API token.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidToken is returned for a missing or wrong token.
var ErrInvalidToken = errors.New("invalid or missing token")

// Source records where the active token came from.
type Source string

const (
	SourceEnv       Source = "env"
	SourceFile      Source = "file"
	SourceGenerated Source = "generated"
)

// Options locate the token. Token wins over File when set.
type Options struct {
	Token string
	File  string
}

// Checker validates request tokens against the configured one.
type Checker struct {
	token  []byte
	source Source
}

// Resolve finds the token from opts, generating and storing a new one
// when neither an explicit token nor a readable token file exists.
func Resolve(opts Options, logger *slog.Logger) (*Checker, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if t := strings.TrimSpace(opts.Token); t != "" {
		return &Checker{token: []byte(t), source: SourceEnv}, nil
	}
	if opts.File == "" {
		return nil, errors.New("no token and no token file configured")
	}

	data, err := os.ReadFile(opts.File)
	switch {
	case err == nil:
		if t := strings.TrimSpace(string(data)); t != "" {
			return &Checker{token: []byte(t), source: SourceFile}, nil
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	t, err := generate()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(opts.File), 0700); err != nil {
		return nil, fmt.Errorf("failed to create token directory: %w", err)
	}
	if err := os.WriteFile(opts.File, []byte(t+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("failed to write token file: %w", err)
	}
	logger.Info("Generated API token", "path", opts.File)
	return &Checker{token: []byte(t), source: SourceGenerated}, nil
}

// NewChecker wraps a known token.
func NewChecker(token string) *Checker {
	return &Checker{token: []byte(token), source: SourceEnv}
}

// Source reports where the token was loaded from.
func (c *Checker) Source() Source {
	return c.source
}

// Token returns the configured token.
func (c *Checker) Token() string {
	return string(c.token)
}

// Check compares candidate with the token in constant time.
func (c *Checker) Check(candidate string) error {
	if candidate == "" || len(c.token) == 0 {
		return ErrInvalidToken
	}
	if subtle.ConstantTimeCompare([]byte(candidate), c.token) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// BearerToken extracts the token from an Authorization: Bearer header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

func generate() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
