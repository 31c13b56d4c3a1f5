// Package logging provides structured logging with automatic secret
// redaction. Credential material must never reach a log sink, so the
// secret-field helpers are applied by every layer that logs profile data.
package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Known secret field names that must be redacted in all log output.
var secretFieldNames = []string{
	"secretaccesskey",
	"sessiontoken",
	"secret_key",
	"secretkey",
	"secret",
	"password",
	"access_token",
	"accesstoken",
	"refresh_token",
	"refreshtoken",
	"clientsecret",
	"client_secret",
	"credentials",
	"token",
	"private_key",
	"privatekey",
	"passphrase",
	"mfa_code",
	"mfacode",
}

// RedactingWriter wraps an io.Writer for log output. The redaction itself
// happens at field-build time via IsSecretField/RedactValue; the writer
// exists as the single seam all log bytes pass through.
type RedactingWriter struct {
	inner io.Writer
}

// NewRedactingWriter creates a writer for redacted log output.
func NewRedactingWriter(inner io.Writer) *RedactingWriter {
	return &RedactingWriter{inner: inner}
}

func (rw *RedactingWriter) Write(p []byte) (n int, err error) {
	return rw.inner.Write(p)
}

// NewLogger creates a console logger at the given level.
func NewLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	writer := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}

	return zerolog.New(NewRedactingWriter(writer)).
		Level(lvl).
		With().
		Timestamp().
		Str("component", "credchain").
		Logger()
}

// NewJSONLogger creates a JSON-formatted logger for file output or machine
// consumption.
func NewJSONLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(NewRedactingWriter(w)).
		Level(lvl).
		With().
		Timestamp().
		Str("component", "credchain").
		Logger()
}

// IsSecretField checks if a field name is a known secret field that should
// be redacted.
func IsSecretField(fieldName string) bool {
	lower := strings.ToLower(fieldName)
	for _, secret := range secretFieldNames {
		if strings.Contains(lower, secret) {
			return true
		}
	}
	return false
}

// RedactValue replaces a secret value with a safe placeholder containing a
// hash prefix, so equal secrets remain correlatable across log lines.
func RedactValue(value string) string {
	if value == "" {
		return ""
	}
	h := sha256.Sum256([]byte(value))
	return "[REDACTED:sha256:" + hex.EncodeToString(h[:])[:8] + "]"
}
