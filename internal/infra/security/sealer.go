// File: internal/infra/security/sealer.go
package security

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
)

// Sealer encrypts short secrets (mailbox passwords, stock credentials) for storage.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

var _ Sealer = (*AgeSealer)(nil)

// AgeSealer seals to its own X25519 recipient. Output is base64(age ciphertext).
type AgeSealer struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// NewAgeSealer parses an "AGE-SECRET-KEY-1..." identity.
func NewAgeSealer(identity string) (*AgeSealer, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, errors.New("age identity is required")
	}
	id, err := age.ParseX25519Identity(identity)
	if err != nil {
		return nil, fmt.Errorf("parse age identity: %w", err)
	}
	return &AgeSealer{identity: id, recipient: id.Recipient()}, nil
}

// NewEphemeralSealer generates a throwaway identity. Data sealed with it is
// unreadable after restart; dev runs only.
func NewEphemeralSealer() (*AgeSealer, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generate age identity: %w", err)
	}
	return &AgeSealer{identity: id, recipient: id.Recipient()}, nil
}

// Recipient is the public half, safe to log.
func (s *AgeSealer) Recipient() string { return s.recipient.String() }

func (s *AgeSealer) Seal(plaintext string) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.recipient)
	if err != nil {
		return "", fmt.Errorf("age encrypt: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("age write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("age close: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (s *AgeSealer) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), s.identity)
	if err != nil {
		return "", fmt.Errorf("age decrypt: %w", err)
	}
	pt, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("age read: %w", err)
	}
	return string(pt), nil
}
