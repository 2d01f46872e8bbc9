package model

import (
	"strings"
	"time"

	"telegram-stream-access/internal/domain"
)

// MailboxCredential lets the service log into an owner's mailbox.
// Secret is plaintext in memory only; repositories seal it at rest.
type MailboxCredential struct {
	OwnerID   int64
	Address   string
	Secret    string
	UpdatedAt time.Time
}

// ParseCredentialPair parses "address|secret" as typed into the chat.
func ParseCredentialPair(s string) (address, secret string, err error) {
	addr, sec, ok := strings.Cut(strings.TrimSpace(s), "|")
	if !ok {
		return "", "", domain.Invalid("credential", "expected address|password")
	}
	addr, sec = strings.TrimSpace(addr), strings.TrimSpace(sec)
	if err := ValidateCredential(addr, sec); err != nil {
		return "", "", err
	}
	return addr, sec, nil
}

// ValidateCredential checks an address/secret pair.
func ValidateCredential(address, secret string) error {
	at := strings.Index(address, "@")
	if at <= 0 || at == len(address)-1 || strings.ContainsAny(address, " \t") {
		return domain.Invalid("address", "must look like name@example.com")
	}
	if secret == "" {
		return domain.Invalid("password", "must not be empty")
	}
	return nil
}
