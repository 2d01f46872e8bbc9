package model

import (
	"strings"
	"time"
)

const (
	MinKeyMonths = 1
	MaxKeyMonths = 24
)

// LicenseKey is a single-use token redeemable for an entitlement of fixed duration.
type LicenseKey struct {
	KeyText        string
	DurationMonths int
	CreatedAt      time.Time
	Used           bool
	UsedBy         *int64     // Pointer to allow for NULL
	UsedAt         *time.Time // Pointer to allow for NULL
}

// NormalizeKey canonicalises user-typed key text.
func NormalizeKey(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Redemption is the outcome of a successful key redemption.
type Redemption struct {
	Key  LicenseKey
	User AuthorizedUser
}
