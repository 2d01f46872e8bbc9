package model

import (
	"strings"
	"time"

	"telegram-stream-access/internal/domain"
)

// AuthorizedUser is a chat user holding a time-bounded entitlement.
type AuthorizedUser struct {
	ID          int64
	DisplayName string
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func NewAuthorizedUser(id int64, displayName string, expiresAt, now time.Time) (*AuthorizedUser, error) {
	if id <= 0 {
		return nil, domain.Invalid("user id", "must be a positive number")
	}
	return &AuthorizedUser{
		ID:          id,
		DisplayName: strings.TrimSpace(displayName),
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// IsActive reports whether the entitlement is still valid at now.
func (u *AuthorizedUser) IsActive(now time.Time) bool {
	return u != nil && now.Before(u.ExpiresAt)
}

// Extend adds months to the entitlement. Remaining time is kept: the base is
// the later of now and the current expiry.
func (u *AuthorizedUser) Extend(months int, now time.Time) {
	u.ExpiresAt = AddMonths(ExtendFrom(u.ExpiresAt, now), months)
	u.UpdatedAt = now
}

// ExtendFrom returns the instant an extension should start from.
func ExtendFrom(current, now time.Time) time.Time {
	if current.After(now) {
		return current
	}
	return now
}

// AddMonths moves t by whole calendar months. A day past the end of the target
// month is clamped to its last day, the way Postgres adds a month interval:
// Jan 31 plus one month is Feb 28 (29 in leap years), never early March.
func AddMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := first.AddDate(0, 1, -1).Day(); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}
