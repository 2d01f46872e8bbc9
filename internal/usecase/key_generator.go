package usecase

import (
	"crypto/rand"
	"io"
)

const (
	licenseKeyPrefix = "NFX"
	// A character set that avoids ambiguous characters like O/0, I/1, l.
	// 32 symbols, so byte%32 is unbiased.
	licenseKeyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	licenseKeyGroups   = 3
	licenseKeyGroupLen = 4
)

// generateLicenseKey creates a random, human-readable key.
// Format: NFX-XXXX-XXXX-XXXX
func generateLicenseKey(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	n := licenseKeyGroups * licenseKeyGroupLen
	buffer := make([]byte, n)
	if _, err := io.ReadFull(r, buffer); err != nil {
		return "", err
	}

	out := make([]byte, 0, len(licenseKeyPrefix)+n+licenseKeyGroups)
	out = append(out, licenseKeyPrefix...)
	for i := 0; i < n; i++ {
		if i%licenseKeyGroupLen == 0 {
			out = append(out, '-')
		}
		out = append(out, licenseKeyAlphabet[int(buffer[i])%len(licenseKeyAlphabet)])
	}
	return string(out), nil
}
