package monitor

import (
	"crypto"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var ErrHashUnavailable = errors.New("sha-256 hash algorithm is unavailable")

// Fingerprint returns the lowercase hex SHA-256 digest of body.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func checkHash() error {
	if !crypto.SHA256.Available() {
		return ErrHashUnavailable
	}
	return nil
}
