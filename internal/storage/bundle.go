package storage

import (
	"strconv"
	"strings"
	"time"
)

const bundleSeparator = "|||"

// SecretBundle is the decrypted credential material. A bundle with only an
// access token is a plain bearer secret; one with a refresh token can be
// renewed. A zero ExpiresAt means the token carries no expiry.
type SecretBundle struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// ParseBundle decodes access|||refresh|||expires_unix. Anything without the
// separator is a bearer-only secret.
func ParseBundle(s string) SecretBundle {
	parts := strings.Split(s, bundleSeparator)
	b := SecretBundle{AccessToken: parts[0]}
	if len(parts) > 1 {
		b.RefreshToken = parts[1]
	}
	if len(parts) > 2 {
		if unix, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64); err == nil && unix > 0 {
			b.ExpiresAt = time.Unix(unix, 0).UTC()
		}
	}
	return b
}

// Encode is the inverse of ParseBundle.
func (b SecretBundle) Encode() string {
	if b.RefreshToken == "" && b.ExpiresAt.IsZero() {
		return b.AccessToken
	}
	var expires int64
	if !b.ExpiresAt.IsZero() {
		expires = b.ExpiresAt.Unix()
	}
	return b.AccessToken + bundleSeparator + b.RefreshToken + bundleSeparator + strconv.FormatInt(expires, 10)
}

// Refreshable reports whether the bundle holds a refresh token.
func (b SecretBundle) Refreshable() bool {
	return b.RefreshToken != ""
}

// FreshAt reports whether the access token is still usable at now with at
// least margin to spare. Bundles without expiry are always fresh.
func (b SecretBundle) FreshAt(now time.Time, margin time.Duration) bool {
	if b.ExpiresAt.IsZero() {
		return true
	}
	return b.ExpiresAt.After(now.Add(margin))
}

// Renewed returns a copy with a new access token and lifetime, keeping the
// refresh token.
func (b SecretBundle) Renewed(accessToken string, lifetime time.Duration, now time.Time) SecretBundle {
	return SecretBundle{
		AccessToken:  accessToken,
		RefreshToken: b.RefreshToken,
		ExpiresAt:    now.Add(lifetime).UTC().Truncate(time.Second),
	}
}
