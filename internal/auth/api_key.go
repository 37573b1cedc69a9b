package auth

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// KeyPrefix marks caller API keys. It is optional on input.
const KeyPrefix = "sk-"

// KeyIssuer mints and verifies caller API keys
type KeyIssuer struct {
	secret []byte
}

// NewKeyIssuer creates an issuer signing with secret
func NewKeyIssuer(secret string) (*KeyIssuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	return &KeyIssuer{secret: []byte(secret)}, nil
}

// Issue returns a new API key for the owner
func (k *KeyIssuer) Issue(ownerID uuid.UUID) (string, error) {
	token, err := GenerateJWT(ownerID, k.secret)
	if err != nil {
		return "", err
	}
	return KeyPrefix + token, nil
}

// Parse verifies a presented key, with or without its prefix, and returns
// the owner it belongs to
func (k *KeyIssuer) Parse(key string) (uuid.UUID, error) {
	key = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(key), KeyPrefix))
	if key == "" {
		return uuid.Nil, ErrInvalidKey
	}
	return ValidateJWT(key, k.secret)
}
