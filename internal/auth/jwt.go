package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// ErrInvalidKey is returned for keys that do not verify
var ErrInvalidKey = errors.New("invalid API key")

// KeyClaims are the claims carried by a caller API key
type KeyClaims struct {
	jwt.RegisteredClaims
}

// GenerateJWT signs a key token for an owner. Keys do not expire; revoking
// one means deactivating its owner.
func GenerateJWT(ownerID uuid.UUID, secret []byte) (string, error) {
	claims := KeyClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  ownerID.String(),
			IssuedAt: jwt.NewNumericDate(time.Now()),
			ID:       uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign key: %w", err)
	}
	return signed, nil
}

// ValidateJWT verifies a key token and returns the owner id it names
func ValidateJWT(tokenString string, secret []byte) (uuid.UUID, error) {
	var claims KeyClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return uuid.Nil, ErrInvalidKey
	}

	ownerID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalidKey
	}
	return ownerID, nil
}
