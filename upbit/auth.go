package upbit

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// signToken builds the Bearer token for one private request. Every
// token carries a fresh uuid nonce; requests with parameters also carry
// the SHA512 hex digest of the encoded query string.
func signToken(accessKey, secretKey, encodedQuery string) (string, error) {
	claims := jwt.MapClaims{
		"access_key": accessKey,
		"nonce":      uuid.NewString(),
	}
	if encodedQuery != "" {
		sum := sha512.Sum512([]byte(encodedQuery))
		claims["query_hash"] = hex.EncodeToString(sum[:])
		claims["query_hash_alg"] = "SHA512"
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secretKey))
	if err != nil {
		return "", fmt.Errorf("sign request token: %w", err)
	}
	return token, nil
}
