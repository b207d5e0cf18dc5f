package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"io"
	"strings"
)

const (
	secretBytes = 32
	saltBytes   = 16
)

// GenerateSecret returns a new opaque bearer secret (256 random bits, base64url).
func GenerateSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashSecret digests secret with a fresh random salt and returns
// "hex(salt):hex(sha256(salt||secret))".
func HashSecret(secret string) (string, error) {
	salt := make([]byte, saltBytes)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	sum := digest(salt, secret)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(sum[:]), nil
}

// VerifySecret reports whether candidate matches a value produced by
// HashSecret. Malformed stored values never verify.
func VerifySecret(stored, candidate string) bool {
	saltHex, sumHex, ok := strings.Cut(stored, ":")
	if !ok || saltHex == "" || strings.Contains(sumHex, ":") {
		return false
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(sumHex)
	if err != nil || len(want) != sha256.Size {
		return false
	}

	got := digest(salt, candidate)
	return subtle.ConstantTimeCompare(got[:], want) == 1
}

func digest(salt []byte, secret string) [sha256.Size]byte {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(secret))

	var sum [sha256.Size]byte
	copy(sum[:], h.Sum(nil))
	return sum
}
