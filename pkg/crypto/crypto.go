package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// VerifyPassword verifies a password against a hash
func VerifyPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// GenerateRandomBytes generates random bytes
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// GenerateRandomString generates a random string
func GenerateRandomString(n int) (string, error) {
	bytes, err := GenerateRandomBytes(n)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}

// Voucher codes use uppercase alphanumerics and match case-insensitively.
const voucherAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateVoucherCode generates an n-character alphanumeric voucher code
func GenerateVoucherCode(n int) (string, error) {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(voucherAlphabet))))
		if err != nil {
			return "", err
		}
		sb.WriteByte(voucherAlphabet[idx.Int64()])
	}
	return sb.String(), nil
}

// SignHMACSHA256 computes the hex-encoded HMAC-SHA256 of payload
func SignHMACSHA256(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMACSHA256 checks a provided signature against the HMAC-SHA256 of
// payload. Gateways differ in encoding, so hex, "sha256="-prefixed hex and
// base64 signatures are all accepted.
func VerifyHMACSHA256(secret string, payload []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	sum := mac.Sum(nil)

	provided := strings.TrimPrefix(strings.TrimPrefix(signature, "sha256="), "sha1=")

	candidates := []string{
		hex.EncodeToString(sum),
		base64.StdEncoding.EncodeToString(sum),
	}
	for _, candidate := range candidates {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(provided)) == 1 {
			return true
		}
	}
	return false
}
