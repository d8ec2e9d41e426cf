package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultBcryptCost is the default bcrypt cost factor
	DefaultBcryptCost = 12

	// MinPasswordLength is the minimum password length
	MinPasswordLength = 8

	// MaxPasswordLength is the maximum password length (bcrypt truncates past 72 bytes)
	MaxPasswordLength = 72

	// DefaultTempPasswordLength is the length of generated recovery passwords
	DefaultTempPasswordLength = 12
)

// PasswordManager handles password hashing and validation
type PasswordManager struct {
	bcryptCost        int
	minPasswordLength int
}

// NewPasswordManager creates a new password manager
func NewPasswordManager(bcryptCost, minLength int) *PasswordManager {
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = DefaultBcryptCost
	}
	if minLength < MinPasswordLength {
		minLength = MinPasswordLength
	}
	return &PasswordManager{
		bcryptCost:        bcryptCost,
		minPasswordLength: minLength,
	}
}

// HashPassword hashes a password using bcrypt
func (p *PasswordManager) HashPassword(password string) (string, error) {
	if len(password) > MaxPasswordLength {
		return "", fmt.Errorf("password too long")
	}

	bytes, err := bcrypt.GenerateFromPassword([]byte(password), p.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	return string(bytes), nil
}

// VerifyPassword verifies a password against a stored hash. Accounts imported
// from the previous dashboard carry unsalted SHA-256 hex digests; those still
// verify and report needsRehash so the caller can upgrade them to bcrypt.
func (p *PasswordManager) VerifyPassword(password, hash string) (ok bool, needsRehash bool) {
	if isLegacySHA256(hash) {
		sum := sha256.Sum256([]byte(password))
		match := subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(strings.ToLower(hash))) == 1
		return match, match
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, false
}

func isLegacySHA256(hash string) bool {
	if len(hash) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}

// ValidatePasswordStrength checks if a password meets strength requirements
func (p *PasswordManager) ValidatePasswordStrength(password string) error {
	if len(password) < p.minPasswordLength {
		return fmt.Errorf("password must be at least %d characters", p.minPasswordLength)
	}

	if len(password) > MaxPasswordLength {
		return fmt.Errorf("password must be at most %d characters", MaxPasswordLength)
	}

	var (
		hasUpper   bool
		hasLower   bool
		hasNumber  bool
		hasSpecial bool
	)

	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	// Require at least 3 of 4 character types
	strength := 0
	for _, has := range []bool{hasUpper, hasLower, hasNumber, hasSpecial} {
		if has {
			strength++
		}
	}

	if strength < 3 {
		return fmt.Errorf("password must contain at least 3 of: uppercase, lowercase, numbers, special characters")
	}

	return nil
}

// NormalizeSecretAnswer trims and lowercases a recovery answer before hashing
func NormalizeSecretAnswer(answer string) string {
	return strings.ToLower(strings.TrimSpace(answer))
}

// HashSecretAnswer hashes a normalized recovery answer with bcrypt
func (p *PasswordManager) HashSecretAnswer(answer string) (string, error) {
	normalized := NormalizeSecretAnswer(answer)
	if normalized == "" {
		return "", fmt.Errorf("secret answer is required")
	}
	return p.HashPassword(normalized)
}

// VerifySecretAnswer compares a recovery answer against its stored hash
func (p *PasswordManager) VerifySecretAnswer(answer, hash string) bool {
	if hash == "" {
		return false
	}
	ok, _ := p.VerifyPassword(NormalizeSecretAnswer(answer), hash)
	return ok
}

const tempPasswordAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnpqrstuvwxyz23456789"

// GenerateTemporaryPassword returns a random password that satisfies the
// strength rules: it always has an upper, a lower and a digit.
func GenerateTemporaryPassword(length int) (string, error) {
	if length < MinPasswordLength {
		length = DefaultTempPasswordLength
	}

	classes := []string{"ABCDEFGHJKLMNPQRSTUVWXYZ", "abcdefghijkmnpqrstuvwxyz", "23456789"}
	out := make([]byte, 0, length)
	for _, class := range classes {
		c, err := randomChar(class)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < length {
		c, err := randomChar(tempPasswordAlphabet)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	// Shuffle so the guaranteed classes are not always first
	for i := len(out) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		out[i], out[j.Int64()] = out[j.Int64()], out[i]
	}
	return string(out), nil
}

func randomChar(alphabet string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
	if err != nil {
		return 0, fmt.Errorf("failed to generate password: %w", err)
	}
	return alphabet[n.Int64()], nil
}

// HashRefreshToken creates a SHA-256 hash of a refresh token for storage
func HashRefreshToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
