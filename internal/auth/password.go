package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters, per the OWASP 2025 recommendation.
const (
	argonTime    = 3         // iterations
	argonMemory  = 64 * 1024 // 64 MiB
	argonThreads = 1         // parallelism
	argonKeyLen  = 32        // output hash length
	argonSaltLen = 16        // salt length
)

// secretBytes is the entropy of generated secrets and salts.
const secretBytes = 32

// Hash scheme names as they appear in configuration.
const (
	SchemeSHA256   = "sha256"
	SchemeArgon2id = "argon2id"
)

// ErrUnknownScheme is returned by NewHasher for an unsupported scheme name.
var ErrUnknownScheme = errors.New("auth: unknown hash scheme")

// GenerateSecret returns 32 random bytes as unpadded standard base64.
// It is used both for device secrets and for salts.
func GenerateSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return base64.RawStdEncoding.EncodeToString(b), nil
}

// Hasher turns a secret into the (hash, salt) pair stored in the auth table.
type Hasher interface {
	// Hash hashes secret under a freshly generated salt.
	Hash(secret string) (hash, salt string, err error)

	// Verify reports whether secret matches a stored hash and salt.
	Verify(secret, hash, salt string) (bool, error)
}

// NewHasher returns the Hasher for a configured scheme name.
func NewHasher(scheme string) (Hasher, error) {
	switch scheme {
	case SchemeSHA256, "":
		return SHA256Hasher{}, nil
	case SchemeArgon2id:
		return Argon2Hasher{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
}

// SHA256Hasher stores hex(sha256(salt || secret)) with a random base64 salt.
type SHA256Hasher struct{}

// Hash implements Hasher.
func (SHA256Hasher) Hash(secret string) (string, string, error) {
	salt, err := GenerateSecret()
	if err != nil {
		return "", "", fmt.Errorf("generating salt: %w", err)
	}
	return sha256Digest(secret, salt), salt, nil
}

// Verify implements Hasher.
func (SHA256Hasher) Verify(secret, hash, salt string) (bool, error) {
	candidate := sha256Digest(secret, salt)
	return subtle.ConstantTimeCompare([]byte(hash), []byte(candidate)) == 1, nil
}

func sha256Digest(secret, salt string) string {
	h := sha256.New()
	h.Write([]byte(salt))
	h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil))
}

// Argon2Hasher stores an Argon2id PHC string. The salt lives inside the PHC
// string, so the separate salt column is left empty.
type Argon2Hasher struct{}

// Hash implements Hasher.
func (Argon2Hasher) Hash(secret string) (string, string, error) {
	hash, err := HashPassword(secret)
	return hash, "", err
}

// Verify implements Hasher. The salt argument is ignored.
func (Argon2Hasher) Verify(secret, hash, _ string) (bool, error) {
	return VerifyPassword(secret, hash)
}

// HashPassword hashes a plaintext password using Argon2id and returns it
// in PHC string format: $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword checks a plaintext password against an Argon2id PHC hash string.
// Returns true if the password matches.
func VerifyPassword(password, encodedHash string) (bool, error) {
	salt, hash, params, err := decodePHC(encodedHash)
	if err != nil {
		return false, err
	}

	candidate := argon2.IDKey([]byte(password), salt, params.time, params.memory, params.threads, uint32(len(hash))) //nolint:gosec // G115: hash length always fits uint32

	return subtle.ConstantTimeCompare(hash, candidate) == 1, nil
}

type argonParams struct {
	time    uint32
	memory  uint32
	threads uint8
}

// decodePHC parses an Argon2id PHC string format into its components.
func decodePHC(encoded string) (salt, hash []byte, params argonParams, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 { //nolint:mnd // PHC format has exactly 6 $-delimited parts
		return nil, nil, params, fmt.Errorf("invalid PHC hash format")
	}

	if parts[1] != "argon2id" {
		return nil, nil, params, fmt.Errorf("unsupported algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return nil, nil, params, fmt.Errorf("parsing version: %w", err)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.memory, &params.time, &params.threads); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return nil, nil, params, fmt.Errorf("parsing parameters: %w", err)
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, params, fmt.Errorf("decoding salt: %w", err)
	}

	hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, params, fmt.Errorf("decoding hash: %w", err)
	}

	return salt, hash, params, nil
}
