package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrInvalidHash is returned when security.operator_password_hash cannot be
// parsed as an Argon2id PHC string. Regenerate it with `mailpilot hash-password`.
var ErrInvalidHash = errors.New("operator password hash is not a valid argon2id string")

// maxHashMemory caps the memory cost accepted from configuration (1 GiB).
const maxHashMemory = 1 << 20

var b64 = base64.RawStdEncoding

// Argon2Params holds the Argon2id cost settings used for the operator password
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams returns 64 MB memory, 3 iterations, parallelism 4
func DefaultParams() *Argon2Params {
	return &Argon2Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 4,
		SaltLength:  16,
		KeyLength:   32,
	}
}

type operatorHash struct {
	params Argon2Params
	salt   []byte
	key    []byte
}

func (h operatorHash) derive(password string) []byte {
	p := h.params
	return argon2.IDKey([]byte(password), h.salt, p.Iterations, p.Memory, p.Parallelism, uint32(len(h.key)))
}

func (h operatorHash) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Iterations, h.params.Parallelism,
		b64.EncodeToString(h.salt), b64.EncodeToString(h.key))
}

// HashPassword derives the PHC string stored in security.operator_password_hash.
func HashPassword(password string, params *Argon2Params) (string, error) {
	if params == nil {
		params = DefaultParams()
	}

	h := operatorHash{params: *params, salt: make([]byte, params.SaltLength), key: make([]byte, params.KeyLength)}
	if _, err := rand.Read(h.salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	h.key = h.derive(password)
	return h.String(), nil
}

// VerifyPassword reports whether password matches encoded. A malformed
// hash is a configuration error and wraps ErrInvalidHash.
func VerifyPassword(password, encoded string) (bool, error) {
	h, err := parseOperatorHash(encoded)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(h.key, h.derive(password)) == 1, nil
}

func parseOperatorHash(encoded string) (operatorHash, error) {
	var h operatorHash

	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" {
		return h, ErrInvalidHash
	}
	if fields[1] != "argon2id" {
		return h, fmt.Errorf("%w: algorithm %q", ErrInvalidHash, fields[1])
	}
	if fields[2] != "v="+strconv.Itoa(argon2.Version) {
		return h, fmt.Errorf("%w: version %q", ErrInvalidHash, fields[2])
	}

	for _, kv := range strings.Split(fields[3], ",") {
		name, value, _ := strings.Cut(kv, "=")
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return h, fmt.Errorf("%w: cost %q", ErrInvalidHash, kv)
		}
		switch name {
		case "m":
			h.params.Memory = uint32(n)
		case "t":
			h.params.Iterations = uint32(n)
		case "p":
			if n > 255 {
				return h, fmt.Errorf("%w: parallelism %d", ErrInvalidHash, n)
			}
			h.params.Parallelism = uint8(n)
		default:
			return h, fmt.Errorf("%w: cost %q", ErrInvalidHash, kv)
		}
	}
	if h.params.Memory == 0 || h.params.Iterations == 0 || h.params.Parallelism == 0 {
		return h, fmt.Errorf("%w: missing cost parameters", ErrInvalidHash)
	}
	if h.params.Memory > maxHashMemory {
		return h, fmt.Errorf("%w: memory cost %d KiB exceeds limit", ErrInvalidHash, h.params.Memory)
	}

	var err error
	if h.salt, err = b64.DecodeString(fields[4]); err != nil {
		return h, fmt.Errorf("%w: salt: %v", ErrInvalidHash, err)
	}
	if h.key, err = b64.DecodeString(fields[5]); err != nil || len(h.key) == 0 {
		return h, fmt.Errorf("%w: key", ErrInvalidHash)
	}
	h.params.SaltLength = uint32(len(h.salt))
	h.params.KeyLength = uint32(len(h.key))
	return h, nil
}
