package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/j4xie/my-prototype-logistics-sub021/internal/apperr"
)

// Argon2id work factors. Memory is the primary brute-force knob.
const (
	passTime    = 3
	passMemory  = 64 * 1024 // KiB
	passThreads = 1
	passKeyLen  = 32
	passSaltLen = 16
)

// HashPassword hashes a plaintext password with Argon2id and encodes it in
// PHC string format: $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>.
func HashPassword(password string) (string, error) {
	salt := make([]byte, passSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", apperr.Wrap(apperr.KindCrypto, "generate salt", err)
	}

	hash := argon2.IDKey([]byte(password), salt, passTime, passMemory, passThreads, passKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		passMemory, passTime, passThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword checks a plaintext password against a PHC-encoded hash.
// A mismatch returns (false, nil); an error means the stored credential is
// malformed.
func VerifyPassword(password, encoded string) (bool, error) {
	salt, hash, params, err := decodePassword(encoded)
	if err != nil {
		return false, err
	}

	candidate := argon2.IDKey([]byte(password), salt, params.time, params.memory, params.threads, uint32(len(hash)))

	return subtle.ConstantTimeCompare(hash, candidate) == 1, nil
}

type passwordParams struct {
	time    uint32
	memory  uint32
	threads uint8
}

func decodePassword(encoded string) (salt, hash []byte, params passwordParams, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return nil, nil, params, apperr.New(apperr.KindCrypto, "malformed password hash")
	}
	if parts[1] != "argon2id" {
		return nil, nil, params, apperr.Newf(apperr.KindCrypto, "unsupported hash algorithm %q", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, nil, params, apperr.Wrap(apperr.KindCrypto, "parse hash version", err)
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.memory, &params.time, &params.threads); err != nil {
		return nil, nil, params, apperr.Wrap(apperr.KindCrypto, "parse hash parameters", err)
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, params, apperr.Wrap(apperr.KindCrypto, "decode salt", err)
	}
	hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, params, apperr.Wrap(apperr.KindCrypto, "decode hash", err)
	}
	return salt, hash, params, nil
}
