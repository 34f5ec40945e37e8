package seal

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/nubster/egide/cryptoutils"
	"golang.org/x/crypto/argon2"
)

// RootTokenSize is the number of random bytes in a root token. Tokens are
// presented hex encoded.
const RootTokenSize = 32

// argon2id parameters for stored root token hashes.
const (
	argonMemory  = 19 * 1024
	argonTime    = 2
	argonThreads = 1
	argonSaltLen = 16
	argonKeyLen  = 32
)

var errMalformedHash = errors.New("malformed root token hash")

func newRootToken() (string, []byte, error) {
	raw, err := cryptoutils.RandomBytes(RootTokenSize)
	if err != nil {
		return "", nil, err
	}
	return hex.EncodeToString(raw), raw, nil
}

// hashToken returns the PHC string form of the argon2id hash of token.
func hashToken(token string) (string, error) {
	salt, err := cryptoutils.RandomBytes(argonSaltLen)
	if err != nil {
		return "", err
	}
	sum := argon2.IDKey([]byte(token), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum)), nil
}

// verifyToken checks token against a PHC argon2id hash in constant time.
func verifyToken(token, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return false, errMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, errMalformedHash
	}

	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false, errMalformedHash
	}
	if memory == 0 || iterations == 0 || threads == 0 {
		return false, errMalformedHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, errMalformedHash
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false, errMalformedHash
	}

	got := argon2.IDKey([]byte(token), salt, iterations, memory, threads, uint32(len(want)))
	return cryptoutils.ConstantTimeEqual(got, want), nil
}

// GenerateOTP returns a one-time pad for the generate-root flow.
func GenerateOTP() ([]byte, error) {
	return cryptoutils.RandomBytes(RootTokenSize)
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// DecodeRootToken recovers the root token produced by a completed
// generate-root session from its encoded form and the session's OTP.
func DecodeRootToken(encoded string, otp []byte) (string, error) {
	masked, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("invalid encoded token: %w", err)
	}
	if len(masked) != RootTokenSize || len(otp) != RootTokenSize {
		return "", fmt.Errorf("encoded token and otp must both be %d bytes", RootTokenSize)
	}
	raw := xorBytes(masked, otp)
	defer cryptoutils.Wipe(raw)
	return hex.EncodeToString(raw), nil
}
