// Package ciphertext encodes and parses the self-describing wire format shared
// by encrypted payloads and signatures:
//
//	egide:<fmt_version>:<key_name>:<key_version>:<base64(body)>
//
// For AEAD keys the body is nonce||ciphertext||tag, for RSA keys it is the OAEP
// ciphertext, and for signatures it is the raw signature. Every structural
// problem is reported as the same bare interfaces.ErrInvalidCiphertext so the
// parser cannot be used to tell a nearly valid string from garbage.
package ciphertext

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/nubster/egide/cryptoutils"
	"github.com/nubster/egide/interfaces"
)

const (
	Prefix        = "egide"
	FormatVersion = 1
	Separator     = ":"
)

var encoding = base64.StdEncoding.Strict()

// Ciphertext is the parsed form of a wire string.
type Ciphertext struct {
	FormatVersion int
	KeyName       string
	KeyVersion    int
	Body          []byte
}

// New builds a current-format ciphertext after validating its header fields.
func New(keyName string, keyVersion int, body []byte) (Ciphertext, error) {
	if !validName(keyName) {
		return Ciphertext{}, fmt.Errorf("%w: key name %q cannot be encoded", interfaces.ErrInvalidArgument, keyName)
	}
	if keyVersion < 1 {
		return Ciphertext{}, fmt.Errorf("%w: key version must be positive", interfaces.ErrInvalidArgument)
	}
	return Ciphertext{
		FormatVersion: FormatVersion,
		KeyName:       keyName,
		KeyVersion:    keyVersion,
		Body:          body,
	}, nil
}

// Encode is New followed by String.
func Encode(keyName string, keyVersion int, body []byte) (string, error) {
	c, err := New(keyName, keyVersion, body)
	if err != nil {
		return "", err
	}
	return c.String(), nil
}

// String renders the wire form.
func (c Ciphertext) String() string {
	var sb strings.Builder
	sb.WriteString(Prefix)
	sb.WriteString(Separator)
	sb.WriteString(strconv.Itoa(c.FormatVersion))
	sb.WriteString(Separator)
	sb.WriteString(c.KeyName)
	sb.WriteString(Separator)
	sb.WriteString(strconv.Itoa(c.KeyVersion))
	sb.WriteString(Separator)
	sb.WriteString(encoding.EncodeToString(c.Body))
	return sb.String()
}

// Parse decodes a wire string. It performs no cryptographic work.
func Parse(s string) (Ciphertext, error) {
	fields := strings.Split(s, Separator)
	if len(fields) != 5 || fields[0] != Prefix {
		return Ciphertext{}, interfaces.ErrInvalidCiphertext
	}

	format, ok := parsePositive(fields[1])
	if !ok || format != FormatVersion {
		return Ciphertext{}, interfaces.ErrInvalidCiphertext
	}

	if !validName(fields[2]) {
		return Ciphertext{}, interfaces.ErrInvalidCiphertext
	}

	version, ok := parsePositive(fields[3])
	if !ok {
		return Ciphertext{}, interfaces.ErrInvalidCiphertext
	}

	body, err := encoding.DecodeString(fields[4])
	if err != nil || len(body) == 0 {
		return Ciphertext{}, interfaces.ErrInvalidCiphertext
	}

	return Ciphertext{
		FormatVersion: format,
		KeyName:       fields[2],
		KeyVersion:    version,
		Body:          body,
	}, nil
}

// Layout describes the body length rules of an algorithm.
type Layout struct {
	// Overhead is the minimum body length (nonce plus tag for AEAD).
	Overhead int
	// Exact, when non-zero, is the only accepted body length.
	Exact int
}

// AEADLayout is the body layout of AES-256-GCM ciphertexts.
var AEADLayout = Layout{Overhead: cryptoutils.AEADOverhead}

// CheckLayout validates the body length against l.
func (c Ciphertext) CheckLayout(l Layout) error {
	if l.Exact != 0 && len(c.Body) != l.Exact {
		return interfaces.ErrInvalidCiphertext
	}
	if len(c.Body) < l.Overhead {
		return interfaces.ErrInvalidCiphertext
	}
	return nil
}

// Sealed splits an AEAD body into nonce, ciphertext and tag.
func (c Ciphertext) Sealed() (cryptoutils.Sealed, error) {
	if err := c.CheckLayout(AEADLayout); err != nil {
		return cryptoutils.Sealed{}, err
	}
	return cryptoutils.SplitSealed(c.Body)
}

func parsePositive(s string) (int, bool) {
	if s == "" || len(s) > 10 || s[0] == '0' {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if r == ':' || r <= ' ' || r == 0x7f {
			return false
		}
	}
	return true
}
