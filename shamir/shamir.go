// Package shamir implements Shamir's secret sharing over GF(2^8).
//
// A secret is split byte by byte: for every byte a random polynomial of degree
// threshold-1 is drawn with the byte as its constant term, and each share holds
// the polynomial evaluated at the share's x coordinate. Any threshold shares
// recover the secret through Lagrange interpolation at x = 0.
//
// Shares are laid out as the evaluated bytes followed by a single trailing byte
// holding the x coordinate. The layout matches github.com/hashicorp/vault/shamir,
// so shares produced by either implementation can be combined by the other.
package shamir

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
)

// ShareOverhead is the number of bytes a share carries beyond the secret length.
const ShareOverhead = 1

var (
	ErrInvalidParameters = errors.New("invalid split parameters")
	ErrInvalidShares     = errors.New("invalid shares")
)

// Split divides secret into parts shares, any threshold of which reconstruct it.
// Each share is len(secret)+ShareOverhead bytes long.
func Split(secret []byte, parts, threshold int) ([][]byte, error) {
	switch {
	case len(secret) == 0:
		return nil, fmt.Errorf("%w: empty secret", ErrInvalidParameters)
	case threshold < 1:
		return nil, fmt.Errorf("%w: threshold must be at least 1", ErrInvalidParameters)
	case parts < threshold:
		return nil, fmt.Errorf("%w: parts cannot be less than threshold", ErrInvalidParameters)
	case parts > 255:
		return nil, fmt.Errorf("%w: parts cannot exceed 255", ErrInvalidParameters)
	}

	xs, err := distinctCoordinates(parts)
	if err != nil {
		return nil, err
	}

	shares := make([][]byte, parts)
	for i := range shares {
		shares[i] = make([]byte, len(secret)+ShareOverhead)
		shares[i][len(secret)] = xs[i]
	}

	coeffs := make([]byte, threshold)
	defer wipe(coeffs)
	for idx, b := range secret {
		coeffs[0] = b
		if _, err := rand.Read(coeffs[1:]); err != nil {
			return nil, fmt.Errorf("failed to generate polynomial: %w", err)
		}
		for i := range shares {
			shares[i][idx] = evaluate(coeffs, xs[i])
		}
	}

	return shares, nil
}

// Combine reconstructs the secret from shares. It does not know the threshold:
// given fewer shares than were required, it returns a wrong secret rather
// than an error, so callers must verify the result.
func Combine(shares [][]byte) ([]byte, error) {
	if len(shares) == 0 {
		return nil, fmt.Errorf("%w: no shares", ErrInvalidShares)
	}

	shareLen := len(shares[0])
	if shareLen < ShareOverhead+1 {
		return nil, fmt.Errorf("%w: share too short", ErrInvalidShares)
	}

	xs := make([]byte, len(shares))
	seen := make(map[byte]struct{}, len(shares))
	for i, share := range shares {
		if len(share) != shareLen {
			return nil, fmt.Errorf("%w: shares have different lengths", ErrInvalidShares)
		}
		x := share[shareLen-1]
		if x == 0 {
			return nil, fmt.Errorf("%w: zero x coordinate", ErrInvalidShares)
		}
		if _, dup := seen[x]; dup {
			return nil, fmt.Errorf("%w: duplicate share", ErrInvalidShares)
		}
		seen[x] = struct{}{}
		xs[i] = x
	}

	secretLen := shareLen - ShareOverhead
	secret := make([]byte, secretLen)
	ys := make([]byte, len(shares))
	defer wipe(ys)
	for idx := 0; idx < secretLen; idx++ {
		for i, share := range shares {
			ys[i] = share[idx]
		}
		secret[idx] = interpolateAtZero(xs, ys)
	}

	return secret, nil
}

// ShareIndex returns the x coordinate of a share, or 0 for a malformed one.
func ShareIndex(share []byte) byte {
	if len(share) < ShareOverhead+1 {
		return 0
	}
	return share[len(share)-1]
}

func distinctCoordinates(n int) ([]byte, error) {
	// Random permutation of 1..255, first n taken.
	pool := make([]byte, 255)
	for i := range pool {
		pool[i] = byte(i + 1)
	}
	rnd := make([]byte, len(pool))
	if _, err := rand.Read(rnd); err != nil {
		return nil, fmt.Errorf("failed to generate coordinates: %w", err)
	}
	for i := len(pool) - 1; i > 0; i-- {
		j := int(rnd[i]) % (i + 1)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:n], nil
}

// evaluate computes the polynomial at x with Horner's method.
func evaluate(coeffs []byte, x byte) byte {
	var out byte
	for i := len(coeffs) - 1; i >= 0; i-- {
		out = add(mult(out, x), coeffs[i])
	}
	return out
}

func interpolateAtZero(xs, ys []byte) byte {
	var result byte
	for i := range xs {
		basis := byte(1)
		for j := range xs {
			if i == j {
				continue
			}
			// basis *= x_j / (x_j - x_i); subtraction is xor in GF(2^8)
			basis = mult(basis, div(xs[j], add(xs[j], xs[i])))
		}
		result = add(result, mult(ys[i], basis))
	}
	return result
}

func add(a, b byte) byte {
	return a ^ b
}

// mult multiplies in GF(2^8) modulo x^8+x^4+x^3+x+1 without data-dependent branches.
func mult(a, b byte) byte {
	var r byte
	for i := 7; i >= 0; i-- {
		r = (-(b >> uint(i) & 1) & a) ^ (-(r >> 7) & 0x1b) ^ (r + r)
	}
	return r
}

// inverse computes a^254, which is a^-1 for non-zero a.
func inverse(a byte) byte {
	b := mult(a, a)
	c := mult(a, b)
	b = mult(c, c)
	b = mult(b, b)
	c = mult(b, c)
	b = mult(b, b)
	b = mult(b, b)
	b = mult(b, c)
	b = mult(b, b)
	b = mult(a, b)
	return mult(b, b)
}

func div(a, b byte) byte {
	if b == 0 {
		panic("shamir: divide by zero")
	}
	ret := mult(a, inverse(b))
	// 0 / b must be 0 even though the inverse path above is branch free.
	return byte(subtle.ConstantTimeSelect(subtle.ConstantTimeByteEq(a, 0), 0, int(ret)))
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
