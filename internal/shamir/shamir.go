// Package shamir implements Shamir secret sharing over the secp256k1
// group-order field, the scheme used to split wallet keys across the owner
// and their guardians.
package shamir

import (
	"errors"
	"fmt"

	"github.com/guardvault/guardvault/internal/scalar"
)

var (
	// ErrInvalidShareCount is returned when total or threshold are outside
	// 2 <= threshold <= total <= 255.
	ErrInvalidShareCount = errors.New("share count must satisfy 2 <= threshold <= total <= 255")

	// ErrTooFewShares is returned when fewer than two shares are combined.
	ErrTooFewShares = errors.New("at least 2 shares are required to combine")

	// ErrDuplicateIndex is returned when two shares carry the same x value.
	ErrDuplicateIndex = errors.New("duplicate share index")

	// ErrZeroIndex is returned for a share with x = 0, which would carry the
	// secret itself.
	ErrZeroIndex = errors.New("share index must not be zero")
)

// MaxShares is the largest supported share count. Indices are single bytes
// and x = 0 is reserved.
const MaxShares = 255

// Share is one point (x, f(x)) on the secret polynomial.
type Share struct {
	X byte
	Y *scalar.Scalar
}

// Split shares secret across total shares such that any threshold of them
// reconstruct it. The polynomial coefficients above the constant term are
// fresh uniformly random scalars, so fewer than threshold shares reveal
// nothing about the secret.
func Split(secret *scalar.Scalar, total, threshold int) ([]Share, error) {
	if threshold < 2 || threshold > total || total > MaxShares {
		return nil, fmt.Errorf("total %d threshold %d: %w", total, threshold, ErrInvalidShareCount)
	}

	coeffs := make([]*scalar.Scalar, threshold)
	coeffs[0] = secret
	for i := 1; i < threshold; i++ {
		c, err := scalar.Random()
		if err != nil {
			return nil, fmt.Errorf("fail to sample polynomial coefficient: %w", err)
		}
		coeffs[i] = c
	}

	shares := make([]Share, total)
	for i := 1; i <= total; i++ {
		shares[i-1] = Share{X: byte(i), Y: evaluate(coeffs, byte(i))}
	}

	for i := 1; i < threshold; i++ {
		coeffs[i].Zeroize()
	}
	return shares, nil
}

// Combine reconstructs the secret from at least two shares of a consistent
// set via Lagrange interpolation at x = 0. Any subset of threshold or more
// shares of one Split yields the same secret.
func Combine(shares []Share) (*scalar.Scalar, error) {
	if len(shares) < 2 {
		return nil, ErrTooFewShares
	}
	seen := make(map[byte]bool, len(shares))
	for _, s := range shares {
		if s.X == 0 {
			return nil, ErrZeroIndex
		}
		if seen[s.X] {
			return nil, fmt.Errorf("index %d: %w", s.X, ErrDuplicateIndex)
		}
		seen[s.X] = true
	}

	secret := scalar.SetInt(0)
	for i, si := range shares {
		num := scalar.SetInt(1)
		den := scalar.SetInt(1)
		xi := scalar.SetInt(uint32(si.X))
		for j, sj := range shares {
			if i == j {
				continue
			}
			xj := scalar.SetInt(uint32(sj.X))
			num = num.Mul(xj)
			den = den.Mul(xj.Sub(xi))
		}
		// den is non-zero: the indices are distinct and below the order.
		term := si.Y.Mul(num.Mul(den.Inverse()))
		secret = secret.Add(term)
	}
	return secret, nil
}

// evaluate computes f(x) by Horner's rule over the coefficient vector,
// constant term first.
func evaluate(coeffs []*scalar.Scalar, x byte) *scalar.Scalar {
	xs := scalar.SetInt(uint32(x))
	acc := scalar.SetInt(0)
	for i := len(coeffs) - 1; i >= 0; i-- {
		acc = acc.Mul(xs).Add(coeffs[i])
	}
	return acc
}
