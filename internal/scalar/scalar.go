package scalar

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// ErrInvalidScalar indicates a value that is zero or not below the secp256k1
// group order.
var ErrInvalidScalar = errors.New("scalar is zero or not in the group order range")

// Scalar is an element of GF(n), n being the secp256k1 group order. The zero
// value is the field element 0 and is ready to use.
type Scalar struct {
	n secp256k1.ModNScalar
}

// groupOrderMinusTwo is n-2, the Fermat inversion exponent. It is a public
// constant, so the inversion ladder below branches only on its fixed bits.
var groupOrderMinusTwo = [32]byte{
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xfe,
	0xba, 0xae, 0xdc, 0xe6, 0xaf, 0x48, 0xa0, 0x3b,
	0xbf, 0xd2, 0x5e, 0x8c, 0xd0, 0x36, 0x41, 0x3f,
}

// FromBytes interprets b as a 32-byte big-endian integer and returns it as a
// field element. Values >= n are rejected rather than reduced, so every
// serialized scalar has exactly one accepted encoding.
func FromBytes(b [32]byte) (*Scalar, error) {
	var s Scalar
	if overflow := s.n.SetBytes(&b); overflow != 0 {
		return nil, ErrInvalidScalar
	}
	return &s, nil
}

// ParseHex decodes a 64-character lower-hex scalar. Zero is permitted.
func ParseHex(str string) (*Scalar, error) {
	if len(str) != 64 {
		return nil, fmt.Errorf("scalar hex must be 64 characters, got %d: %w", len(str), ErrInvalidScalar)
	}
	raw, err := hex.DecodeString(str)
	if err != nil {
		return nil, fmt.Errorf("fail to decode scalar hex: %w", err)
	}
	var b [32]byte
	copy(b[:], raw)
	return FromBytes(b)
}

// ParseNonZeroHex is ParseHex restricted to [1, n-1], the valid range for
// secret keys and share values.
func ParseNonZeroHex(str string) (*Scalar, error) {
	s, err := ParseHex(str)
	if err != nil {
		return nil, err
	}
	if s.IsZero() {
		return nil, ErrInvalidScalar
	}
	return s, nil
}

// Random samples a uniformly random scalar in [1, n-1] by rejection sampling
// on 32 bytes from crypto/rand.
func Random() (*Scalar, error) {
	var b [32]byte
	for {
		if _, err := io.ReadFull(rand.Reader, b[:]); err != nil {
			return nil, fmt.Errorf("fail to read random bytes: %w", err)
		}
		var s Scalar
		if overflow := s.n.SetBytes(&b); overflow != 0 || s.n.IsZero() {
			continue
		}
		zeroBytes(b[:])
		return &s, nil
	}
}

// Bytes returns the canonical 32-byte big-endian encoding.
func (s *Scalar) Bytes() [32]byte {
	var b [32]byte
	s.n.PutBytes(&b)
	return b
}

// Hex returns the canonical 64-character lower-hex encoding.
func (s *Scalar) Hex() string {
	b := s.Bytes()
	return hex.EncodeToString(b[:])
}

func (s *Scalar) IsZero() bool {
	return s.n.IsZero()
}

func (s *Scalar) Equals(t *Scalar) bool {
	return s.n.Equals(&t.n)
}

// Add returns s + t mod n.
func (s *Scalar) Add(t *Scalar) *Scalar {
	var r Scalar
	r.n.Add2(&s.n, &t.n)
	return &r
}

// Sub returns s - t mod n.
func (s *Scalar) Sub(t *Scalar) *Scalar {
	var neg, r Scalar
	neg.n.NegateVal(&t.n)
	r.n.Add2(&s.n, &neg.n)
	return &r
}

// Mul returns s * t mod n.
func (s *Scalar) Mul(t *Scalar) *Scalar {
	var r Scalar
	r.n.Mul2(&s.n, &t.n)
	return &r
}

// Negate returns -s mod n.
func (s *Scalar) Negate() *Scalar {
	var r Scalar
	r.n.NegateVal(&s.n)
	return &r
}

// Exp returns s^e mod n via square-and-multiply over the big-endian exponent
// bytes. The ladder branches on exponent bits only, never on the base, so it
// is constant-time for a secret base with a public exponent.
func (s *Scalar) Exp(exponent [32]byte) *Scalar {
	var r Scalar
	r.n.SetInt(1)
	for _, by := range exponent {
		for bit := 7; bit >= 0; bit-- {
			r.n.Square()
			if by>>uint(bit)&1 == 1 {
				r.n.Mul(&s.n)
			}
		}
	}
	return &r
}

// Inverse returns s^-1 mod n computed as s^(n-2) per Fermat's little theorem.
// Inverting zero yields zero; callers guarding division must reject zero
// denominators themselves.
func (s *Scalar) Inverse() *Scalar {
	return s.Exp(groupOrderMinusTwo)
}

// Zeroize overwrites the scalar with zero. ModNScalar.Zero is an
// unconditional store, so the wipe cannot be elided.
func (s *Scalar) Zeroize() {
	s.n.Zero()
}

// SetInt returns a scalar holding the small non-negative integer v. Intended
// for share indices and tests.
func SetInt(v uint32) *Scalar {
	var s Scalar
	s.n.SetInt(v)
	return &s
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
