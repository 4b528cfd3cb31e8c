package shamir

import (
	"errors"
	"strings"
	"testing"

	"github.com/guardvault/guardvault/internal/scalar"
)

func mustParse(t *testing.T, hex string) *scalar.Scalar {
	t.Helper()
	s, err := scalar.ParseHex(hex)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSplitCombineMinimal(t *testing.T) {
	secret := mustParse(t, strings.Repeat("0", 63)+"1")

	shares, err := Split(secret, 3, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(shares) != 3 {
		t.Fatalf("got %d shares, expected 3", len(shares))
	}

	// Any two of the three shares must reconstruct the secret.
	pairs := [][2]int{{0, 1}, {0, 2}, {1, 2}}
	for _, p := range pairs {
		got, err := Combine([]Share{shares[p[0]], shares[p[1]]})
		if err != nil {
			t.Fatal(err)
		}
		if !got.Equals(secret) {
			t.Fatalf("combine(%d,%d): %s, expected %s", p[0], p[1], got.Hex(), secret.Hex())
		}
	}
}

func TestSplitCombineSubsets(t *testing.T) {
	secret := mustParse(t, strings.Repeat("0123456789abcdef", 4))

	shares, err := Split(secret, 5, 3)
	if err != nil {
		t.Fatal(err)
	}

	// every 3-subset of the 5 shares
	for a := 0; a < 5; a++ {
		for b := a + 1; b < 5; b++ {
			for c := b + 1; c < 5; c++ {
				got, err := Combine([]Share{shares[a], shares[b], shares[c]})
				if err != nil {
					t.Fatal(err)
				}
				if !got.Equals(secret) {
					t.Fatalf("combine(%d,%d,%d): %s, expected %s", a, b, c, got.Hex(), secret.Hex())
				}
			}
		}
	}

	// all five shares also work
	got, err := Combine(shares)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equals(secret) {
		t.Fatalf("combine(all): %s, expected %s", got.Hex(), secret.Hex())
	}
}

func TestBelowThresholdDoesNotReconstruct(t *testing.T) {
	secret := mustParse(t, strings.Repeat("0123456789abcdef", 4))

	shares, err := Split(secret, 5, 3)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Combine(shares[:2])
	if err != nil {
		t.Fatal(err)
	}
	if got.Equals(secret) {
		t.Fatal("two shares of a 3-threshold split reconstructed the secret")
	}
}

func TestSplitZeroSecret(t *testing.T) {
	secret := mustParse(t, strings.Repeat("0", 64))

	shares, err := Split(secret, 4, 2)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Combine(shares[1:3])
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsZero() {
		t.Fatalf("combine: %s, expected zero", got.Hex())
	}
}

func TestSplitBounds(t *testing.T) {
	secret := scalar.SetInt(42)
	cases := []struct {
		total, threshold int
	}{
		{1, 1},
		{3, 1},
		{2, 3},
		{256, 2},
		{300, 100},
	}
	for _, c := range cases {
		if _, err := Split(secret, c.total, c.threshold); !errors.Is(err, ErrInvalidShareCount) {
			t.Fatalf("(%d,%d): expected ErrInvalidShareCount, got %v", c.total, c.threshold, err)
		}
	}
}

func TestCombineErrors(t *testing.T) {
	secret := scalar.SetInt(42)
	shares, err := Split(secret, 3, 2)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Combine(shares[:1]); !errors.Is(err, ErrTooFewShares) {
		t.Fatalf("expected ErrTooFewShares, got %v", err)
	}
	if _, err := Combine([]Share{shares[0], shares[0]}); !errors.Is(err, ErrDuplicateIndex) {
		t.Fatalf("expected ErrDuplicateIndex, got %v", err)
	}
	bad := Share{X: 0, Y: scalar.SetInt(9)}
	if _, err := Combine([]Share{shares[0], bad}); !errors.Is(err, ErrZeroIndex) {
		t.Fatalf("expected ErrZeroIndex, got %v", err)
	}
}

func TestMaxShares(t *testing.T) {
	secret := scalar.SetInt(7)
	shares, err := Split(secret, 255, 2)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Combine([]Share{shares[0], shares[254]})
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equals(secret) {
		t.Fatalf("combine: %s, expected %s", got.Hex(), secret.Hex())
	}
}
