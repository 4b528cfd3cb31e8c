package api

import (
	"strings"
	"testing"

	"github.com/guardvault/guardvault/internal/types"
)

func TestContactTypeFrom(t *testing.T) {
	cases := map[string]types.ContactType{
		"email":   types.ContactEmail,
		"phone":   types.ContactPhone,
		"wallet":  types.ContactWallet,
		"other":   types.ContactOther,
		"carrier": types.ContactOther,
		"":        types.ContactOther,
	}
	for in, want := range cases {
		if got := contactTypeFrom(in); got != want {
			t.Fatalf("contactTypeFrom(%q) = %s, expected %s", in, got, want)
		}
	}
}

func TestDecodeHash(t *testing.T) {
	if _, err := decodeHash(strings.Repeat("ab", 32)); err != nil {
		t.Fatal(err)
	}
	if _, err := decodeHash("abcd"); err == nil {
		t.Fatal("short hash accepted")
	}
	if _, err := decodeHash(strings.Repeat("zz", 32)); err == nil {
		t.Fatal("non-hex hash accepted")
	}
}

func TestLegacyTxArgs(t *testing.T) {
	req := &types.LegacyTxRequest{
		Nonce:    1,
		GasPrice: "1000000000",
		GasLimit: 21000,
		To:       "0x00112233445566778899aabbccddeeff00112233",
		Value:    "42",
		Data:     "0xdeadbeef",
		ChainID:  1,
	}
	args, chainID, err := legacyTxArgs(req)
	if err != nil {
		t.Fatal(err)
	}
	if args.GasPrice.Int64() != 1_000_000_000 || args.Value.Int64() != 42 {
		t.Fatalf("parsed amounts wrong: %s / %s", args.GasPrice, args.Value)
	}
	if len(args.Data) != 4 {
		t.Fatalf("data length %d, expected 4", len(args.Data))
	}
	if chainID.Int64() != 1 {
		t.Fatalf("chain id %d, expected 1", chainID.Int64())
	}

	bad := *req
	bad.To = "not-an-address"
	if _, _, err := legacyTxArgs(&bad); err == nil {
		t.Fatal("invalid address accepted")
	}

	bad = *req
	bad.GasPrice = "1e9"
	if _, _, err := legacyTxArgs(&bad); err == nil {
		t.Fatal("non-decimal gas price accepted")
	}

	bad = *req
	bad.ChainID = 0
	if _, _, err := legacyTxArgs(&bad); err == nil {
		t.Fatal("zero chain id accepted")
	}
}

func TestEqualAddress(t *testing.T) {
	if !equalAddress("0x00112233445566778899AABBccddeeff00112233", "0x00112233445566778899aabbccddeeff00112233") {
		t.Fatal("case-insensitive address compare failed")
	}
	if equalAddress("0x00112233445566778899aabbccddeeff00112233", "0x1111111111111111111111111111111111111111") {
		t.Fatal("different addresses compared equal")
	}
}
