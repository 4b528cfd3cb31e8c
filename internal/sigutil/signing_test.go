package sigutil

import (
	"bytes"
	"math/big"
	"strings"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/guardvault/guardvault/internal/scalar"
)

func mustScalar(t *testing.T, hex string) *scalar.Scalar {
	t.Helper()
	s, err := scalar.ParseNonZeroHex(hex)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSignDigestDeterministic(t *testing.T) {
	key := mustScalar(t, strings.Repeat("0", 63)+"1")
	digest := crypto.Keccak256([]byte("hello"))

	first, err := SignDigest(digest, key)
	if err != nil {
		t.Fatal(err)
	}
	second, err := SignDigest(digest, key)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Fatalf("deterministic signing diverged: %x vs %x", first.Bytes(), second.Bytes())
	}
	if first.RecoveryID > 1 {
		t.Fatalf("recovery id %d out of range", first.RecoveryID)
	}
}

func TestSignVerifyRecover(t *testing.T) {
	key, err := scalar.Random()
	if err != nil {
		t.Fatal(err)
	}
	pub, err := PublicKeyFor(key)
	if err != nil {
		t.Fatal(err)
	}
	digest := crypto.Keccak256([]byte("transfer 1 wei"))

	sig, err := SignDigest(digest, key)
	if err != nil {
		t.Fatal(err)
	}
	if !VerifyDigest(digest, sig, pub) {
		t.Fatal("signature did not verify against the signer's public key")
	}

	recovered, err := RecoverPublicKey(digest, sig)
	if err != nil {
		t.Fatal(err)
	}
	if AddressFor(recovered) != AddressFor(pub) {
		t.Fatalf("recovered %s, expected %s", AddressFor(recovered), AddressFor(pub))
	}
}

func TestSignaturesAreLowS(t *testing.T) {
	key, err := scalar.Random()
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 16; i++ {
		digest := crypto.Keccak256([]byte{byte(i)})
		sig, err := SignDigest(digest, key)
		if err != nil {
			t.Fatal(err)
		}
		var s secp256k1.ModNScalar
		s.SetBytes(&sig.S)
		if s.IsOverHalfOrder() {
			t.Fatalf("signature %d has high S", i)
		}
	}
}

func TestNormalizeSFlipsRecoveryParity(t *testing.T) {
	key, err := scalar.Random()
	if err != nil {
		t.Fatal(err)
	}
	digest := crypto.Keccak256([]byte("parity"))
	sig, err := SignDigest(digest, key)
	if err != nil {
		t.Fatal(err)
	}

	// Build the high-S counterpart and check ParseCompact folds it back.
	var s secp256k1.ModNScalar
	s.SetBytes(&sig.S)
	s.Negate()
	var highS [32]byte
	s.PutBytes(&highS)

	raw := make([]byte, 65)
	copy(raw[0:32], sig.R[:])
	copy(raw[32:64], highS[:])
	raw[64] = sig.RecoveryID ^ 1

	normalized, err := ParseCompact(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(normalized.Bytes(), sig.Bytes()) {
		t.Fatalf("normalization mismatch: %x vs %x", normalized.Bytes(), sig.Bytes())
	}
}

func TestHashPersonalMessageFraming(t *testing.T) {
	msg := []byte("hi")
	want := crypto.Keccak256(append([]byte("\x19Ethereum Signed Message:\n2"), msg...))
	if !bytes.Equal(HashPersonalMessage(msg), want) {
		t.Fatal("personal message framing mismatch")
	}
}

func TestHashTypedDataFraming(t *testing.T) {
	var domain, structHash [32]byte
	domain[0] = 0xaa
	structHash[31] = 0xbb
	preimage := append([]byte{0x19, 0x01}, domain[:]...)
	preimage = append(preimage, structHash[:]...)
	if !bytes.Equal(HashTypedData(domain, structHash), crypto.Keccak256(preimage)) {
		t.Fatal("typed data framing mismatch")
	}
}

func TestMessageSignatureV(t *testing.T) {
	key, err := scalar.Random()
	if err != nil {
		t.Fatal(err)
	}
	sig, err := SignPersonalMessage([]byte("hi"), key)
	if err != nil {
		t.Fatal(err)
	}
	v := sig.Bytes()[64]
	if v != 27 && v != 28 {
		t.Fatalf("message v = %d, expected 27 or 28", v)
	}
}

func TestSignLegacyTx(t *testing.T) {
	key, err := scalar.Random()
	if err != nil {
		t.Fatal(err)
	}
	pub, err := PublicKeyFor(key)
	if err != nil {
		t.Fatal(err)
	}

	chainID := big.NewInt(1)
	txArgs := &LegacyTxArgs{
		Nonce:    7,
		GasPrice: big.NewInt(20_000_000_000),
		GasLimit: 21000,
		To:       common.HexToAddress("0x00112233445566778899aabbccddeeff00112233"),
		Value:    big.NewInt(1_000_000_000_000_000_000),
		Data:     nil,
	}

	signedTx, sender, err := SignLegacyTx(txArgs, key, chainID)
	if err != nil {
		t.Fatal(err)
	}
	if strings.ToLower(sender.Hex()) != AddressFor(pub) {
		t.Fatalf("sender %s, expected %s", sender.Hex(), AddressFor(pub))
	}

	v, _, _ := signedTx.RawSignatureValues()
	// chainId*2 + 35 + recid for chain 1 is 37 or 38
	if v.Int64() != 37 && v.Int64() != 38 {
		t.Fatalf("eip-155 v = %d, expected 37 or 38", v.Int64())
	}
	if signedTx.ChainId().Cmp(chainID) != 0 {
		t.Fatalf("chain id %s, expected %s", signedTx.ChainId(), chainID)
	}
}
