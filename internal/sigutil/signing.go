// Package sigutil produces and verifies secp256k1 ECDSA signatures in the
// Ethereum framings: raw 32-byte digests, personal-sign messages, EIP-712
// typed data and EIP-155 legacy transactions.
package sigutil

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/guardvault/guardvault/internal/scalar"
)

var (
	// ErrInvalidDigest is returned when a digest is not exactly 32 bytes.
	ErrInvalidDigest = errors.New("digest must be 32 bytes")

	// ErrInvalidSignature is returned when a signature fails to parse or its
	// recovery id is out of range.
	ErrInvalidSignature = errors.New("invalid signature")
)

// Signature is an ECDSA signature with its recovery id. S is always in the
// lower half of the order.
type Signature struct {
	R          [32]byte
	S          [32]byte
	RecoveryID byte
}

// Compact returns r || s || recoveryID with the raw 0/1 recovery id, the form
// consumed by public-key recovery.
func (s *Signature) Compact() []byte {
	sig := make([]byte, 65)
	copy(sig[0:32], s.R[:])
	copy(sig[32:64], s.S[:])
	sig[64] = s.RecoveryID
	return sig
}

// Bytes returns the 65-byte message-signature serialization r || s || v with
// v = 27 + recoveryID.
func (s *Signature) Bytes() []byte {
	sig := s.Compact()
	sig[64] += 27
	return sig
}

// ParseCompact parses r || s || v, accepting v in {0,1} and {27,28}. The
// signature is normalized to low-S.
func ParseCompact(sig []byte) (*Signature, error) {
	if len(sig) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d: %w", len(sig), ErrInvalidSignature)
	}
	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return nil, fmt.Errorf("recovery id %d: %w", sig[64], ErrInvalidSignature)
	}
	out := &Signature{RecoveryID: v}
	copy(out.R[:], sig[0:32])
	copy(out.S[:], sig[32:64])
	out.normalizeS()
	return out, nil
}

// normalizeS replaces s with n-s when it lies in the upper half of the order
// and flips the recovery id's parity to match.
func (s *Signature) normalizeS() {
	var sv secp256k1.ModNScalar
	sv.SetBytes(&s.S)
	if !sv.IsOverHalfOrder() {
		return
	}
	sv.Negate()
	sv.PutBytes(&s.S)
	s.RecoveryID ^= 1
}

// SignDigest signs a 32-byte digest with the given scalar using RFC-6979
// deterministic nonces; the resulting s is low-S and the recovery id is 0 or
// 1. The expanded private key is wiped before returning.
func SignDigest(digest []byte, key *scalar.Scalar) (*Signature, error) {
	if len(digest) != 32 {
		return nil, ErrInvalidDigest
	}
	priv, err := privateKeyFor(key)
	if err != nil {
		return nil, err
	}
	defer zeroKey(priv)

	raw, err := crypto.Sign(digest, priv)
	if err != nil {
		return nil, fmt.Errorf("fail to sign digest: %w", err)
	}
	return ParseCompact(raw)
}

// HashPersonalMessage applies the personal-sign framing
// 0x19 || "Ethereum Signed Message:\n" || len || msg and returns its
// Keccak-256 digest.
func HashPersonalMessage(msg []byte) []byte {
	return crypto.Keccak256([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(msg), msg)))
}

// HashTypedData applies the EIP-712 framing
// 0x19 0x01 || domainSeparator || structHash and returns its Keccak-256
// digest.
func HashTypedData(domainSeparator, structHash [32]byte) []byte {
	return crypto.Keccak256([]byte{0x19, 0x01}, domainSeparator[:], structHash[:])
}

// SignPersonalMessage signs arbitrary bytes in the personal-sign framing.
func SignPersonalMessage(msg []byte, key *scalar.Scalar) (*Signature, error) {
	return SignDigest(HashPersonalMessage(msg), key)
}

// SignTypedData signs a typed-data digest built from a domain separator and
// struct hash.
func SignTypedData(domainSeparator, structHash [32]byte, key *scalar.Scalar) (*Signature, error) {
	return SignDigest(HashTypedData(domainSeparator, structHash), key)
}

// VerifyDigest reports whether sig is a valid signature over digest by pub.
// The recovery id is not consulted.
func VerifyDigest(digest []byte, sig *Signature, pub *ecdsa.PublicKey) bool {
	if len(digest) != 32 {
		return false
	}
	return crypto.VerifySignature(crypto.CompressPubkey(pub), digest, sig.Compact()[:64])
}

// RecoverPublicKey returns the public key that produced sig over digest.
func RecoverPublicKey(digest []byte, sig *Signature) (*ecdsa.PublicKey, error) {
	if len(digest) != 32 {
		return nil, ErrInvalidDigest
	}
	pub, err := crypto.SigToPub(digest, sig.Compact())
	if err != nil {
		return nil, fmt.Errorf("fail to recover public key: %w", err)
	}
	return pub, nil
}

// PublicKeyFor derives the public key of a secret scalar.
func PublicKeyFor(key *scalar.Scalar) (*ecdsa.PublicKey, error) {
	priv, err := privateKeyFor(key)
	if err != nil {
		return nil, err
	}
	defer zeroKey(priv)
	pub := priv.PublicKey
	return &pub, nil
}

// CompressedPublicKeyHex returns the 33-byte compressed point as lower hex.
func CompressedPublicKeyHex(pub *ecdsa.PublicKey) string {
	return fmt.Sprintf("%x", crypto.CompressPubkey(pub))
}

// ParsePublicKeyHex parses a hex-encoded compressed or uncompressed point.
func ParsePublicKeyHex(str string) (*ecdsa.PublicKey, error) {
	raw := common.FromHex(str)
	if len(raw) == 33 {
		pub, err := crypto.DecompressPubkey(raw)
		if err != nil {
			return nil, fmt.Errorf("fail to decompress public key: %w", err)
		}
		return pub, nil
	}
	pub, err := crypto.UnmarshalPubkey(raw)
	if err != nil {
		return nil, fmt.Errorf("fail to parse public key: %w", err)
	}
	return pub, nil
}

// AddressFor derives the 20-byte identifier: the last 20 bytes of the
// Keccak-256 of the 64-byte uncompressed point, 0x-prefixed lower hex.
func AddressFor(pub *ecdsa.PublicKey) string {
	return strings.ToLower(crypto.PubkeyToAddress(*pub).Hex())
}

// LegacyTxArgs are the fields of a pre-EIP-1559 transaction to sign.
type LegacyTxArgs struct {
	Nonce    uint64
	GasPrice *big.Int
	GasLimit uint64
	To       common.Address
	Value    *big.Int
	Data     []byte
}

// SigningHash computes the EIP-155 preimage digest by RLP-encoding
// (nonce, gasPrice, gasLimit, to, value, data, chainId, 0, 0) and hashing it
// with Keccak-256.
func (tx *LegacyTxArgs) SigningHash(chainID *big.Int) ([]byte, error) {
	var buf bytes.Buffer
	err := rlp.Encode(&buf, []interface{}{
		tx.Nonce,
		tx.GasPrice,
		tx.GasLimit,
		tx.To,
		tx.Value,
		tx.Data,
		chainID,
		uint(0),
		uint(0),
	})
	if err != nil {
		return nil, fmt.Errorf("fail to rlp encode transaction: %w", err)
	}
	return crypto.Keccak256(buf.Bytes()), nil
}

// SignLegacyTx signs a legacy transaction for the given chain and returns the
// signed transaction together with the recovered sender as a cross-check.
// The EIP-155 v is chainId*2 + 35 + recoveryID.
func SignLegacyTx(txArgs *LegacyTxArgs, key *scalar.Scalar, chainID *big.Int) (*types.Transaction, *common.Address, error) {
	digest, err := txArgs.SigningHash(chainID)
	if err != nil {
		return nil, nil, err
	}
	sig, err := SignDigest(digest, key)
	if err != nil {
		return nil, nil, err
	}

	tx := types.NewTransaction(
		txArgs.Nonce,
		txArgs.To,
		txArgs.Value,
		txArgs.GasLimit,
		txArgs.GasPrice,
		txArgs.Data,
	)
	signer := types.NewEIP155Signer(chainID)
	signedTx, err := tx.WithSignature(signer, sig.Compact())
	if err != nil {
		return nil, nil, fmt.Errorf("fail to attach signature: %w", err)
	}

	sender, err := signer.Sender(signedTx)
	if err != nil {
		return nil, nil, fmt.Errorf("fail to recover sender: %w", err)
	}
	return signedTx, &sender, nil
}

func privateKeyFor(key *scalar.Scalar) (*ecdsa.PrivateKey, error) {
	b := key.Bytes()
	priv, err := crypto.ToECDSA(b[:])
	zero(b[:])
	if err != nil {
		return nil, fmt.Errorf("fail to expand private key: %w", err)
	}
	return priv, nil
}

// zeroKey wipes the private scalar's words in place.
func zeroKey(priv *ecdsa.PrivateKey) {
	b := priv.D.Bits()
	for i := range b {
		b[i] = 0
	}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
