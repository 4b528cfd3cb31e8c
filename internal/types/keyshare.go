package types

import (
	"github.com/guardvault/guardvault/internal/envelope"
	"github.com/guardvault/guardvault/internal/scalar"
)

// ShareConfig describes how a wallet key is split.
type ShareConfig struct {
	TotalShares int `json:"total_shares"`
	Threshold   int `json:"threshold"`
}

// KeyShareRecord is one plaintext share of a wallet key. It exists only in
// the brief window where the owner backs up their own share; everywhere else
// shares travel as EncryptedShareRecord.
type KeyShareRecord struct {
	Index     int            `json:"index"`      // share x value, 1..255
	Scalar    *scalar.Scalar `json:"-"`          // share y value, never serialized
	PublicKey string         `json:"public_key"` // compressed point, lower hex
	Address   string         `json:"address"`    // 0x-prefixed lower hex identifier
	KeyID     string         `json:"key_id"`     // random 16-byte id shared by all records of one wallet
	Config    ShareConfig    `json:"config"`
}

// EncryptedShareRecord is a KeyShareRecord whose scalar is sealed inside a
// password envelope. The envelope plaintext is the 64-character hex scalar.
type EncryptedShareRecord struct {
	Index          int                `json:"index"`
	EncryptedShare *envelope.Envelope `json:"encrypted_share"`
	PublicKey      string             `json:"public_key"`
	Address        string             `json:"address"`
	KeyID          string             `json:"key_id"`
	Config         ShareConfig        `json:"config"`
	Label          string             `json:"label,omitempty"`
}
