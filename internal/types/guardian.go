package types

import (
	"github.com/guardvault/guardvault/internal/scalar"
)

// ContactType says how a guardian is reached out-of-band.
type ContactType string

const (
	ContactEmail  ContactType = "email"
	ContactPhone  ContactType = "phone"
	ContactWallet ContactType = "wallet"
	ContactOther  ContactType = "other"
)

// GuardianStatus is the lifecycle state of a guardian record.
type GuardianStatus string

const (
	GuardianPending  GuardianStatus = "pending"
	GuardianAccepted GuardianStatus = "accepted"
	GuardianDeclined GuardianStatus = "declined"
	GuardianRevoked  GuardianStatus = "revoked"
)

// Guardian is one party holding an encrypted share of the wallet key.
// ShareIndex is unique within a wallet.
type Guardian struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Contact          string         `json:"contact"`
	ContactType      ContactType    `json:"contact_type"`
	ShareIndex       int            `json:"share_index"`
	Status           GuardianStatus `json:"status"`
	AddedAt          int64          `json:"added_at"`              // unix milliseconds
	AcceptedAt       int64          `json:"accepted_at,omitempty"` // unix milliseconds
	VerificationHash string         `json:"verification_hash,omitempty"`
}

// GuardianInvite carries a guardian's sealed share record and the one-time
// verification code. The plaintext code leaves the system exactly once, with
// this invite; only its hash stays on the guardian record.
type GuardianInvite struct {
	ID               string                `json:"id"`
	GuardianID       string                `json:"guardian_id"`
	WalletAddress    string                `json:"wallet_address"`
	EncryptedShare   *EncryptedShareRecord `json:"encrypted_share"`
	VerificationCode string                `json:"verification_code"`
	ExpiresAt        int64                 `json:"expires_at"`
	CreatedAt        int64                 `json:"created_at"`
}

// GuardianApproval is one guardian's contribution to a recovery request.
type GuardianApproval struct {
	GuardianID string         `json:"guardian_id"`
	ShareIndex int            `json:"share_index"`
	ShareValue *scalar.Scalar `json:"-"` // plaintext share, zeroized on cancel
	ApprovedAt int64          `json:"approved_at"`
}
