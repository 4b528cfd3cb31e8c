package types

import "errors"

// AuthRequest trades the owner password for a bearer token.
type AuthRequest struct {
	Password string `json:"password" validate:"required"`
}

type AuthResponse struct {
	Token string `json:"token"`
}

// GuardianDescriptorRequest describes one guardian in a setup request.
type GuardianDescriptorRequest struct {
	Name          string `json:"name" validate:"required"`
	Contact       string `json:"contact" validate:"required"`
	ContactType   string `json:"contact_type" validate:"required"`
	SharePassword string `json:"share_password" validate:"required"`
}

// SetupRequest creates the wallet and its share partition.
type SetupRequest struct {
	OwnerPassword string                      `json:"owner_password" validate:"required"`
	ImportedKey   string                      `json:"imported_key,omitempty"` // optional 64-hex scalar
	Guardians     []GuardianDescriptorRequest `json:"guardians" validate:"required"`
}

// IsValid checks the request before it reaches the vault.
func (r SetupRequest) IsValid() error {
	if r.OwnerPassword == "" {
		return errors.New("owner_password is required")
	}
	if len(r.Guardians) == 0 {
		return errors.New("at least one guardian is required")
	}
	for _, g := range r.Guardians {
		if g.Name == "" || g.Contact == "" || g.SharePassword == "" {
			return errors.New("guardian name, contact and share_password are required")
		}
	}
	return nil
}

// InviteSummary is the invite as returned over the API: everything except
// the verification code, which travels out-of-band only.
type InviteSummary struct {
	InviteID   string `json:"invite_id"`
	GuardianID string `json:"guardian_id"`
	ShareIndex int    `json:"share_index"`
	ExpiresAt  int64  `json:"expires_at"`
}

// SetupResponse returns the public wallet state, the owner's sealed shares,
// the one-time plaintext owner shares for backup, and the invite summaries.
type SetupResponse struct {
	WalletAddress    string                 `json:"wallet_address"`
	PublicKey        string                 `json:"public_key"`
	KeyID            string                 `json:"key_id"`
	OwnerShares      []EncryptedShareRecord `json:"owner_shares"`
	OwnerPlainShares []string               `json:"owner_plain_shares"`
	Invites          []InviteSummary        `json:"invites"`
}

// AddShareRequest feeds a guardian's sealed share into the signing session.
type AddShareRequest struct {
	Share    EncryptedShareRecord `json:"share" validate:"required"`
	Password string               `json:"password" validate:"required"`
}

// LegacyTxRequest carries the fields of a legacy transaction to sign.
type LegacyTxRequest struct {
	Nonce    uint64 `json:"nonce"`
	GasPrice string `json:"gas_price" validate:"required"` // decimal wei
	GasLimit uint64 `json:"gas_limit" validate:"required"`
	To       string `json:"to" validate:"required"`
	Value    string `json:"value"` // decimal wei
	Data     string `json:"data"`  // hex
	ChainID  int64  `json:"chain_id" validate:"required"`
}

// SignRequest signs a message, typed data or transaction with the collected
// shares.
type SignRequest struct {
	Type            string           `json:"type" validate:"required"` // message | typed_data | transaction
	Message         string           `json:"message,omitempty"`
	DomainSeparator string           `json:"domain_separator,omitempty"` // 32-byte hex
	StructHash      string           `json:"struct_hash,omitempty"`      // 32-byte hex
	Transaction     *LegacyTxRequest `json:"transaction,omitempty"`
}

// SignResponse returns the signature, and for transactions the RLP-encoded
// signed transaction.
type SignResponse struct {
	Signature string `json:"signature,omitempty"` // r||s||v, 65 bytes hex
	SignedTx  string `json:"signed_tx,omitempty"`
	TxHash    string `json:"tx_hash,omitempty"`
}

// GuardianRespondRequest settles an invite with the out-of-band code.
type GuardianRespondRequest struct {
	InviteID         string `json:"invite_id" validate:"required"`
	GuardianID       string `json:"guardian_id" validate:"required"`
	Accepted         bool   `json:"accepted"`
	VerificationCode string `json:"verification_code" validate:"required"`
}

// ResendInviteRequest re-delivers a pending invite email.
type ResendInviteRequest struct {
	GuardianID string `json:"guardian_id" validate:"required"`
	Email      string `json:"email" validate:"required"`
}

// RecoveryInitiateRequest opens a recovery request.
type RecoveryInitiateRequest struct {
	Initiator string `json:"initiator" validate:"required"`
	Reason    string `json:"reason"`
}

// RecoveryApproveRequest records one guardian's decrypted share value.
type RecoveryApproveRequest struct {
	RequestID  string `json:"request_id" validate:"required"`
	GuardianID string `json:"guardian_id" validate:"required"`
	ShareValue string `json:"share_value" validate:"required"` // 64-hex scalar
}

// RecoveryRequestRef names a recovery request.
type RecoveryRequestRef struct {
	RequestID string `json:"request_id" validate:"required"`
}

// RecoveryExecuteResponse returns the reconstructed wallet key to the
// recovering party.
type RecoveryExecuteResponse struct {
	Secret string `json:"secret"` // 64-hex scalar
}

// RecoveryStatusResponse summarizes the wallet's open request.
type RecoveryStatusResponse struct {
	Request           *RecoveryRequest  `json:"request,omitempty"`
	Progress          *ApprovalProgress `json:"progress,omitempty"`
	TimelockRemaining int64             `json:"timelock_remaining_ms"`
}
