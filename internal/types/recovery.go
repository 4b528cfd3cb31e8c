package types

import "github.com/guardvault/guardvault/internal/scalar"

// RecoveryStatus is the lifecycle state of a recovery request. Executed,
// cancelled and expired are terminal.
type RecoveryStatus string

const (
	RecoveryPending   RecoveryStatus = "pending"
	RecoveryApproved  RecoveryStatus = "approved"
	RecoveryReady     RecoveryStatus = "ready"
	RecoveryExecuted  RecoveryStatus = "executed"
	RecoveryCancelled RecoveryStatus = "cancelled"
	RecoveryExpired   RecoveryStatus = "expired"
)

// IsTerminal reports whether no further transition is possible.
func (s RecoveryStatus) IsTerminal() bool {
	switch s {
	case RecoveryExecuted, RecoveryCancelled, RecoveryExpired:
		return true
	}
	return false
}

// RecoveryRequest tracks one attempt to reconstruct a wallet key from
// guardian approvals. At most one non-terminal request exists per wallet
// address at any time. All timestamps are unix milliseconds.
type RecoveryRequest struct {
	ID                string             `json:"id"`
	WalletAddress     string             `json:"wallet_address"`
	KeyID             string             `json:"key_id"`
	Initiator         string             `json:"initiator"`
	Reason            string             `json:"reason"`
	Status            RecoveryStatus     `json:"status"`
	Threshold         int                `json:"threshold"`
	Approvals         []GuardianApproval `json:"approvals"`
	TimelockMs        int64              `json:"timelock_ms"`
	CreatedAt         int64              `json:"created_at"`
	ApprovedAt        int64              `json:"approved_at,omitempty"`
	TimelockExpiresAt int64              `json:"timelock_expires_at,omitempty"`
	ExpiresAt         int64              `json:"expires_at"`
	ExecutedAt        int64              `json:"executed_at,omitempty"`

	// RecoveredSecret is set only once status is executed; it is never
	// serialized.
	RecoveredSecret *scalar.Scalar `json:"-"`
}

// ApprovalProgress summarizes how close a request is to its threshold.
type ApprovalProgress struct {
	Current    int     `json:"current"`
	Required   int     `json:"required"`
	Percentage float64 `json:"percentage"`
}
