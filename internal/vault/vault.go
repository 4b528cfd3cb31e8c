// Package vault composes the envelope cipher, threshold wallet, guardian
// table and recovery coordinator behind one API surface. A Vault is what the
// HTTP layer and embedding applications talk to.
package vault

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/guardvault/guardvault/common"
	"github.com/guardvault/guardvault/internal/envelope"
	"github.com/guardvault/guardvault/internal/guardian"
	"github.com/guardvault/guardvault/internal/recovery"
	"github.com/guardvault/guardvault/internal/scalar"
	"github.com/guardvault/guardvault/internal/sigutil"
	"github.com/guardvault/guardvault/internal/types"
	"github.com/guardvault/guardvault/internal/wallet"
)

var (
	// ErrConfigInvalid is returned when the share partition violates the
	// setup constraints.
	ErrConfigInvalid = errors.New("invalid social recovery configuration")

	// ErrGuardianCount is returned when the guardian descriptor count does
	// not equal totalShares - ownerShares.
	ErrGuardianCount = errors.New("guardian count must equal total shares minus owner shares")

	// ErrNotSetUp is returned when an operation needs a completed setup.
	ErrNotSetUp = errors.New("vault has not been set up")
)

// Config fixes how the key is partitioned between the owner and guardians
// and the timing policy of recovery.
type Config struct {
	TotalShares    int   `json:"total_shares"`
	Threshold      int   `json:"threshold"`
	OwnerShares    int   `json:"owner_shares"`
	TimelockHours  int64 `json:"timelock_hours"`
	ExpirationDays int64 `json:"expiration_days"`
	CooldownHours  int64 `json:"cooldown_hours"`
}

// Validate checks the partition constraints. Guardians alone must be able to
// reach the threshold, so recovery works with the owner absent.
func (c Config) Validate() error {
	switch {
	case c.Threshold < 2:
		return fmt.Errorf("threshold %d below 2: %w", c.Threshold, ErrConfigInvalid)
	case c.OwnerShares < 1:
		return fmt.Errorf("owner shares %d below 1: %w", c.OwnerShares, ErrConfigInvalid)
	case c.TotalShares < c.Threshold:
		return fmt.Errorf("total %d below threshold %d: %w", c.TotalShares, c.Threshold, ErrConfigInvalid)
	case c.OwnerShares > c.TotalShares-1:
		return fmt.Errorf("owner shares %d leave no guardian shares: %w", c.OwnerShares, ErrConfigInvalid)
	case c.TotalShares-c.OwnerShares < c.Threshold:
		return fmt.Errorf("guardians alone cannot reach threshold %d: %w", c.Threshold, ErrConfigInvalid)
	}
	return nil
}

// GuardianDescriptor describes one guardian at setup time.
type GuardianDescriptor struct {
	Name          string
	Contact       string
	ContactType   types.ContactType
	SharePassword string
}

// SetupResult is what setup hands back to the caller: the public wallet
// state, one invite per guardian, and the owner's plaintext shares for the
// single backup window. The caller zeroizes the plain shares once delivered.
type SetupResult struct {
	WalletState      *wallet.State
	GuardianInvites  []*types.GuardianInvite
	OwnerPlainShares []types.KeyShareRecord
}

// Vault is the composed social-recovery wallet. Not safe for concurrent use.
type Vault struct {
	cfg         Config
	wallet      *wallet.Wallet
	guardians   *guardian.Manager
	coordinator *recovery.Coordinator
	ownerShares []types.EncryptedShareRecord
	logger      *logrus.Entry
}

// New builds an empty vault with the given configuration.
func New(cfg Config, logger *logrus.Logger) (*Vault, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Vault{
		cfg:       cfg,
		wallet:    wallet.New(logger),
		guardians: guardian.NewManager(logger),
		coordinator: recovery.NewCoordinator(recovery.Config{
			TimelockMs:   cfg.TimelockHours * time.Hour.Milliseconds(),
			ExpirationMs: cfg.ExpirationDays * 24 * time.Hour.Milliseconds(),
			CooldownMs:   cfg.CooldownHours * time.Hour.Milliseconds(),
		}, logger),
		logger: logger.WithField("component", "vault"),
	}, nil
}

// Setup creates a fresh wallet key and partitions it: the first OwnerShares
// shares are sealed under the owner password and kept, the rest become one
// guardian invite each.
func (v *Vault) Setup(ownerPassword string, guardians []GuardianDescriptor) (*SetupResult, error) {
	return v.setup(nil, ownerPassword, guardians)
}

// SetupWithKey is Setup for an externally derived key, for example from a
// BIP-39 mnemonic.
func (v *Vault) SetupWithKey(key *scalar.Scalar, ownerPassword string, guardians []GuardianDescriptor) (*SetupResult, error) {
	if key == nil || key.IsZero() {
		return nil, scalar.ErrInvalidScalar
	}
	return v.setup(key, ownerPassword, guardians)
}

func (v *Vault) setup(key *scalar.Scalar, ownerPassword string, descriptors []GuardianDescriptor) (*SetupResult, error) {
	guardianCount := v.cfg.TotalShares - v.cfg.OwnerShares
	if len(descriptors) != guardianCount {
		return nil, fmt.Errorf("got %d descriptors for %d guardian shares: %w", len(descriptors), guardianCount, ErrGuardianCount)
	}

	passwords := make([]string, 0, v.cfg.TotalShares)
	for i := 0; i < v.cfg.OwnerShares; i++ {
		passwords = append(passwords, ownerPassword)
	}
	for _, d := range descriptors {
		passwords = append(passwords, d.SharePassword)
	}

	shareCfg := types.ShareConfig{TotalShares: v.cfg.TotalShares, Threshold: v.cfg.Threshold}
	var result *wallet.CreateResult
	var err error
	if key != nil {
		result, err = v.wallet.ImportKey(key, shareCfg, passwords)
	} else {
		result, err = v.wallet.Create(shareCfg, passwords)
	}
	if err != nil {
		return nil, err
	}

	v.ownerShares = make([]types.EncryptedShareRecord, v.cfg.OwnerShares)
	for i := 0; i < v.cfg.OwnerShares; i++ {
		rec := result.EncryptedShares[i]
		rec.Label = "owner"
		v.ownerShares[i] = rec
	}

	invites := make([]*types.GuardianInvite, 0, guardianCount)
	for i, d := range descriptors {
		shareRec := result.EncryptedShares[v.cfg.OwnerShares+i]
		g, err := v.guardians.Add(d.Name, d.Contact, d.ContactType, shareRec.Index)
		if err != nil {
			return nil, err
		}
		shareRec.Label = d.Name
		invite, err := v.guardians.CreateInvite(g.ID, result.State.Address, &shareRec)
		if err != nil {
			return nil, err
		}
		invites = append(invites, invite)
	}

	// guardian plaintext shares are never handed out
	for i := v.cfg.OwnerShares; i < len(result.PlainShares); i++ {
		result.PlainShares[i].Scalar.Zeroize()
	}

	v.logger.WithFields(logrus.Fields{
		"address":   result.State.Address,
		"guardians": guardianCount,
	}).Info("vault set up")
	return &SetupResult{
		WalletState:      result.State,
		GuardianInvites:  invites,
		OwnerPlainShares: result.PlainShares[:v.cfg.OwnerShares],
	}, nil
}

// LoadState adopts a previously created wallet state together with the
// owner's sealed shares.
func (v *Vault) LoadState(state *wallet.State, ownerShares []types.EncryptedShareRecord) {
	v.wallet.LoadState(state)
	v.ownerShares = ownerShares
}

// State returns the wallet state, or nil before setup.
func (v *Vault) State() *wallet.State {
	return v.wallet.State()
}

// UnlockOwnerShares opens every owner share with the one owner password and
// feeds them into the wallet. It reports true only when all of them decrypt;
// a wrong password reports false without an error.
func (v *Vault) UnlockOwnerShares(password string) (bool, error) {
	if v.wallet.State() == nil {
		return false, ErrNotSetUp
	}
	if len(v.ownerShares) == 0 {
		return false, ErrNotSetUp
	}
	for i := range v.ownerShares {
		ok, err := v.wallet.AddShare(&v.ownerShares[i], password)
		if err != nil {
			if errors.Is(err, wallet.ErrAlreadyCollected) {
				continue
			}
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// VerifyOwnerPassword checks the owner password against the first owner
// share without collecting it. Wrong passwords report false, not an error.
func (v *Vault) VerifyOwnerPassword(password string) (bool, error) {
	if len(v.ownerShares) == 0 {
		return false, ErrNotSetUp
	}
	plaintext, err := envelope.Open(v.ownerShares[0].EncryptedShare, password)
	if err != nil {
		if errors.Is(err, envelope.ErrUndecryptable) {
			return false, nil
		}
		return false, err
	}
	common.Zero(plaintext)
	return true, nil
}

// AddGuardianShare feeds one guardian's sealed share into the wallet.
func (v *Vault) AddGuardianShare(record *types.EncryptedShareRecord, password string) (bool, error) {
	return v.wallet.AddShare(record, password)
}

// CanSign reports whether the collected shares reach the threshold.
func (v *Vault) CanSign() bool {
	return v.wallet.CanSign()
}

// SignMessage signs bytes in the personal-sign framing.
func (v *Vault) SignMessage(msg []byte) (*sigutil.Signature, error) {
	return v.wallet.SignMessage(msg)
}

// SignTypedData signs an EIP-712 digest.
func (v *Vault) SignTypedData(domainSeparator, structHash [32]byte) (*sigutil.Signature, error) {
	return v.wallet.SignTypedData(domainSeparator, structHash)
}

// SignTransaction signs a legacy transaction.
func (v *Vault) SignTransaction(txArgs *sigutil.LegacyTxArgs, chainID *big.Int) (*ethtypes.Transaction, error) {
	return v.wallet.SignTransaction(txArgs, chainID)
}

// Lock drops every collected share.
func (v *Vault) Lock() {
	v.wallet.Lock()
}

// Guardians exposes the guardian manager for invite processing and queries.
func (v *Vault) Guardians() *guardian.Manager {
	return v.guardians
}

// InitiateRecovery opens a recovery request for this wallet.
func (v *Vault) InitiateRecovery(initiator, reason string) (*types.RecoveryRequest, error) {
	state := v.wallet.State()
	if state == nil {
		return nil, ErrNotSetUp
	}
	return v.coordinator.Initiate(recovery.InitiateParams{
		WalletAddress: state.Address,
		KeyID:         state.KeyID,
		Initiator:     initiator,
		Reason:        reason,
		Threshold:     v.cfg.Threshold,
	})
}

// AddRecoveryApproval records a guardian's decrypted share value against a
// request. The guardian must exist; their share index travels with the value.
func (v *Vault) AddRecoveryApproval(requestID, guardianID string, shareValue *scalar.Scalar) (*types.RecoveryRequest, error) {
	g, err := v.guardians.Get(guardianID)
	if err != nil {
		return nil, err
	}
	return v.coordinator.AddApproval(requestID, types.GuardianApproval{
		GuardianID: g.ID,
		ShareIndex: g.ShareIndex,
		ShareValue: shareValue,
	})
}

// ExecuteRecovery combines the approvals of a ready request into the wallet
// key. The caller owns the returned scalar and must zeroize it.
func (v *Vault) ExecuteRecovery(requestID string) (*scalar.Scalar, error) {
	return v.coordinator.Execute(requestID)
}

// CancelRecovery aborts a running request and wipes its approval shares.
func (v *Vault) CancelRecovery(requestID string) error {
	return v.coordinator.Cancel(requestID)
}

// RecoveryStatus returns the wallet's current non-terminal request, if any.
func (v *Vault) RecoveryStatus() *types.RecoveryRequest {
	state := v.wallet.State()
	if state == nil {
		return nil
	}
	return v.coordinator.GetPendingRequest(state.Address)
}

// RecoveryRequest returns any request by id.
func (v *Vault) RecoveryRequest(requestID string) (*types.RecoveryRequest, error) {
	return v.coordinator.GetRequest(requestID)
}

// ApprovalProgress reports how close a request is to its threshold.
func (v *Vault) ApprovalProgress(requestID string) (*types.ApprovalProgress, error) {
	return v.coordinator.ApprovalProgress(requestID)
}

// TimelockRemaining reports the milliseconds left on a request's timelock.
func (v *Vault) TimelockRemaining(requestID string) (int64, error) {
	return v.coordinator.TimelockRemaining(requestID)
}

// ExportGuardians returns the guardian records for persistence. Invites are
// transient and never exported.
func (v *Vault) ExportGuardians() []*types.Guardian {
	return v.guardians.Export()
}

// ImportGuardians restores previously exported guardian records.
func (v *Vault) ImportGuardians(guardians []*types.Guardian) {
	v.guardians.Import(guardians)
}

// OwnerShares returns the owner's sealed share records.
func (v *Vault) OwnerShares() []types.EncryptedShareRecord {
	return v.ownerShares
}
