// Package wallet orchestrates a threshold wallet: it splits a signing key
// into password-sealed shares, collects decrypted shares back, and signs by
// reconstructing the key only for the duration of one signature.
package wallet

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/guardvault/guardvault/common"
	"github.com/guardvault/guardvault/internal/envelope"
	"github.com/guardvault/guardvault/internal/scalar"
	"github.com/guardvault/guardvault/internal/shamir"
	"github.com/guardvault/guardvault/internal/sigutil"
	vtypes "github.com/guardvault/guardvault/internal/types"
)

var (
	// ErrConfigInvalid is returned when the share configuration violates
	// 2 <= threshold <= total <= 255.
	ErrConfigInvalid = errors.New("invalid share configuration")

	// ErrPasswordCount is returned when the password list length differs
	// from the share count.
	ErrPasswordCount = errors.New("password count must equal total shares")

	// ErrNoState is returned when an operation needs a loaded wallet state.
	ErrNoState = errors.New("no wallet state loaded")

	// ErrWrongWallet is returned when a share's key id does not match the
	// loaded state.
	ErrWrongWallet = errors.New("share belongs to a different wallet")

	// ErrAlreadyCollected is returned when a share index is added twice.
	ErrAlreadyCollected = errors.New("share index already collected")

	// ErrNotEnoughShares is returned when signing is attempted below the
	// threshold.
	ErrNotEnoughShares = errors.New("not enough shares collected to sign")

	// ErrShareMismatch is returned when the collected shares reconstruct a
	// key that does not match the wallet's public key.
	ErrShareMismatch = errors.New("reconstructed key does not match wallet public key")
)

// State is the immutable public description of a wallet.
type State struct {
	KeyID     string             `json:"key_id"`
	PublicKey string             `json:"public_key"`
	Address   string             `json:"address"`
	Config    vtypes.ShareConfig `json:"config"`
}

// CreateResult is everything produced by wallet creation. PlainShares exist
// so the caller can hand the owner their share for backup right away; they
// must be zeroized once delivered.
type CreateResult struct {
	State           *State
	EncryptedShares []vtypes.EncryptedShareRecord
	PlainShares     []vtypes.KeyShareRecord
}

// Wallet holds the loaded state and the shares collected so far. Instances
// are not safe for concurrent use; callers serialize access.
type Wallet struct {
	state     *State
	collected map[int]*scalar.Scalar
	logger    *logrus.Entry
}

// New returns an empty wallet.
func New(logger *logrus.Logger) *Wallet {
	return &Wallet{
		collected: make(map[int]*scalar.Scalar),
		logger:    logger.WithField("component", "wallet"),
	}
}

// Create generates a fresh signing key, splits it per cfg and seals each
// share with its password. passwords[i] seals the share with index i+1.
func (w *Wallet) Create(cfg vtypes.ShareConfig, passwords []string) (*CreateResult, error) {
	key, err := scalar.Random()
	if err != nil {
		return nil, fmt.Errorf("fail to generate wallet key: %w", err)
	}
	defer key.Zeroize()
	return w.create(key, cfg, passwords)
}

// ImportKey splits an externally derived signing key, for example one taken
// from a BIP-39 seed. The scalar must be in [1, n-1].
func (w *Wallet) ImportKey(key *scalar.Scalar, cfg vtypes.ShareConfig, passwords []string) (*CreateResult, error) {
	if key == nil || key.IsZero() {
		return nil, scalar.ErrInvalidScalar
	}
	return w.create(key, cfg, passwords)
}

func (w *Wallet) create(key *scalar.Scalar, cfg vtypes.ShareConfig, passwords []string) (*CreateResult, error) {
	if cfg.Threshold < 2 || cfg.Threshold > cfg.TotalShares || cfg.TotalShares > shamir.MaxShares {
		return nil, fmt.Errorf("total %d threshold %d: %w", cfg.TotalShares, cfg.Threshold, ErrConfigInvalid)
	}
	if len(passwords) != cfg.TotalShares {
		return nil, fmt.Errorf("got %d passwords for %d shares: %w", len(passwords), cfg.TotalShares, ErrPasswordCount)
	}

	pub, err := sigutil.PublicKeyFor(key)
	if err != nil {
		return nil, fmt.Errorf("fail to derive public key: %w", err)
	}
	keyID, err := common.RandomHex(16)
	if err != nil {
		return nil, err
	}
	state := &State{
		KeyID:     keyID,
		PublicKey: sigutil.CompressedPublicKeyHex(pub),
		Address:   sigutil.AddressFor(pub),
		Config:    cfg,
	}

	shares, err := shamir.Split(key, cfg.TotalShares, cfg.Threshold)
	if err != nil {
		return nil, fmt.Errorf("fail to split key: %w", err)
	}

	result := &CreateResult{
		State:           state,
		EncryptedShares: make([]vtypes.EncryptedShareRecord, len(shares)),
		PlainShares:     make([]vtypes.KeyShareRecord, len(shares)),
	}
	for i, sh := range shares {
		env, err := envelope.Seal([]byte(sh.Y.Hex()), passwords[i])
		if err != nil {
			return nil, fmt.Errorf("fail to seal share %d: %w", sh.X, err)
		}
		result.EncryptedShares[i] = vtypes.EncryptedShareRecord{
			Index:          int(sh.X),
			EncryptedShare: env,
			PublicKey:      state.PublicKey,
			Address:        state.Address,
			KeyID:          state.KeyID,
			Config:         cfg,
		}
		result.PlainShares[i] = vtypes.KeyShareRecord{
			Index:     int(sh.X),
			Scalar:    sh.Y,
			PublicKey: state.PublicKey,
			Address:   state.Address,
			KeyID:     state.KeyID,
			Config:    cfg,
		}
	}

	w.state = state
	w.clearCollected()
	w.logger.WithFields(logrus.Fields{
		"key_id":  state.KeyID,
		"address": state.Address,
		"total":   cfg.TotalShares,
	}).Info("wallet created")
	return result, nil
}

// LoadState adopts a previously created wallet state.
func (w *Wallet) LoadState(state *State) {
	w.state = state
	w.clearCollected()
}

// State returns the loaded wallet state, or nil.
func (w *Wallet) State() *State {
	return w.state
}

// AddShare opens a sealed share and adds it to the collected set. A wrong
// password returns (false, nil) so callers can let the user retry without
// learning which check failed.
func (w *Wallet) AddShare(record *vtypes.EncryptedShareRecord, password string) (bool, error) {
	if w.state == nil {
		return false, ErrNoState
	}
	if record.KeyID != w.state.KeyID {
		return false, fmt.Errorf("share key id %s: %w", record.KeyID, ErrWrongWallet)
	}
	if _, ok := w.collected[record.Index]; ok {
		return false, fmt.Errorf("index %d: %w", record.Index, ErrAlreadyCollected)
	}

	plaintext, err := envelope.Open(record.EncryptedShare, password)
	if err != nil {
		if errors.Is(err, envelope.ErrUndecryptable) {
			return false, nil
		}
		return false, err
	}
	value, err := scalar.ParseNonZeroHex(string(plaintext))
	common.Zero(plaintext)
	if err != nil {
		return false, err
	}

	w.collected[record.Index] = value
	w.logger.WithFields(logrus.Fields{
		"key_id": w.state.KeyID,
		"index":  record.Index,
		"count":  len(w.collected),
	}).Debug("share collected")
	return true, nil
}

// CanSign reports whether enough shares are collected to reach the
// threshold.
func (w *Wallet) CanSign() bool {
	return w.state != nil && len(w.collected) >= w.state.Config.Threshold
}

// CollectedCount returns how many shares are currently held.
func (w *Wallet) CollectedCount() int {
	return len(w.collected)
}

// SignMessage signs arbitrary bytes in the personal-sign framing.
func (w *Wallet) SignMessage(msg []byte) (*sigutil.Signature, error) {
	var sig *sigutil.Signature
	err := w.withKey(func(key *scalar.Scalar) error {
		var err error
		sig, err = sigutil.SignPersonalMessage(msg, key)
		return err
	})
	return sig, err
}

// SignTypedData signs an EIP-712 digest built from the domain separator and
// struct hash.
func (w *Wallet) SignTypedData(domainSeparator, structHash [32]byte) (*sigutil.Signature, error) {
	var sig *sigutil.Signature
	err := w.withKey(func(key *scalar.Scalar) error {
		var err error
		sig, err = sigutil.SignTypedData(domainSeparator, structHash, key)
		return err
	})
	return sig, err
}

// SignTransaction signs a legacy transaction for the given chain.
func (w *Wallet) SignTransaction(txArgs *sigutil.LegacyTxArgs, chainID *big.Int) (*types.Transaction, error) {
	var tx *types.Transaction
	err := w.withKey(func(key *scalar.Scalar) error {
		signed, sender, err := sigutil.SignLegacyTx(txArgs, key, chainID)
		if err != nil {
			return err
		}
		if !strings.EqualFold(sender.Hex(), w.state.Address) {
			return fmt.Errorf("signed sender %s does not match wallet address %s: %w", sender.Hex(), w.state.Address, ErrShareMismatch)
		}
		tx = signed
		return nil
	})
	return tx, err
}

// Lock zeroizes and drops every collected share.
func (w *Wallet) Lock() {
	w.clearCollected()
}

// withKey reconstructs the signing key, runs fn with it, then wipes the key
// and the collected shares regardless of outcome. The key never escapes this
// call.
func (w *Wallet) withKey(fn func(key *scalar.Scalar) error) error {
	if w.state == nil {
		return ErrNoState
	}
	if !w.CanSign() {
		return fmt.Errorf("have %d of %d: %w", len(w.collected), w.state.Config.Threshold, ErrNotEnoughShares)
	}

	shares := make([]shamir.Share, 0, len(w.collected))
	for idx, val := range w.collected {
		shares = append(shares, shamir.Share{X: byte(idx), Y: val})
	}
	key, err := shamir.Combine(shares)
	if err != nil {
		w.clearCollected()
		return fmt.Errorf("fail to combine shares: %w", err)
	}
	defer key.Zeroize()
	defer w.clearCollected()

	pub, err := sigutil.PublicKeyFor(key)
	if err != nil {
		return fmt.Errorf("fail to derive public key from reconstructed key: %w", err)
	}
	if sigutil.CompressedPublicKeyHex(pub) != w.state.PublicKey {
		return ErrShareMismatch
	}

	return fn(key)
}

func (w *Wallet) clearCollected() {
	for _, val := range w.collected {
		val.Zeroize()
	}
	w.collected = make(map[int]*scalar.Scalar)
}
