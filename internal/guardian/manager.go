// Package guardian maintains the guardian table of a wallet and the pending
// invites through which guardians accept custody of their share.
package guardian

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/guardvault/guardvault/common"
	"github.com/guardvault/guardvault/internal/types"
)

var (
	// ErrGuardianNotFound is returned when no guardian has the given id.
	ErrGuardianNotFound = errors.New("guardian not found")

	// ErrDuplicateShareIndex is returned when a second guardian is added
	// with a share index already assigned.
	ErrDuplicateShareIndex = errors.New("share index already assigned to a guardian")

	// ErrInviteNotFound is returned when no pending invite has the given id.
	ErrInviteNotFound = errors.New("invite not found")

	// ErrInviteExpired is returned when the invite's expiry has passed.
	ErrInviteExpired = errors.New("invite expired")

	// ErrCodeMismatch is returned when the verification code hash does not
	// match the guardian record.
	ErrCodeMismatch = errors.New("verification code mismatch")
)

// DefaultInviteTTL is how long an invite stays answerable.
const DefaultInviteTTL = 7 * 24 * time.Hour

// Manager holds guardians and pending invites for one wallet. Not safe for
// concurrent use.
type Manager struct {
	guardians map[string]*types.Guardian
	invites   map[string]*types.GuardianInvite
	inviteTTL time.Duration
	logger    *logrus.Entry

	// now is stubbed in tests.
	now func() time.Time
}

// NewManager returns an empty guardian table.
func NewManager(logger *logrus.Logger) *Manager {
	return &Manager{
		guardians: make(map[string]*types.Guardian),
		invites:   make(map[string]*types.GuardianInvite),
		inviteTTL: DefaultInviteTTL,
		logger:    logger.WithField("component", "guardian"),
		now:       time.Now,
	}
}

// Add registers a new guardian in pending state. The share index must be
// unique within the wallet.
func (m *Manager) Add(name, contact string, contactType types.ContactType, shareIndex int) (*types.Guardian, error) {
	if shareIndex < 1 || shareIndex > 255 {
		return nil, fmt.Errorf("share index %d out of range", shareIndex)
	}
	for _, g := range m.guardians {
		if g.ShareIndex == shareIndex && g.Status != types.GuardianRevoked {
			return nil, fmt.Errorf("index %d: %w", shareIndex, ErrDuplicateShareIndex)
		}
	}

	g := &types.Guardian{
		ID:          uuid.New().String(),
		Name:        name,
		Contact:     contact,
		ContactType: contactType,
		ShareIndex:  shareIndex,
		Status:      types.GuardianPending,
		AddedAt:     m.now().UnixMilli(),
	}
	m.guardians[g.ID] = g
	m.logger.WithFields(logrus.Fields{
		"guardian_id": g.ID,
		"share_index": shareIndex,
	}).Info("guardian added")
	return g, nil
}

// CreateInvite builds an invite carrying the guardian's sealed share record
// and a fresh six-digit verification code. The plaintext code exists only
// inside the returned invite; the guardian record keeps its Keccak-256 hash.
func (m *Manager) CreateInvite(guardianID, walletAddress string, share *types.EncryptedShareRecord) (*types.GuardianInvite, error) {
	g, ok := m.guardians[guardianID]
	if !ok {
		return nil, fmt.Errorf("guardian %s: %w", guardianID, ErrGuardianNotFound)
	}

	code, err := verificationCode()
	if err != nil {
		return nil, err
	}
	g.VerificationHash = hashCode(code)

	nowMs := m.now().UnixMilli()
	invite := &types.GuardianInvite{
		ID:               uuid.New().String(),
		GuardianID:       guardianID,
		WalletAddress:    walletAddress,
		EncryptedShare:   share,
		VerificationCode: code,
		ExpiresAt:        nowMs + m.inviteTTL.Milliseconds(),
		CreatedAt:        nowMs,
	}
	m.invites[invite.ID] = invite
	return invite, nil
}

// GetInvite returns a pending invite by id, dropping expired entries first.
func (m *Manager) GetInvite(inviteID string) (*types.GuardianInvite, error) {
	m.dropExpiredInvites()
	invite, ok := m.invites[inviteID]
	if !ok {
		return nil, fmt.Errorf("invite %s: %w", inviteID, ErrInviteNotFound)
	}
	return invite, nil
}

// GetInviteByGuardian returns the pending invite addressed to a guardian.
func (m *Manager) GetInviteByGuardian(guardianID string) (*types.GuardianInvite, error) {
	m.dropExpiredInvites()
	for _, invite := range m.invites {
		if invite.GuardianID == guardianID {
			return invite, nil
		}
	}
	return nil, fmt.Errorf("guardian %s: %w", guardianID, ErrInviteNotFound)
}

// ProcessResponse settles an invite: the guardian proves possession of the
// out-of-band code, then is marked accepted or declined and the invite is
// dropped. The code comparison runs over hashes in constant time.
func (m *Manager) ProcessResponse(inviteID, guardianID string, accepted bool, verificationCode string) error {
	m.dropExpiredInvites()

	invite, ok := m.invites[inviteID]
	if !ok {
		return fmt.Errorf("invite %s: %w", inviteID, ErrInviteNotFound)
	}
	if invite.GuardianID != guardianID {
		return fmt.Errorf("invite %s is not addressed to guardian %s: %w", inviteID, guardianID, ErrInviteNotFound)
	}
	if m.now().UnixMilli() > invite.ExpiresAt {
		delete(m.invites, inviteID)
		return fmt.Errorf("invite %s: %w", inviteID, ErrInviteExpired)
	}

	g, ok := m.guardians[guardianID]
	if !ok {
		return fmt.Errorf("guardian %s: %w", guardianID, ErrGuardianNotFound)
	}
	if !common.ConstantTimeEqual([]byte(hashCode(verificationCode)), []byte(g.VerificationHash)) {
		return ErrCodeMismatch
	}

	if accepted {
		g.Status = types.GuardianAccepted
		g.AcceptedAt = m.now().UnixMilli()
	} else {
		g.Status = types.GuardianDeclined
	}
	delete(m.invites, inviteID)
	m.logger.WithFields(logrus.Fields{
		"guardian_id": guardianID,
		"status":      g.Status,
	}).Info("guardian invite settled")
	return nil
}

// Revoke marks a guardian revoked, freeing their share index.
func (m *Manager) Revoke(guardianID string) error {
	g, ok := m.guardians[guardianID]
	if !ok {
		return fmt.Errorf("guardian %s: %w", guardianID, ErrGuardianNotFound)
	}
	g.Status = types.GuardianRevoked
	return nil
}

// Get returns a guardian by id.
func (m *Manager) Get(guardianID string) (*types.Guardian, error) {
	g, ok := m.guardians[guardianID]
	if !ok {
		return nil, fmt.Errorf("guardian %s: %w", guardianID, ErrGuardianNotFound)
	}
	return g, nil
}

// GetAll returns every guardian record.
func (m *Manager) GetAll() []*types.Guardian {
	out := make([]*types.Guardian, 0, len(m.guardians))
	for _, g := range m.guardians {
		out = append(out, g)
	}
	return out
}

// GetActive returns guardians that have accepted their invite.
func (m *Manager) GetActive() []*types.Guardian {
	var out []*types.Guardian
	for _, g := range m.guardians {
		if g.Status == types.GuardianAccepted {
			out = append(out, g)
		}
	}
	return out
}

// GetByShareIndex returns the guardian holding the given share index.
func (m *Manager) GetByShareIndex(index int) (*types.Guardian, error) {
	for _, g := range m.guardians {
		if g.ShareIndex == index && g.Status != types.GuardianRevoked {
			return g, nil
		}
	}
	return nil, fmt.Errorf("share index %d: %w", index, ErrGuardianNotFound)
}

// HasEnough reports whether at least threshold guardians are active.
func (m *Manager) HasEnough(threshold int) bool {
	return len(m.GetActive()) >= threshold
}

// Export returns the guardian records for persistence. Pending invites are
// transient and not exported.
func (m *Manager) Export() []*types.Guardian {
	return m.GetAll()
}

// Import replaces the guardian table with previously exported records.
func (m *Manager) Import(guardians []*types.Guardian) {
	m.guardians = make(map[string]*types.Guardian, len(guardians))
	for _, g := range guardians {
		m.guardians[g.ID] = g
	}
	m.invites = make(map[string]*types.GuardianInvite)
}

func (m *Manager) dropExpiredInvites() {
	nowMs := m.now().UnixMilli()
	for id, invite := range m.invites {
		if nowMs > invite.ExpiresAt {
			delete(m.invites, id)
		}
	}
}

// verificationCode samples six uniform decimal digits.
func verificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("fail to sample verification code: %w", err)
	}
	return fmt.Sprintf("%06d", n), nil
}

// hashCode is the Keccak-256 of the code's UTF-8 bytes, lower hex.
func hashCode(code string) string {
	return fmt.Sprintf("%x", crypto.Keccak256([]byte(code)))
}
