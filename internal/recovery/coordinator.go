// Package recovery runs the social-recovery state machine: guardian
// approvals accumulate against a threshold, a cancellable timelock guards the
// reconstruction, and the secret is combined only at execution.
package recovery

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/guardvault/guardvault/internal/scalar"
	"github.com/guardvault/guardvault/internal/shamir"
	"github.com/guardvault/guardvault/internal/types"
)

var (
	// ErrRequestNotFound is returned when no request has the given id.
	ErrRequestNotFound = errors.New("recovery request not found")

	// ErrAlreadyPending is returned when a wallet already has a non-terminal
	// request.
	ErrAlreadyPending = errors.New("a recovery request is already pending for this wallet")

	// ErrCooldown is returned when a wallet initiates again before the
	// cooldown interval has passed.
	ErrCooldown = errors.New("recovery cooldown has not elapsed")

	// ErrInvalidState is returned when an operation is not legal in the
	// request's current status.
	ErrInvalidState = errors.New("operation not allowed in current request state")

	// ErrDuplicateGuardian is returned when a guardian approves the same
	// request twice.
	ErrDuplicateGuardian = errors.New("guardian has already approved this request")
)

// Config carries the timing policy for recovery requests.
type Config struct {
	TimelockMs   int64
	ExpirationMs int64
	CooldownMs   int64
}

// InitiateParams describe a new recovery request.
type InitiateParams struct {
	WalletAddress string
	KeyID         string
	Initiator     string
	Reason        string
	Threshold     int
}

// Coordinator owns the recovery requests of one deployment. Not safe for
// concurrent use; callers serialize access.
type Coordinator struct {
	cfg         Config
	requests    map[string]*types.RecoveryRequest
	lastAttempt map[string]int64
	logger      *logrus.Entry

	// now is stubbed in tests.
	now func() time.Time
}

// NewCoordinator returns an empty coordinator with the given timing policy.
func NewCoordinator(cfg Config, logger *logrus.Logger) *Coordinator {
	return &Coordinator{
		cfg:         cfg,
		requests:    make(map[string]*types.RecoveryRequest),
		lastAttempt: make(map[string]int64),
		logger:      logger.WithField("component", "recovery"),
		now:         time.Now,
	}
}

// Initiate opens a new recovery request for a wallet. Only one non-terminal
// request may exist per wallet, and successive attempts are separated by the
// cooldown interval.
func (c *Coordinator) Initiate(params InitiateParams) (*types.RecoveryRequest, error) {
	nowMs := c.now().UnixMilli()

	if last, ok := c.lastAttempt[params.WalletAddress]; ok && nowMs-last < c.cfg.CooldownMs {
		return nil, fmt.Errorf("wallet %s: %w", params.WalletAddress, ErrCooldown)
	}
	if existing := c.pendingFor(params.WalletAddress); existing != nil {
		return nil, fmt.Errorf("request %s: %w", existing.ID, ErrAlreadyPending)
	}

	req := &types.RecoveryRequest{
		ID:            uuid.New().String(),
		WalletAddress: params.WalletAddress,
		KeyID:         params.KeyID,
		Initiator:     params.Initiator,
		Reason:        params.Reason,
		Status:        types.RecoveryPending,
		Threshold:     params.Threshold,
		TimelockMs:    c.cfg.TimelockMs,
		CreatedAt:     nowMs,
		ExpiresAt:     nowMs + c.cfg.ExpirationMs,
	}
	c.requests[req.ID] = req
	c.lastAttempt[params.WalletAddress] = nowMs

	c.logger.WithFields(logrus.Fields{
		"request_id": req.ID,
		"wallet":     params.WalletAddress,
		"threshold":  params.Threshold,
	}).Info("recovery initiated")
	return req, nil
}

// AddApproval records one guardian's share contribution. Reaching the
// threshold transitions the request to approved and arms the timelock.
func (c *Coordinator) AddApproval(requestID string, approval types.GuardianApproval) (*types.RecoveryRequest, error) {
	req, err := c.getAndProject(requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != types.RecoveryPending && req.Status != types.RecoveryApproved {
		return nil, fmt.Errorf("status %s: %w", req.Status, ErrInvalidState)
	}
	for _, existing := range req.Approvals {
		if existing.GuardianID == approval.GuardianID {
			return nil, fmt.Errorf("guardian %s: %w", approval.GuardianID, ErrDuplicateGuardian)
		}
	}
	if approval.ShareValue == nil || approval.ShareValue.IsZero() {
		return nil, scalar.ErrInvalidScalar
	}
	if approval.ShareIndex < 1 || approval.ShareIndex > 255 {
		return nil, fmt.Errorf("share index %d out of range: %w", approval.ShareIndex, scalar.ErrInvalidScalar)
	}

	nowMs := c.now().UnixMilli()
	approval.ApprovedAt = nowMs
	req.Approvals = append(req.Approvals, approval)

	if req.Status == types.RecoveryPending && len(req.Approvals) >= req.Threshold {
		req.Status = types.RecoveryApproved
		req.ApprovedAt = nowMs
		req.TimelockExpiresAt = nowMs + req.TimelockMs
		c.logger.WithFields(logrus.Fields{
			"request_id":       req.ID,
			"approvals":        len(req.Approvals),
			"timelock_expires": req.TimelockExpiresAt,
		}).Info("recovery approved, timelock armed")
	}
	c.project(req)
	return req, nil
}

// Execute combines the approval shares of a ready request and returns the
// reconstructed secret. The request becomes terminal.
func (c *Coordinator) Execute(requestID string) (*scalar.Scalar, error) {
	req, err := c.getAndProject(requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != types.RecoveryReady {
		return nil, fmt.Errorf("status %s: %w", req.Status, ErrInvalidState)
	}

	shares := make([]shamir.Share, 0, len(req.Approvals))
	for _, a := range req.Approvals {
		shares = append(shares, shamir.Share{X: byte(a.ShareIndex), Y: a.ShareValue})
	}
	secret, err := shamir.Combine(shares)
	if err != nil {
		return nil, fmt.Errorf("fail to combine approval shares: %w", err)
	}

	req.RecoveredSecret = secret
	req.ExecutedAt = c.now().UnixMilli()
	req.Status = types.RecoveryExecuted
	c.logger.WithField("request_id", req.ID).Info("recovery executed")
	return secret, nil
}

// Cancel aborts a non-terminal request and zeroizes every approval share so
// later serialization cannot leak them.
func (c *Coordinator) Cancel(requestID string) error {
	req, err := c.getAndProject(requestID)
	if err != nil {
		return err
	}
	switch req.Status {
	case types.RecoveryPending, types.RecoveryApproved, types.RecoveryReady:
	default:
		return fmt.Errorf("status %s: %w", req.Status, ErrInvalidState)
	}

	req.Status = types.RecoveryCancelled
	for i := range req.Approvals {
		if req.Approvals[i].ShareValue != nil {
			req.Approvals[i].ShareValue.Zeroize()
		}
	}
	c.logger.WithField("request_id", req.ID).Info("recovery cancelled")
	return nil
}

// GetRequest returns a request after projecting its status against the
// current clock.
func (c *Coordinator) GetRequest(requestID string) (*types.RecoveryRequest, error) {
	return c.getAndProject(requestID)
}

// GetPendingRequest returns the wallet's non-terminal request, if any.
func (c *Coordinator) GetPendingRequest(walletAddress string) *types.RecoveryRequest {
	return c.pendingFor(walletAddress)
}

// ApprovalProgress summarizes approval counts for a request.
func (c *Coordinator) ApprovalProgress(requestID string) (*types.ApprovalProgress, error) {
	req, err := c.getAndProject(requestID)
	if err != nil {
		return nil, err
	}
	progress := &types.ApprovalProgress{
		Current:  len(req.Approvals),
		Required: req.Threshold,
	}
	if req.Threshold > 0 {
		progress.Percentage = float64(progress.Current) / float64(progress.Required) * 100
	}
	return progress, nil
}

// TimelockRemaining returns how many milliseconds of the timelock are left:
// the full timelock while pending, the live countdown once approved, zero
// once ready or terminal.
func (c *Coordinator) TimelockRemaining(requestID string) (int64, error) {
	req, err := c.getAndProject(requestID)
	if err != nil {
		return 0, err
	}
	switch req.Status {
	case types.RecoveryPending:
		return req.TimelockMs, nil
	case types.RecoveryApproved:
		remaining := req.TimelockExpiresAt - c.now().UnixMilli()
		if remaining < 0 {
			remaining = 0
		}
		return remaining, nil
	default:
		return 0, nil
	}
}

func (c *Coordinator) getAndProject(requestID string) (*types.RecoveryRequest, error) {
	req, ok := c.requests[requestID]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", requestID, ErrRequestNotFound)
	}
	c.project(req)
	return req, nil
}

// project applies the lazy status transitions: expiry beats everything but
// terminal states, then an elapsed timelock promotes approved to ready. It is
// deterministic and idempotent for a fixed clock reading.
func (c *Coordinator) project(req *types.RecoveryRequest) {
	if req.Status.IsTerminal() {
		return
	}
	nowMs := c.now().UnixMilli()
	if nowMs > req.ExpiresAt {
		req.Status = types.RecoveryExpired
		return
	}
	if req.Status == types.RecoveryApproved && req.TimelockExpiresAt > 0 && nowMs >= req.TimelockExpiresAt {
		req.Status = types.RecoveryReady
	}
}

func (c *Coordinator) pendingFor(walletAddress string) *types.RecoveryRequest {
	for _, req := range c.requests {
		if req.WalletAddress != walletAddress {
			continue
		}
		c.project(req)
		if !req.Status.IsTerminal() {
			return req
		}
	}
	return nil
}
