// Package api is the HTTP surface of the guardvault daemon: one vault per
// process, exposed over echo with bearer-token auth on the sensitive routes.
package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	gcommon "github.com/ethereum/go-ethereum/common"
	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/sirupsen/logrus"

	"github.com/guardvault/guardvault/config"
	"github.com/guardvault/guardvault/internal/guardian"
	"github.com/guardvault/guardvault/internal/jwt"
	"github.com/guardvault/guardvault/internal/recovery"
	"github.com/guardvault/guardvault/internal/scalar"
	"github.com/guardvault/guardvault/internal/sigutil"
	"github.com/guardvault/guardvault/internal/tasks"
	"github.com/guardvault/guardvault/internal/types"
	"github.com/guardvault/guardvault/internal/vault"
	"github.com/guardvault/guardvault/internal/wallet"
	"github.com/guardvault/guardvault/storage"
)

// tokenTTL is how long an owner session token stays valid.
const tokenTTL = 24 * time.Hour

type Server struct {
	port     int64
	cfg      config.Config
	vault    *vault.Vault
	redis    *storage.RedisStorage
	client   *asynq.Client
	sdClient *statsd.Client
	logger   *logrus.Logger
}

// NewServer returns a new server.
func NewServer(cfg config.Config,
	v *vault.Vault,
	redis *storage.RedisStorage,
	client *asynq.Client,
	sdClient *statsd.Client) *Server {
	return &Server{
		port:     cfg.Server.Port,
		cfg:      cfg,
		vault:    v,
		redis:    redis,
		client:   client,
		sdClient: sdClient,
		logger:   logrus.WithField("service", "api").Logger,
	}
}

func (s *Server) StartServer() error {
	e := echo.New()
	e.Logger.SetLevel(log.ERROR)
	e.Use(s.statsdMiddleware)
	e.Use(middleware.Recover())
	limiterStore := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{Rate: 5, Burst: 30, ExpiresIn: 5 * time.Minute},
	)
	e.Use(middleware.RateLimiter(limiterStore))

	e.GET("/ping", s.Ping)
	e.POST("/auth", s.Auth)

	grp := e.Group("/vault")
	grp.POST("/setup", s.SetupVault)
	grp.POST("/unlock", s.UnlockVault)
	grp.POST("/share", s.AddGuardianShare)
	grp.POST("/sign", s.Sign, s.AuthMiddleware)
	grp.POST("/lock", s.LockVault, s.AuthMiddleware)
	grp.GET("/state", s.GetState)

	guardianGroup := e.Group("/guardian")
	guardianGroup.GET("/list", s.ListGuardians)
	guardianGroup.POST("/respond", s.RespondToInvite)
	guardianGroup.POST("/invite/resend", s.ResendInvite)

	recoveryGroup := e.Group("/recovery")
	recoveryGroup.POST("/initiate", s.InitiateRecovery)
	recoveryGroup.POST("/approve", s.ApproveRecovery)
	recoveryGroup.POST("/execute", s.ExecuteRecovery)
	recoveryGroup.POST("/cancel", s.CancelRecovery, s.AuthMiddleware)
	recoveryGroup.GET("/status/:address", s.RecoveryStatus)

	return e.Start(fmt.Sprintf(":%d", s.port))
}

func (s *Server) Ping(c echo.Context) error {
	return c.String(http.StatusOK, "Guardvault is running")
}

// Auth trades the owner password for a bearer token.
func (s *Server) Auth(c echo.Context) error {
	var req types.AuthRequest
	if err := c.Bind(&req); err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	if req.Password == "" {
		return c.NoContent(http.StatusBadRequest)
	}

	ok, err := s.vault.VerifyOwnerPassword(req.Password)
	if err != nil {
		s.logger.Errorf("fail to verify owner password, err: %v", err)
		return c.NoContent(http.StatusInternalServerError)
	}
	if !ok {
		return c.NoContent(http.StatusUnauthorized)
	}

	token, err := jwt.GenerateToken("owner", s.cfg.Auth.JwtSecret, tokenTTL)
	if err != nil {
		return fmt.Errorf("fail to generate token: %w", err)
	}
	return c.JSON(http.StatusOK, types.AuthResponse{Token: token})
}

// SetupVault creates the wallet key, partitions the shares and enqueues the
// guardian invite emails.
func (s *Server) SetupVault(c echo.Context) error {
	var req types.SetupRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("fail to parse request, err: %w", err)
	}
	if err := req.IsValid(); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	descriptors := make([]vault.GuardianDescriptor, len(req.Guardians))
	for i, g := range req.Guardians {
		descriptors[i] = vault.GuardianDescriptor{
			Name:          g.Name,
			Contact:       g.Contact,
			ContactType:   contactTypeFrom(g.ContactType),
			SharePassword: g.SharePassword,
		}
	}

	var result *vault.SetupResult
	var err error
	if req.ImportedKey != "" {
		key, parseErr := scalar.ParseNonZeroHex(req.ImportedKey)
		if parseErr != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "imported_key is not a valid scalar"})
		}
		result, err = s.vault.SetupWithKey(key, req.OwnerPassword, descriptors)
		key.Zeroize()
	} else {
		result, err = s.vault.Setup(req.OwnerPassword, descriptors)
	}
	if err != nil {
		if errors.Is(err, vault.ErrConfigInvalid) || errors.Is(err, vault.ErrGuardianCount) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		return fmt.Errorf("fail to set up vault, err: %w", err)
	}

	for i, invite := range result.GuardianInvites {
		if descriptors[i].ContactType != types.ContactEmail {
			continue
		}
		if err := s.enqueueInviteEmail(invite, descriptors[i].Name, descriptors[i].Contact); err != nil {
			s.logger.Errorf("fail to enqueue invite email, err: %v", err)
		}
	}

	resp := types.SetupResponse{
		WalletAddress: result.WalletState.Address,
		PublicKey:     result.WalletState.PublicKey,
		KeyID:         result.WalletState.KeyID,
		OwnerShares:   s.vault.OwnerShares(),
	}
	for _, plain := range result.OwnerPlainShares {
		resp.OwnerPlainShares = append(resp.OwnerPlainShares, plain.Scalar.Hex())
		plain.Scalar.Zeroize()
	}
	for _, invite := range result.GuardianInvites {
		resp.Invites = append(resp.Invites, types.InviteSummary{
			InviteID:   invite.ID,
			GuardianID: invite.GuardianID,
			ShareIndex: invite.EncryptedShare.Index,
			ExpiresAt:  invite.ExpiresAt,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) enqueueInviteEmail(invite *types.GuardianInvite, name, email string) error {
	record, err := json.Marshal(invite.EncryptedShare)
	if err != nil {
		return fmt.Errorf("json.Marshal failed: %w", err)
	}
	payload, err := json.Marshal(types.GuardianInviteEmail{
		Email:         email,
		GuardianName:  name,
		WalletAddress: invite.WalletAddress,
		InviteID:      invite.ID,
		Code:          invite.VerificationCode,
		ShareRecord:   string(record),
		ExpiresAt:     invite.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("json.Marshal failed: %w", err)
	}
	taskInfo, err := s.client.Enqueue(asynq.NewTask(tasks.TypeGuardianInviteEmail, payload),
		asynq.Retention(10*time.Minute),
		asynq.Queue(tasks.EMAIL_QUEUE_NAME))
	if err != nil {
		return fmt.Errorf("fail to enqueue email task: %w", err)
	}
	s.logger.Info("invite email task enqueued: ", taskInfo.ID)
	return nil
}

func (s *Server) extractXPassword(c echo.Context) (string, error) {
	password := c.Request().Header.Get("x-password")
	if password == "" {
		return "", fmt.Errorf("x-password header is required")
	}
	return password, nil
}

// UnlockVault opens the owner shares with the x-password header and feeds
// them into the signing session.
func (s *Server) UnlockVault(c echo.Context) error {
	password, err := s.extractXPassword(c)
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	ok, err := s.vault.UnlockOwnerShares(password)
	if err != nil {
		if errors.Is(err, vault.ErrNotSetUp) {
			return c.NoContent(http.StatusConflict)
		}
		return fmt.Errorf("fail to unlock owner shares, err: %w", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"unlocked": ok,
		"can_sign": s.vault.CanSign(),
	})
}

// AddGuardianShare feeds one guardian's sealed share into the signing
// session.
func (s *Server) AddGuardianShare(c echo.Context) error {
	var req types.AddShareRequest
	if err := c.Bind(&req); err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	added, err := s.vault.AddGuardianShare(&req.Share, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, wallet.ErrWrongWallet):
			return c.JSON(http.StatusConflict, map[string]string{"error": "share belongs to a different wallet"})
		case errors.Is(err, wallet.ErrAlreadyCollected):
			return c.JSON(http.StatusConflict, map[string]string{"error": "share already collected"})
		case errors.Is(err, wallet.ErrNoState):
			return c.NoContent(http.StatusConflict)
		}
		return fmt.Errorf("fail to add share, err: %w", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"added":    added,
		"can_sign": s.vault.CanSign(),
	})
}

// Sign signs a message, typed-data digest or transaction with the collected
// shares.
func (s *Server) Sign(c echo.Context) error {
	var req types.SignRequest
	if err := c.Bind(&req); err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	var resp types.SignResponse
	switch req.Type {
	case "message":
		sig, err := s.vault.SignMessage([]byte(req.Message))
		if err != nil {
			return s.signError(c, err)
		}
		resp.Signature = hex.EncodeToString(sig.Bytes())

	case "typed_data":
		domain, err := decodeHash(req.DomainSeparator)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "domain_separator must be 32 bytes of hex"})
		}
		structHash, err := decodeHash(req.StructHash)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "struct_hash must be 32 bytes of hex"})
		}
		sig, err := s.vault.SignTypedData(domain, structHash)
		if err != nil {
			return s.signError(c, err)
		}
		resp.Signature = hex.EncodeToString(sig.Bytes())

	case "transaction":
		if req.Transaction == nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "transaction is required"})
		}
		txArgs, chainID, err := legacyTxArgs(req.Transaction)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		tx, err := s.vault.SignTransaction(txArgs, chainID)
		if err != nil {
			return s.signError(c, err)
		}
		raw, err := tx.MarshalBinary()
		if err != nil {
			return fmt.Errorf("fail to encode signed transaction, err: %w", err)
		}
		resp.SignedTx = hex.EncodeToString(raw)
		resp.TxHash = tx.Hash().Hex()

	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "type must be message, typed_data or transaction"})
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) signError(c echo.Context, err error) error {
	if errors.Is(err, wallet.ErrNotEnoughShares) {
		return c.JSON(http.StatusConflict, map[string]string{"error": "not enough shares collected"})
	}
	return fmt.Errorf("fail to sign, err: %w", err)
}

// LockVault drops every collected share.
func (s *Server) LockVault(c echo.Context) error {
	s.vault.Lock()
	return c.NoContent(http.StatusOK)
}

// GetState returns the public wallet state.
func (s *Server) GetState(c echo.Context) error {
	state := s.vault.State()
	if state == nil {
		return c.NoContent(http.StatusNotFound)
	}
	return c.JSON(http.StatusOK, state)
}

// ListGuardians returns the guardian table.
func (s *Server) ListGuardians(c echo.Context) error {
	return c.JSON(http.StatusOK, s.vault.ExportGuardians())
}

// RespondToInvite settles an invite with the out-of-band verification code.
func (s *Server) RespondToInvite(c echo.Context) error {
	var req types.GuardianRespondRequest
	if err := c.Bind(&req); err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	err := s.vault.Guardians().ProcessResponse(req.InviteID, req.GuardianID, req.Accepted, req.VerificationCode)
	if err != nil {
		switch {
		case errors.Is(err, guardian.ErrInviteNotFound):
			return c.NoContent(http.StatusNotFound)
		case errors.Is(err, guardian.ErrInviteExpired):
			return c.NoContent(http.StatusGone)
		case errors.Is(err, guardian.ErrCodeMismatch):
			return c.NoContent(http.StatusUnauthorized)
		}
		return fmt.Errorf("fail to process invite response, err: %w", err)
	}
	return c.NoContent(http.StatusOK)
}

// ResendInvite re-enqueues a pending invite email, rate limited per
// guardian.
func (s *Server) ResendInvite(c echo.Context) error {
	var req types.ResendInviteRequest
	if err := c.Bind(&req); err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	if req.GuardianID == "" || req.Email == "" {
		return c.NoContent(http.StatusBadRequest)
	}

	key := fmt.Sprintf("resend_%s", req.GuardianID)
	result, err := s.redis.Get(c.Request().Context(), key)
	if err == nil && result != "" {
		return c.NoContent(http.StatusTooManyRequests)
	}
	// one resend per guardian every three minutes
	if err := s.redis.Set(c.Request().Context(), key, key, 3*time.Minute); err != nil {
		s.logger.Errorf("fail to set resend marker, err: %v", err)
	}
	if err := s.sdClient.Count("guardian.invite.resend", 1, nil, 1); err != nil {
		s.logger.Errorf("fail to count metric, err: %v", err)
	}

	g, err := s.vault.Guardians().Get(req.GuardianID)
	if err != nil {
		return c.NoContent(http.StatusNotFound)
	}
	invite, err := s.vault.Guardians().GetInviteByGuardian(req.GuardianID)
	if err != nil {
		return c.NoContent(http.StatusNotFound)
	}
	if err := s.enqueueInviteEmail(invite, g.Name, req.Email); err != nil {
		return fmt.Errorf("fail to enqueue invite email, err: %w", err)
	}
	return c.NoContent(http.StatusOK)
}

// InitiateRecovery opens a recovery request for the vault's wallet.
func (s *Server) InitiateRecovery(c echo.Context) error {
	var req types.RecoveryInitiateRequest
	if err := c.Bind(&req); err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	request, err := s.vault.InitiateRecovery(req.Initiator, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, recovery.ErrCooldown):
			return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "recovery cooldown has not elapsed"})
		case errors.Is(err, recovery.ErrAlreadyPending):
			return c.JSON(http.StatusConflict, map[string]string{"error": "a recovery request is already pending"})
		case errors.Is(err, vault.ErrNotSetUp):
			return c.NoContent(http.StatusConflict)
		}
		return fmt.Errorf("fail to initiate recovery, err: %w", err)
	}
	return c.JSON(http.StatusOK, request)
}

// ApproveRecovery records one guardian's share contribution.
func (s *Server) ApproveRecovery(c echo.Context) error {
	var req types.RecoveryApproveRequest
	if err := c.Bind(&req); err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	value, err := scalar.ParseNonZeroHex(req.ShareValue)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "share_value is not a valid scalar"})
	}
	request, err := s.vault.AddRecoveryApproval(req.RequestID, req.GuardianID, value)
	if err != nil {
		switch {
		case errors.Is(err, recovery.ErrRequestNotFound), errors.Is(err, guardian.ErrGuardianNotFound):
			return c.NoContent(http.StatusNotFound)
		case errors.Is(err, recovery.ErrDuplicateGuardian):
			return c.JSON(http.StatusConflict, map[string]string{"error": "guardian has already approved"})
		case errors.Is(err, recovery.ErrInvalidState):
			return c.JSON(http.StatusConflict, map[string]string{"error": "request no longer accepts approvals"})
		}
		return fmt.Errorf("fail to add approval, err: %w", err)
	}
	return c.JSON(http.StatusOK, request)
}

// ExecuteRecovery reconstructs the wallet key of a ready request.
func (s *Server) ExecuteRecovery(c echo.Context) error {
	var req types.RecoveryRequestRef
	if err := c.Bind(&req); err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	secret, err := s.vault.ExecuteRecovery(req.RequestID)
	if err != nil {
		switch {
		case errors.Is(err, recovery.ErrRequestNotFound):
			return c.NoContent(http.StatusNotFound)
		case errors.Is(err, recovery.ErrInvalidState):
			return c.JSON(http.StatusConflict, map[string]string{"error": "request is not ready"})
		}
		return fmt.Errorf("fail to execute recovery, err: %w", err)
	}
	resp := types.RecoveryExecuteResponse{Secret: secret.Hex()}
	return c.JSON(http.StatusOK, resp)
}

// CancelRecovery aborts a running request.
func (s *Server) CancelRecovery(c echo.Context) error {
	var req types.RecoveryRequestRef
	if err := c.Bind(&req); err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	if err := s.vault.CancelRecovery(req.RequestID); err != nil {
		switch {
		case errors.Is(err, recovery.ErrRequestNotFound):
			return c.NoContent(http.StatusNotFound)
		case errors.Is(err, recovery.ErrInvalidState):
			return c.JSON(http.StatusConflict, map[string]string{"error": "request is already terminal"})
		}
		return fmt.Errorf("fail to cancel recovery, err: %w", err)
	}
	return c.NoContent(http.StatusOK)
}

// RecoveryStatus summarizes the wallet's open request.
func (s *Server) RecoveryStatus(c echo.Context) error {
	address := c.Param("address")
	state := s.vault.State()
	if state == nil || !equalAddress(state.Address, address) {
		return c.NoContent(http.StatusNotFound)
	}

	request := s.vault.RecoveryStatus()
	if request == nil {
		return c.JSON(http.StatusOK, types.RecoveryStatusResponse{})
	}
	progress, err := s.vault.ApprovalProgress(request.ID)
	if err != nil {
		return fmt.Errorf("fail to get approval progress, err: %w", err)
	}
	remaining, err := s.vault.TimelockRemaining(request.ID)
	if err != nil {
		return fmt.Errorf("fail to get timelock remaining, err: %w", err)
	}
	return c.JSON(http.StatusOK, types.RecoveryStatusResponse{
		Request:           request,
		Progress:          progress,
		TimelockRemaining: remaining,
	})
}

func contactTypeFrom(str string) types.ContactType {
	switch types.ContactType(str) {
	case types.ContactEmail, types.ContactPhone, types.ContactWallet:
		return types.ContactType(str)
	default:
		return types.ContactOther
	}
}

func decodeHash(str string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(str)
	if err != nil {
		return out, err
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func legacyTxArgs(req *types.LegacyTxRequest) (*sigutil.LegacyTxArgs, *big.Int, error) {
	gasPrice, ok := new(big.Int).SetString(req.GasPrice, 10)
	if !ok {
		return nil, nil, fmt.Errorf("gas_price is not a decimal integer")
	}
	value := new(big.Int)
	if req.Value != "" {
		if _, ok := value.SetString(req.Value, 10); !ok {
			return nil, nil, fmt.Errorf("value is not a decimal integer")
		}
	}
	var data []byte
	if req.Data != "" {
		raw, err := hex.DecodeString(strings.TrimPrefix(req.Data, "0x"))
		if err != nil {
			return nil, nil, fmt.Errorf("data is not valid hex")
		}
		data = raw
	}
	if !gcommon.IsHexAddress(req.To) {
		return nil, nil, fmt.Errorf("to is not a valid address")
	}
	if req.ChainID <= 0 {
		return nil, nil, fmt.Errorf("chain_id must be positive")
	}
	return &sigutil.LegacyTxArgs{
		Nonce:    req.Nonce,
		GasPrice: gasPrice,
		GasLimit: req.GasLimit,
		To:       gcommon.HexToAddress(req.To),
		Value:    value,
		Data:     data,
	}, big.NewInt(req.ChainID), nil
}

func equalAddress(a, b string) bool {
	return gcommon.HexToAddress(a) == gcommon.HexToAddress(b)
}
