package vault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/guardvault/guardvault/internal/envelope"
	"github.com/guardvault/guardvault/internal/recovery"
	"github.com/guardvault/guardvault/internal/scalar"
	"github.com/guardvault/guardvault/internal/sigutil"
	"github.com/guardvault/guardvault/internal/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func testConfig() Config {
	return Config{
		TotalShares:    5,
		Threshold:      3,
		OwnerShares:    1,
		TimelockHours:  0,
		ExpirationDays: 7,
		CooldownHours:  1,
	}
}

func guardianDescriptors(n int) []GuardianDescriptor {
	out := make([]GuardianDescriptor, n)
	for i := range out {
		out[i] = GuardianDescriptor{
			Name:          fmt.Sprintf("guardian-%d", i+1),
			Contact:       fmt.Sprintf("g%d@example.com", i+1),
			ContactType:   types.ContactEmail,
			SharePassword: fmt.Sprintf("gpw-%d", i+1),
		}
	}
	return out
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"threshold below 2", Config{TotalShares: 5, Threshold: 1, OwnerShares: 1}},
		{"no owner shares", Config{TotalShares: 5, Threshold: 3, OwnerShares: 0}},
		{"total below threshold", Config{TotalShares: 2, Threshold: 3, OwnerShares: 1}},
		{"owner holds everything", Config{TotalShares: 5, Threshold: 3, OwnerShares: 5}},
		{"guardians cannot reach threshold", Config{TotalShares: 5, Threshold: 4, OwnerShares: 2}},
	}
	for _, c := range cases {
		if _, err := New(c.cfg, testLogger()); !errors.Is(err, ErrConfigInvalid) {
			t.Fatalf("%s: expected ErrConfigInvalid, got %v", c.name, err)
		}
	}

	if _, err := New(testConfig(), testLogger()); err != nil {
		t.Fatal(err)
	}
}

func TestSetupPartition(t *testing.T) {
	v, err := New(testConfig(), testLogger())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := v.Setup("owner-pw", guardianDescriptors(3)); !errors.Is(err, ErrGuardianCount) {
		t.Fatalf("expected ErrGuardianCount, got %v", err)
	}

	result, err := v.Setup("owner-pw", guardianDescriptors(4))
	if err != nil {
		t.Fatal(err)
	}

	if len(result.OwnerPlainShares) != 1 {
		t.Fatalf("owner plain shares: %d, expected 1", len(result.OwnerPlainShares))
	}
	if len(result.GuardianInvites) != 4 {
		t.Fatalf("guardian invites: %d, expected 4", len(result.GuardianInvites))
	}
	if len(v.OwnerShares()) != 1 {
		t.Fatalf("owner sealed shares: %d, expected 1", len(v.OwnerShares()))
	}
	if result.OwnerPlainShares[0].Index != 1 {
		t.Fatalf("owner share index %d, expected 1", result.OwnerPlainShares[0].Index)
	}

	seen := map[int]bool{1: true}
	for _, invite := range result.GuardianInvites {
		idx := invite.EncryptedShare.Index
		if seen[idx] {
			t.Fatalf("share index %d assigned twice", idx)
		}
		seen[idx] = true
		if invite.WalletAddress != result.WalletState.Address {
			t.Fatal("invite does not carry the wallet address")
		}
		if invite.EncryptedShare.KeyID != result.WalletState.KeyID {
			t.Fatal("invite share does not carry the wallet key id")
		}
	}

	if len(v.ExportGuardians()) != 4 {
		t.Fatalf("guardian table: %d, expected 4", len(v.ExportGuardians()))
	}
}

func TestUnlockAndThresholdSign(t *testing.T) {
	v, err := New(testConfig(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	result, err := v.Setup("owner-pw", guardianDescriptors(4))
	if err != nil {
		t.Fatal(err)
	}

	ok, err := v.UnlockOwnerShares("wrong")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("wrong owner password unlocked")
	}

	ok, err = v.UnlockOwnerShares("owner-pw")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("owner password failed to unlock")
	}
	if v.CanSign() {
		t.Fatal("one owner share must not reach a threshold of 3")
	}

	// two guardians contribute their shares
	for i := 0; i < 2; i++ {
		invite := result.GuardianInvites[i]
		added, err := v.AddGuardianShare(invite.EncryptedShare, fmt.Sprintf("gpw-%d", i+1))
		if err != nil {
			t.Fatal(err)
		}
		if !added {
			t.Fatalf("guardian %d share did not decrypt", i+1)
		}
	}
	if !v.CanSign() {
		t.Fatal("threshold reached but CanSign is false")
	}

	sig, err := v.SignMessage([]byte("hi"))
	if err != nil {
		t.Fatal(err)
	}
	digest := sigutil.HashPersonalMessage([]byte("hi"))
	recovered, err := sigutil.RecoverPublicKey(digest, sig)
	if err != nil {
		t.Fatal(err)
	}
	if sigutil.CompressedPublicKeyHex(recovered) != result.WalletState.PublicKey {
		t.Fatal("signature does not recover to the wallet key")
	}
	if v.CanSign() {
		t.Fatal("shares survived signing")
	}
}

func TestRecoveryHappyPath(t *testing.T) {
	v, err := New(testConfig(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	result, err := v.Setup("owner-pw", guardianDescriptors(4))
	if err != nil {
		t.Fatal(err)
	}

	req, err := v.InitiateRecovery("new-device", "phone lost")
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != types.RecoveryPending {
		t.Fatalf("status %s, expected pending", req.Status)
	}

	// three guardians decrypt their shares out-of-band and approve
	for i := 0; i < 3; i++ {
		invite := result.GuardianInvites[i]
		plaintext, err := envelope.Open(invite.EncryptedShare.EncryptedShare, fmt.Sprintf("gpw-%d", i+1))
		if err != nil {
			t.Fatal(err)
		}
		value, err := scalar.ParseNonZeroHex(string(plaintext))
		if err != nil {
			t.Fatal(err)
		}
		req, err = v.AddRecoveryApproval(req.ID, invite.GuardianID, value)
		if err != nil {
			t.Fatal(err)
		}
	}

	// timelock is zero, so the request is ready immediately
	got, err := v.RecoveryRequest(req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.RecoveryReady {
		t.Fatalf("status %s, expected ready", got.Status)
	}

	secret, err := v.ExecuteRecovery(req.ID)
	if err != nil {
		t.Fatal(err)
	}
	pub, err := sigutil.PublicKeyFor(secret)
	if err != nil {
		t.Fatal(err)
	}
	if sigutil.CompressedPublicKeyHex(pub) != result.WalletState.PublicKey {
		t.Fatal("recovered secret does not derive the wallet public key")
	}

	// cooldown: an immediate second initiation fails
	if _, err := v.InitiateRecovery("new-device", "again"); !errors.Is(err, recovery.ErrCooldown) {
		t.Fatalf("expected ErrCooldown, got %v", err)
	}
}

func TestRecoveryCancelAfterApprovals(t *testing.T) {
	cfg := testConfig()
	cfg.TimelockHours = 24
	v, err := New(cfg, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	result, err := v.Setup("owner-pw", guardianDescriptors(4))
	if err != nil {
		t.Fatal(err)
	}

	req, err := v.InitiateRecovery("new-device", "phone lost")
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		invite := result.GuardianInvites[i]
		plaintext, err := envelope.Open(invite.EncryptedShare.EncryptedShare, fmt.Sprintf("gpw-%d", i+1))
		if err != nil {
			t.Fatal(err)
		}
		value, err := scalar.ParseNonZeroHex(string(plaintext))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := v.AddRecoveryApproval(req.ID, invite.GuardianID, value); err != nil {
			t.Fatal(err)
		}
	}

	if err := v.CancelRecovery(req.ID); err != nil {
		t.Fatal(err)
	}
	got, err := v.RecoveryRequest(req.ID)
	if err != nil {
		t.Fatal(err)
	}
	for i, a := range got.Approvals {
		if !a.ShareValue.IsZero() {
			t.Fatalf("approval %d share not zeroized after cancel", i)
		}
	}

	// further approvals are rejected
	value := scalar.SetInt(12345)
	if _, err := v.AddRecoveryApproval(req.ID, result.GuardianInvites[2].GuardianID, value); !errors.Is(err, recovery.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestSetupWithImportedKey(t *testing.T) {
	key, err := scalar.Random()
	if err != nil {
		t.Fatal(err)
	}
	pub, err := sigutil.PublicKeyFor(key)
	if err != nil {
		t.Fatal(err)
	}

	v, err := New(testConfig(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	result, err := v.SetupWithKey(key, "owner-pw", guardianDescriptors(4))
	if err != nil {
		t.Fatal(err)
	}
	if result.WalletState.PublicKey != sigutil.CompressedPublicKeyHex(pub) {
		t.Fatal("imported key does not drive the wallet identity")
	}
}
