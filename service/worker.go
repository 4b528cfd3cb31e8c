// Package service contains the background worker that delivers guardian
// invites out-of-band. The verification code travels only through this
// channel; the daemon keeps just its hash.
package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/guardvault/guardvault/config"
	"github.com/guardvault/guardvault/contexthelper"
	"github.com/guardvault/guardvault/internal/types"
	"github.com/guardvault/guardvault/storage"
)

type WorkerService struct {
	cfg      config.Config
	redis    *storage.RedisStorage
	logger   *logrus.Logger
	sdClient *statsd.Client
}

// NewWorker creates a new worker service.
func NewWorker(cfg config.Config, sdClient *statsd.Client) (*WorkerService, error) {
	redis, err := storage.NewRedisStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("storage.NewRedisStorage failed: %w", err)
	}

	return &WorkerService{
		redis:    redis,
		cfg:      cfg,
		logger:   logrus.WithField("service", "worker").Logger,
		sdClient: sdClient,
	}, nil
}

func (s *WorkerService) incCounter(name string, tags []string) {
	if err := s.sdClient.Count(name, 1, tags, 1); err != nil {
		s.logger.Errorf("fail to count metric, err: %v", err)
	}
}

func (s *WorkerService) measureTime(name string, start time.Time, tags []string) {
	if err := s.sdClient.Timing(name, time.Since(start), tags, 1); err != nil {
		s.logger.Errorf("fail to measure time metric, err: %v", err)
	}
}

// HandleGuardianInviteEmail sends one guardian their invite: the sealed
// share record as an attachment plus the verification code in the template.
func (s *WorkerService) HandleGuardianInviteEmail(ctx context.Context, t *asynq.Task) error {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return err
	}
	defer s.measureTime("worker.guardian.invite.email.latency", time.Now(), []string{})
	s.incCounter("worker.guardian.invite.email", []string{})

	var req types.GuardianInviteEmail
	if err := json.Unmarshal(t.Payload(), &req); err != nil {
		s.logger.Errorf("json.Unmarshal failed: %v", err)
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	s.logger.WithFields(logrus.Fields{
		"email":     req.Email,
		"guardian":  req.GuardianName,
		"wallet":    req.WalletAddress,
		"invite_id": req.InviteID,
	}).Info("sending guardian invite email")

	payload := MandrillPayload{
		Key:          s.cfg.Email.APIKey,
		TemplateName: s.cfg.Email.TemplateName,
		TemplateContent: []MandrilMergeVarContent{
			{Name: "GUARDIAN_NAME", Content: req.GuardianName},
			{Name: "WALLET_ADDRESS", Content: req.WalletAddress},
			{Name: "VERIFICATION_CODE", Content: req.Code},
		},
		Message: MandrillMessage{
			To: []MandrillTo{
				{Email: req.Email, Name: req.GuardianName, Type: "to"},
			},
			MergeVars: []MandrillVar{
				{
					Rcpt: req.Email,
					Vars: []MandrilMergeVarContent{
						{Name: "GUARDIAN_NAME", Content: req.GuardianName},
						{Name: "WALLET_ADDRESS", Content: req.WalletAddress},
						{Name: "VERIFICATION_CODE", Content: req.Code},
					},
				},
			},
			Attachments: []MandrillAttachment{
				{
					Type:    "application/octet-stream",
					Name:    fmt.Sprintf("%s-share.json", req.WalletAddress),
					Content: base64.StdEncoding.EncodeToString([]byte(req.ShareRecord)),
				},
			},
		},
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		s.logger.Errorf("json.Marshal failed: %v", err)
		return fmt.Errorf("json.Marshal failed: %v: %w", err, asynq.SkipRetry)
	}

	resp, err := http.Post(s.cfg.Email.Endpoint, "application/json", bytes.NewReader(payloadBytes))
	if err != nil {
		s.logger.Errorf("http.Post failed: %v", err)
		return fmt.Errorf("http.Post failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			s.logger.Errorf("failed to close body: %v", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		s.logger.Errorf("http.Post failed: %s", resp.Status)
		return fmt.Errorf("http.Post failed: %s: %w", resp.Status, asynq.SkipRetry)
	}
	result, err := io.ReadAll(resp.Body)
	if err != nil {
		s.logger.Errorf("io.ReadAll failed: %v", err)
		return fmt.Errorf("io.ReadAll failed: %w", err)
	}
	s.logger.Info(string(result))

	if _, err := t.ResultWriter().Write([]byte("invite email sent")); err != nil {
		return fmt.Errorf("t.ResultWriter.Write failed: %v", err)
	}
	return nil
}
