package main

import (
	"github.com/DataDog/datadog-go/statsd"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/guardvault/guardvault/api"
	"github.com/guardvault/guardvault/config"
	"github.com/guardvault/guardvault/internal/vault"
	"github.com/guardvault/guardvault/storage"
)

func main() {
	cfg, err := config.ReadConfig("config")
	if err != nil {
		logrus.Fatalf("fail to read config, err: %v", err)
	}

	redis, err := storage.NewRedisStorage(cfg)
	if err != nil {
		logrus.Fatalf("fail to connect to redis, err: %v", err)
	}
	defer func() {
		if err := redis.Close(); err != nil {
			logrus.Errorf("fail to close redis, err: %v", err)
		}
	}()

	redisOpts := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
		Username: cfg.Redis.User,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	client := asynq.NewClient(redisOpts)
	defer func() {
		if err := client.Close(); err != nil {
			logrus.Errorf("fail to close asynq client, err: %v", err)
		}
	}()

	sdClient, err := statsd.New("127.0.0.1:8125")
	if err != nil {
		logrus.Fatalf("fail to create statsd client, err: %v", err)
	}

	v, err := vault.New(vault.Config{
		TotalShares:    cfg.Vault.TotalShares,
		Threshold:      cfg.Vault.Threshold,
		OwnerShares:    cfg.Vault.OwnerShares,
		TimelockHours:  cfg.Vault.TimelockHours,
		ExpirationDays: cfg.Vault.ExpirationDays,
		CooldownHours:  cfg.Vault.CooldownHours,
	}, logrus.StandardLogger())
	if err != nil {
		logrus.Fatalf("fail to create vault, err: %v", err)
	}

	server := api.NewServer(cfg, v, redis, client, sdClient)
	if err := server.StartServer(); err != nil {
		logrus.Fatalf("fail to start server, err: %v", err)
	}
}
