package main

import (
	"github.com/DataDog/datadog-go/statsd"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/guardvault/guardvault/config"
	"github.com/guardvault/guardvault/internal/tasks"
	"github.com/guardvault/guardvault/service"
)

func main() {
	cfg, err := config.ReadConfig("config")
	if err != nil {
		logrus.Fatalf("fail to read config, err: %v", err)
	}

	redisAddr := cfg.Redis.Host + ":" + cfg.Redis.Port
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     redisAddr,
			Username: cfg.Redis.User,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				tasks.EMAIL_QUEUE_NAME: 10,
				tasks.QUEUE_NAME:       100,
				"default":              10,
			},
		},
	)

	sdClient, err := statsd.New("127.0.0.1:8125")
	if err != nil {
		logrus.Fatalf("fail to create statsd client, err: %v", err)
	}

	worker, err := service.NewWorker(cfg, sdClient)
	if err != nil {
		logrus.Fatalf("fail to create worker, err: %v", err)
	}

	logrus.WithFields(logrus.Fields{
		"redis": redisAddr,
	}).Info("starting worker")

	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeGuardianInviteEmail, worker.HandleGuardianInviteEmail)

	if err := srv.Run(mux); err != nil {
		logrus.Fatalf("fail to run worker, err: %v", err)
	}
}
