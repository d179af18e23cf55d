package main

import (
	"log/slog"
	"os"

	"github.com/hibiken/asynq"

	"github.com/drukbooks/drukbooks/internal/app"
	"github.com/drukbooks/drukbooks/jobs"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		asynq.Config{
			Concurrency: 4,
			Queues:      map[string]int{jobs.QueueDefault: 1},
		},
	)

	mux := asynq.NewServeMux()
	mux.Handle(jobs.TaskTypeDocumentReceipt, &jobs.ReceiptHandler{
		Logger: logger,
		Mailer: jobs.SMTPMailer{Addr: cfg.SMTPAddr, From: cfg.SMTPFrom},
	})

	logger.Info("starting worker", slog.String("redis", cfg.RedisAddr))
	if err := srv.Run(mux); err != nil {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
