package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/drukbooks/drukbooks/internal/app"
	"github.com/drukbooks/drukbooks/internal/bills"
	"github.com/drukbooks/drukbooks/internal/documents"
	"github.com/drukbooks/drukbooks/internal/gst"
	"github.com/drukbooks/drukbooks/internal/invoices"
	"github.com/drukbooks/drukbooks/internal/notes"
	"github.com/drukbooks/drukbooks/internal/notify"
	"github.com/drukbooks/drukbooks/internal/observability"
	"github.com/drukbooks/drukbooks/internal/quotations"
	"github.com/drukbooks/drukbooks/internal/shared"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	basis := gst.TaxBasis(cfg.TaxBasis)
	switch basis {
	case gst.TaxBasisCash, gst.TaxBasisAccrual:
	default:
		logger.Error("invalid TAX_BASIS", slog.String("value", cfg.TaxBasis))
		os.Exit(1)
	}

	dbpool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()

	dispatcher := notify.NewDispatcher(asynqClient, logger)
	idemStore := shared.NewIdempotencyStore(redisClient, cfg.IdempotencyTTL)
	auditLogger := shared.NewAuditLogger()

	docRepo := documents.NewRepository(dbpool, auditLogger)
	gstRepo := gst.NewRepository(dbpool, auditLogger)

	invoiceService := invoices.NewService(logger, docRepo, dispatcher)
	billService := bills.NewService(logger, docRepo)
	noteService := notes.NewService(logger, docRepo)
	quotationService := quotations.NewService(logger, docRepo, dispatcher)
	gstService := gst.NewService(logger, gstRepo, docRepo, basis)

	router := app.NewRouter(app.RouterParams{
		Logger: logger,
		Config: cfg,

		InvoiceHandler:   invoices.NewHandler(logger, invoiceService, idemStore),
		BillHandler:      bills.NewHandler(logger, billService, idemStore),
		NoteHandler:      notes.NewHandler(logger, noteService, idemStore),
		QuotationHandler: quotations.NewHandler(logger, quotationService, idemStore),
		GstHandler:       gst.NewHandler(logger, gstService),

		Metrics: observability.NewMetrics(),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
