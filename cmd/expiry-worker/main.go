package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"

	"github.com/lokatix/checkout/internal/adapters/crdb"
	mongoadapter "github.com/lokatix/checkout/internal/adapters/mongo"
	"github.com/lokatix/checkout/internal/checkout"
	"github.com/lokatix/checkout/internal/config"
	"github.com/lokatix/checkout/internal/coupon"
	"github.com/lokatix/checkout/internal/domain"
	"github.com/lokatix/checkout/internal/observability"
	"github.com/lokatix/checkout/internal/points"
)

const sweepBatchSize = 100

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database("checkout")
	catalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)

	resolver := coupon.NewResolver(repo, nil, logger)
	ledger := points.NewLedger(repo, logger, cfg.PointsTTL)
	svc := checkout.NewService(repo, resolver, ledger, catalog, audit, logger)

	worker := NewSweepWorker(svc, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go worker.Run(ctx, cfg.SweepInterval)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown expiry worker")
}

// SweepWorker expires unpaid transactions whose payment window has lapsed.
// Reads normally catch these lazily; the sweep bounds how long a stale
// waiting_payment row can hold seats nobody will pay for.
type SweepWorker struct {
	svc    *checkout.Service
	logger observability.Logger
}

func NewSweepWorker(svc *checkout.Service, logger observability.Logger) *SweepWorker {
	return &SweepWorker{svc: svc, logger: logger}
}

func (w *SweepWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.sweep(ctx, now)
		}
	}
}

func (w *SweepWorker) sweep(ctx context.Context, now time.Time) {
	overdue, err := w.svc.Overdue(ctx, now, sweepBatchSize)
	if err != nil {
		w.logger.WithField("error", err).Error("sweep: list overdue")
		return
	}

	var g errgroup.Group
	g.SetLimit(8)
	for _, txn := range overdue {
		id := txn.ID
		g.Go(func() error {
			return w.expire(ctx, id)
		})
	}
	if err := g.Wait(); err != nil {
		w.logger.WithField("error", err).Error("sweep: expire batch")
	}
}

func (w *SweepWorker) expire(ctx context.Context, id uuid.UUID) error {
	_, err := w.svc.Expire(ctx, id)
	if err != nil {
		// A payment that landed between the list and the expire loses the
		// race cleanly; nothing to do.
		if errors.Is(err, domain.ErrInvalidTransition) {
			return nil
		}
		return errors.Wrapf(err, "expire transaction %s", id)
	}
	observability.ExpiredTransactionsTotal.Inc()
	return nil
}
