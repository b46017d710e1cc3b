// Package app assembles the storefront: storage, caches, messaging,
// the services behind the HTTP API, and the background loops that keep
// orders honest after the request that created them is long gone.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/auth"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/cart"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/catalog"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/config"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/httpapi"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/messaging"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/notify"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/order"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/payment"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/region"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/shipping"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/stock"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/storage"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/sweeper"
	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/websocket"
)

type App struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *storage.Store
	rdb       *redis.Client
	hub       *websocket.Hub
	sweep     *sweeper.Sweeper
	publisher messaging.Publisher
	consumer  *messaging.Consumer
	outbox    *messaging.OutboxDispatcher
	mail      *notify.Consumer
	httpSrv   *http.Server
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	store, err := storage.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	regions := region.NewStore(store.Pool(), rdb, cfg.SettingsCacheTTL, logger)
	catalogRepo := catalog.NewRepo()
	ledger := stock.NewLedger()
	carts := cart.NewService(store.Pool(), catalogRepo, ledger)
	notifications := notify.NewOutbox()

	var carrier shipping.Carrier
	if cfg.CarrierBaseURL != "" {
		carrier = shipping.NewCarrierClient(cfg.CarrierBaseURL, cfg.CarrierKey, cfg.CarrierTimeout, rdb, cfg.RateCacheTTL, logger)
	} else {
		logger.Warn("no carrier configured, international rates fall back to manual quotes")
	}
	engine := shipping.NewEngine(regions, carrier, logger)
	quotes := shipping.NewQuoteService(store.Pool(), notifications, logger)

	hub := websocket.NewHub()

	orderSvc := order.NewService(order.Deps{
		Pool:     store.Pool(),
		Carts:    carts,
		Catalog:  catalogRepo,
		Ledger:   ledger,
		Engine:   engine,
		Quotes:   quotes,
		Notifier: notifications,
		Pusher:   hub,
		TTL:      cfg.PaymentTTL,
		Logger:   logger,
	})

	verifier := payment.NewVerifier(cfg.WebhookID, cfg.WebhookSecret, cfg.WebhookSkew)
	reconciler := payment.NewReconciler(store.Pool(), ledger, notifications, hub, logger)
	sweep := sweeper.New(store.Pool(), ledger, notifications, hub, cfg.SweepInterval, cfg.SweepBatchSize, logger)

	publisher, err := messaging.NewRabbitPublisher(cfg.RabbitURL, cfg.NotifyExchange)
	if err != nil {
		rdb.Close()
		store.Close()
		return nil, err
	}

	consumer, err := messaging.NewRabbitConsumer(cfg.RabbitURL, cfg.NotifyExchange, cfg.NotifyQueue, logger)
	if err != nil {
		publisher.Close()
		rdb.Close()
		store.Close()
		return nil, err
	}

	outbox := messaging.NewOutboxDispatcher(store.Pool(), publisher, cfg.OutboxInterval, cfg.OutboxBatchSize, logger)

	var mailer notify.Mailer
	if cfg.SMTPAddr != "" {
		mailer = notify.NewSMTPMailer(cfg.SMTPAddr, cfg.SMTPFrom, cfg.SMTPUsername, cfg.SMTPPassword)
	} else {
		mailer = notify.NewLogMailer(logger)
	}
	mail := notify.NewConsumer(mailer, cfg.OperatorEmail, logger)

	authority := auth.NewAuthority(cfg.SessionSigningKey)
	wsHandler := websocket.NewHandler(hub, authority, orderSvc, logger)

	api := httpapi.NewServer(httpapi.Deps{
		Authority:     authority,
		Carts:         carts,
		Orders:        orderSvc,
		Quotes:        quotes,
		Rates:         engine,
		Verifier:      verifier,
		Webhooks:      reconciler,
		OrderStream:   wsHandler.ServeWS,
		OperatorToken: cfg.OperatorToken,
		Logger:        logger,
	})
	httpSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api,
	}

	return &App{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		rdb:       rdb,
		hub:       hub,
		sweep:     sweep,
		publisher: publisher,
		consumer:  consumer,
		outbox:    outbox,
		mail:      mail,
		httpSrv:   httpSrv,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)

	a.outbox.Start(ctx)

	go a.hub.Run(ctx)
	go a.sweep.Run(ctx)

	go func() {
		errCh <- a.consumer.Start(ctx, a.mail.HandleDelivery)
	}()

	go func() {
		a.logger.Info("storefront http server listening", "addr", a.cfg.HTTPAddr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (a *App) Close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.ShutdownGracePeriod)
	defer cancel()
	_ = a.httpSrv.Shutdown(shutdownCtx)
	a.consumer.Close()
	a.publisher.Close()
	a.rdb.Close()
	a.store.Close()
}

func Run() error {
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer app.Close(ctx)

	return app.Run(ctx)
}

func logLevel(raw string) slog.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
