package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/ardanlabs/conf/v3"
	"github.com/dmaretti/storefront/api"
	"github.com/dmaretti/storefront/api/background"
	"github.com/dmaretti/storefront/bus"
	"github.com/dmaretti/storefront/config"
	"github.com/dmaretti/storefront/core/address"
	"github.com/dmaretti/storefront/core/cart"
	"github.com/dmaretti/storefront/core/checkout"
	"github.com/dmaretti/storefront/core/order"
	"github.com/dmaretti/storefront/database"
	"github.com/dmaretti/storefront/events"
	"github.com/dmaretti/storefront/provider"
	"github.com/dmaretti/storefront/rate"
	"github.com/dmaretti/storefront/storage"
	"github.com/plutov/paypal/v4"
	"github.com/sirupsen/logrus"
	stripecl "github.com/stripe/stripe-go/v74/client"
)

func main() {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	if err := Run(log); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func Run(logger *logrus.Logger) error {
	logger.Infof("starting server")
	defer logger.Info("shutdown complete")

	const prefix = "STOREFRONT"
	var cfg config.Config
	if _, err := conf.Parse(prefix, &cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	lw := logger.Writer()
	defer lw.Close()
	errLog := log.New(lw, "", 0)

	db, err := database.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to open db connection: %w", err)
	}

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	sessionManager := scs.New()
	sessionManager.Lifetime = 30 * 24 * time.Hour

	blobs := storage.NewRedis(cfg.Redis)
	defer blobs.Close()

	notifier := bus.New(logger)
	cartStore := cart.NewStore(blobs, notifier)

	bg := background.New(logger)

	pp, err := paypal.NewClient(
		cfg.Paypal.ClientID,
		cfg.Paypal.Secret,
		cfg.Paypal.URL,
	)
	if err != nil {
		return fmt.Errorf("failed to build the paypal client: %w", err)
	}

	if _, err = pp.GetAccessToken(context.TODO()); err != nil {
		return fmt.Errorf("failed to get the first paypal access token: %w", err)
	}

	strp := &stripecl.API{}
	strp.Init(cfg.Stripe.APISecret, nil)

	publisher := events.NewKafkaPublisher(cfg.Kafka, logger)
	defer publisher.Close()

	orchestrator := checkout.New(checkout.Config{
		Log:       logger,
		Cart:      cartStore,
		Addresses: address.Book{DB: db},
		Orders:    order.Recorder{DB: db},
		Gateways: map[string]provider.Gateway{
			"stripe": provider.NewStripe(strp, cfg.Stripe),
			"paypal": provider.NewPaypal(pp),
		},
		Handoff:            &checkout.SessionHandoff{Manager: sessionManager},
		Events:             publisher,
		Background:         bg,
		BackendTimeout:     cfg.Checkout.BackendTimeout,
		ProviderSessionTTL: cfg.Checkout.SessionTTL,
	})

	checkoutRate := rate.NewLimiter(cfg.Rate.Burst, cfg.Rate.Expiry, cfg.Rate.LimitRPS)

	mux := api.APIMux(api.APIConfig{
		CorsOrigin:   cfg.Cors.Origin,
		Log:          logger,
		DB:           db,
		Session:      sessionManager,
		Cart:         cartStore,
		Bus:          notifier,
		Checkout:     orchestrator,
		CheckoutRate: checkoutRate,
	})

	srv := http.Server{
		Handler:      mux,
		Addr:         cfg.Web.Address,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     errLog,
	}

	serverErrors := make(chan error, 1)

	go func() {
		logger.Infof("starting api router at %s", srv.Addr)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Infof("shutting down: signal %s", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}

		if err := bg.Shutdown(ctx); err != nil {
			return fmt.Errorf("could not complete all background tasks: %w", err)
		}
	}
	return nil
}
