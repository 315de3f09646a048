package main

import (
	"context"
	"expvar"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"stripehooks/internal"
	"stripehooks/pkg/api"
	"stripehooks/pkg/billing"
	"stripehooks/pkg/storage"
	"stripehooks/pkg/storage/payments"
	"stripehooks/pkg/storage/subscriptions"
	"stripehooks/webhook"

	"github.com/brianvoe/gofakeit/v6"
	_ "github.com/lib/pq"
)

func main() {
	logger := internal.NewLogger("server")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ruleEngine, err := internal.NewRuleEngine(internal.RulesConfig{
		Rules:  config.Rules,
		Strict: config.RulesStrict,
		Logger: logger,
	})
	if err != nil {
		logger.Fatalf("compile rules: %v", err)
	}

	publisher, err := internal.NewPublisher(config.Watermill)
	if err != nil {
		logger.Fatalf("publisher: %v", err)
	}
	defer publisher.Close()

	var paymentStore storage.PaymentStore
	var subscriptionStore storage.SubscriptionStore
	if config.Storage.Enabled {
		ps, err := payments.Open(payments.Config{
			Driver:      config.Storage.Driver,
			DSN:         config.Storage.DSN,
			Dialect:     config.Storage.Dialect,
			Table:       config.Storage.PaymentsTable,
			AutoMigrate: config.Storage.AutoMigrate,
		})
		if err != nil {
			logger.Fatalf("payments store: %v", err)
		}
		defer ps.Close()
		paymentStore = ps

		ss, err := subscriptions.Open(subscriptions.Config{
			Driver:      config.Storage.Driver,
			DSN:         config.Storage.DSN,
			Dialect:     config.Storage.Dialect,
			Table:       config.Storage.SubscriptionsTable,
			AutoMigrate: config.Storage.AutoMigrate,
		})
		if err != nil {
			logger.Fatalf("subscriptions store: %v", err)
		}
		defer ss.Close()
		subscriptionStore = ss
		logger.Printf("storage enabled driver=%s", config.Storage.Driver)
	}

	var billingClient billing.Client
	if config.Stripe.APIKey != "" {
		client, err := billing.NewStripeClient(config.Stripe.APIKey)
		if err != nil {
			logger.Fatalf("stripe client: %v", err)
		}
		billingClient = client
	} else {
		logger.Printf("stripe api key not configured, billing endpoints disabled")
	}

	dispatcher := webhook.NewDispatcher(internal.NewLogger("dispatch"))
	recorder := &webhook.Recorder{
		Payments:      paymentStore,
		Subscriptions: subscriptionStore,
		Notifier:      publisher,
		Rules:         ruleEngine,
		Logger:        internal.NewLogger("recorder"),
	}
	recorder.Register(dispatcher)

	verifier := webhook.NewStripeVerifier(
		config.Stripe.WebhookSecret,
		time.Duration(config.Stripe.ToleranceSeconds)*time.Second,
	)
	stripeHandler, err := webhook.NewStripeHandler(verifier, dispatcher, config.Server.MaxBodyBytes, internal.NewLogger("webhook"))
	if err != nil {
		logger.Fatalf("stripe handler: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle(config.Stripe.WebhookPath, stripeHandler)
	logger.Printf("stripe webhook enabled on %s", config.Stripe.WebhookPath)

	apiLogger := internal.NewLogger("api")
	mux.Handle("/api/billing/checkout", &api.CheckoutHandler{Billing: billingClient, Logger: apiLogger})
	mux.Handle("/api/billing/refund", &api.RefundHandler{Billing: billingClient, Logger: apiLogger})
	mux.Handle("/api/billing/promo", &api.PromoHandler{Billing: billingClient, Logger: apiLogger})
	mux.Handle("/api/billing/subscription", &api.SubscriptionHandler{Billing: billingClient, Logger: apiLogger})

	faker := gofakeit.New(0)
	mux.Handle("/api/admin/stats", &api.AdminStatsHandler{Payments: paymentStore, Faker: faker, Logger: apiLogger})
	mux.Handle("/api/admin/users", &api.AdminUsersHandler{Faker: faker, Logger: apiLogger})
	mux.Handle("/api/admin/payments", &api.AdminPaymentsHandler{Payments: paymentStore, Logger: apiLogger})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if config.Server.MetricsEnabled {
		mux.Handle(config.Server.MetricsPath, expvar.Handler())
		logger.Printf("metrics enabled on %s", config.Server.MetricsPath)
	}

	handler := internal.NewRateLimitHandler(mux, config.Server.RateLimitRPS, config.Server.RateLimitBurst, time.Minute)

	addr := ":" + strconv.Itoa(config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       time.Duration(config.Server.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout:      time.Duration(config.Server.WriteTimeoutMS) * time.Millisecond,
		IdleTimeout:       time.Duration(config.Server.IdleTimeoutMS) * time.Millisecond,
		ReadHeaderTimeout: time.Duration(config.Server.ReadHeaderMS) * time.Millisecond,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Printf("listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}
