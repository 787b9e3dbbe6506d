package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/todo-1m/todo-pathways/internal/app/relay"
	"github.com/todo-1m/todo-pathways/internal/messaging"
	"github.com/todo-1m/todo-pathways/internal/platform/config"
	"github.com/todo-1m/todo-pathways/internal/platform/logging"
	"github.com/todo-1m/todo-pathways/internal/platform/natsutil"
)

func main() {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadRelay()
	if err != nil {
		log.Fatal(err)
	}
	logger := logging.New("webhook-relay", cfg.LogLevel)
	ns := messaging.Namespace{Tenant: cfg.Broker.Tenant, DataCore: cfg.Broker.DataCore}

	client, err := natsutil.ConnectJetStreamWithRetry(runCtx, natsutil.Options{
		URL:       cfg.Broker.URL,
		Name:      "webhook-relay",
		Token:     cfg.Broker.APIKey,
		Namespace: ns,
	}, 20*time.Second)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	service := relay.NewService(cfg.WebhookURL, cfg.WebhookSecret, cfg.RequestTimeout, cfg.MaxBackoff, logger)
	// The ack deadline outlives one webhook call so a slow but successful
	// delivery is not redelivered.
	consumer := relay.NewConsumer(client.JS, ns, service, 2*cfg.RequestTimeout, logger)
	consumer.MaxDeliver = cfg.MaxDeliver
	consumer.DrainTimeout = cfg.ShutdownTimeout

	if err := consumer.Run(runCtx); err != nil {
		log.Fatal(err)
	}
	logger.Info("webhook-relay stopped")
}
