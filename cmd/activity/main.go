package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/ec-storefront/internal/activity"
	"github.com/example/ec-storefront/internal/config"
	"github.com/example/ec-storefront/internal/infrastructure/kafka"
	"github.com/example/ec-storefront/internal/logging"
)

// activity tails the cart activity topic and logs every event it reads.
func main() {
	cfg, err := config.Load(getEnv("STOREFRONT_CONFIG", ""))
	if err != nil {
		logging.Base().Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logging.Init("activity", cfg.Log.File, cfg.Log.Level)

	brokers := cfg.Activity.Brokers
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer := kafka.NewConsumer(brokers, cfg.Activity.Topic, cfg.Activity.GroupID, log)
	defer consumer.Close()

	sink := activity.NewLogPublisher(log)
	log.Info("tailing cart activity", "brokers", brokers, "topic", cfg.Activity.Topic, "group", cfg.Activity.GroupID)

	err = consumer.Consume(ctx, func(ctx context.Context, _, value []byte) error {
		var event activity.Event
		if err := json.Unmarshal(value, &event); err != nil {
			return err
		}
		return sink.Publish(ctx, event)
	})
	if err != nil && ctx.Err() == nil {
		log.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
	log.Info("shutting down")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
