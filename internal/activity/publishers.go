package activity

import (
	"context"

	"github.com/example/ec-storefront/internal/infrastructure/kafka"
	"github.com/example/ec-storefront/internal/infrastructure/rabbitmq"
)

// KafkaPublisher keys messages by cart reference so one cart's events stay
// ordered within a partition.
type KafkaPublisher struct {
	producer *kafka.Producer
}

func NewKafkaPublisher(p *kafka.Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: p}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	return p.producer.Publish(ctx, e.Cart, e)
}

func (p *KafkaPublisher) Close() error { return p.producer.Close() }

type RabbitPublisher struct {
	publisher *rabbitmq.Publisher
}

func NewRabbitPublisher(p *rabbitmq.Publisher) *RabbitPublisher {
	return &RabbitPublisher{publisher: p}
}

func (p *RabbitPublisher) Publish(ctx context.Context, e Event) error {
	return p.publisher.Publish(ctx, e.ID, e)
}

func (p *RabbitPublisher) Close() error { return p.publisher.Close() }
