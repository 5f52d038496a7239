package outbox

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/lokatix/checkout/internal/adapters/crdb"
	"github.com/lokatix/checkout/internal/adapters/rabbit"
	"github.com/lokatix/checkout/internal/observability"
)

const (
	pollInterval = 5 * time.Second
	batchSize    = 50
)

// Publisher drains the outbox table into RabbitMQ. Records stay NEW until the
// broker has accepted them, so a crash between poll and publish only causes a
// redelivery, never a lost event. Consumers dedupe on MessageId.
type Publisher struct {
	repo      *crdb.Repository
	rabbitPub *rabbit.Publisher
	logger    observability.Logger
}

func NewPublisher(repo *crdb.Repository, rabbitPub *rabbit.Publisher, logger observability.Logger) *Publisher {
	return &Publisher{repo: repo, rabbitPub: rabbitPub, logger: logger}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

func (p *Publisher) drain(ctx context.Context) {
	records, err := p.repo.GetUnpublishedOutbox(ctx, batchSize)
	if err != nil {
		p.logger.WithField("error", err).Error("outbox: fetch unpublished")
		return
	}
	if len(records) == 0 {
		observability.OutboxLag.Set(0)
		return
	}
	observability.OutboxLag.Set(time.Since(records[0].CreatedAt).Seconds())

	for _, rec := range records {
		msg := amqp.Publishing{
			MessageId:   rec.DedupeKey,
			ContentType: "application/json",
			Body:        rec.Payload,
		}
		if err := p.rabbitPub.Publish(ctx, rec.EventType, msg); err != nil {
			p.logger.WithFields(map[string]interface{}{
				"event_type": rec.EventType,
				"record_id":  rec.ID,
				"error":      err,
			}).Error("outbox: publish failed")
			continue
		}
		if err := p.repo.MarkPublished(ctx, rec.ID, time.Now()); err != nil {
			p.logger.WithFields(map[string]interface{}{
				"record_id": rec.ID,
				"error":     err,
			}).Error("outbox: mark published failed")
		}
	}
}
