package kafka

import (
	"context"
	"encoding/json"
	"log"

	"github.com/Luffy998899/Astra/internal/usecase"
	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Publisher emits economy events to Kafka. Production is asynchronous and
// failures only log: the transaction has already committed by the time an
// event exists, so delivery problems must never fail the request.
type Publisher struct {
	client *kgo.Client
}

func NewPublisher(client *kgo.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) CouponRedeemed(ctx context.Context, ev usecase.RedemptionEvent) {
	payload := RedeemedPayload{
		SchemaVersion: 1,
		EventID:       uuid.New().String(),
		CouponCode:    ev.CouponCode,
		UserID:        ev.UserID,
		IPAddress:     ev.IPAddress,
		Reward:        ev.Reward,
		RedeemedAt:    ev.RedeemedAt,
	}
	p.produce(ctx, TopicRedeemed, []byte(ev.UserID), payload)
}

func (p *Publisher) UsersFlagged(ctx context.Context, ev usecase.FraudFlagEvent) {
	payload := FlaggedPayload{
		SchemaVersion: 1,
		EventID:       uuid.New().String(),
		UserIDs:       ev.UserIDs,
		IPAddress:     ev.IPAddress,
		CouponCode:    ev.CouponCode,
		Denied:        ev.Denied,
		FlaggedAt:     ev.FlaggedAt,
	}
	// Key by IP so flags for the same address land in order on one partition.
	p.produce(ctx, TopicFlagged, []byte(ev.IPAddress), payload)
}

func (p *Publisher) produce(ctx context.Context, topic string, key []byte, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("kafka: marshal %s payload: %v", topic, err)
		return
	}

	record := &kgo.Record{
		Topic: topic,
		Key:   key,
		Value: payload,
	}
	p.client.Produce(context.WithoutCancel(ctx), record, func(r *kgo.Record, err error) {
		if err != nil {
			log.Printf("kafka: produce to %s failed: %v", topic, err)
		}
	})
}

var _ usecase.EventSink = (*Publisher)(nil)
