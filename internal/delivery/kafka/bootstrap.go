package kafka

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/Luffy998899/Astra/internal/config"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// EnsureTopics creates the event topics (and their DLQs) if missing.
func EnsureTopics(ctx context.Context, client *kgo.Client, cfg *config.Config) error {
	adm := kadm.NewClient(client)

	topics := []string{
		TopicRedeemed,
		TopicFlagged,
	}

	partitions := cfg.TopicPartitions()
	replicationFactor := cfg.ReplicationFactor()

	for _, topic := range topics {
		resp, err := adm.CreateTopics(ctx, int32(partitions), replicationFactor, nil, topic)
		if err != nil {
			return fmt.Errorf("failed to create topic %s: %w", topic, err)
		}
		for _, detail := range resp {
			if detail.Err != nil && !strings.Contains(detail.Err.Error(), "already exists") {
				return fmt.Errorf("failed to create topic %s: %w", detail.Topic, detail.Err)
			}
		}
	}

	log.Println("All topics ensured")
	return nil
}
