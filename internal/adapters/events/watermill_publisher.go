package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/hearthealt/anyrouter-autosign/internal/domain/model"
)

const DefaultTopic = "anyrouter.sign.outcome"

// SignOutcomeEvent is published once per persisted sign outcome.
type SignOutcomeEvent struct {
	AccountID   int64     `json:"account_id"`
	Username    string    `json:"username"`
	Kind        string    `json:"kind"`
	RewardQuota int64     `json:"reward_quota"`
	Message     string    `json:"message"`
	Attempt     int       `json:"attempt"`
	At          time.Time `json:"at"`
}

type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
}

func NewWatermillPublisher(publisher message.Publisher, topic string) *WatermillPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &WatermillPublisher{publisher: publisher, topic: topic}
}

func (p *WatermillPublisher) Topic() string { return p.topic }

func (p *WatermillPublisher) PublishOutcome(ctx context.Context, account *model.Account, o model.SignOutcome) error {
	event := SignOutcomeEvent{
		AccountID:   o.AccountID,
		Username:    account.Label(),
		Kind:        string(o.Kind),
		RewardQuota: o.RewardQuota,
		Message:     o.Message,
		Attempt:     o.Attempt,
		At:          o.SignedAt,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("kind", event.Kind)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (p *WatermillPublisher) Close() error {
	return p.publisher.Close()
}
