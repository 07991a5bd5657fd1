package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/layer-3/gatekeeper/core"
	"github.com/layer-3/gatekeeper/ports"
)

const (
	LoginTopic  = "gatekeeper.login"
	LogoutTopic = "gatekeeper.logout"
)

// SessionEvent is the payload of login and logout events
type SessionEvent struct {
	SessionID  string          `json:"session_id"`
	UserID     string          `json:"user_id"`
	Method     core.AuthMethod `json:"method,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishLogin publishes a login event
func (p *WatermillPublisher) PublishLogin(ctx context.Context, session *core.Session) error {
	return p.publish(ctx, LoginTopic, session)
}

// PublishLogout publishes a logout event so other instances can drop cached state
func (p *WatermillPublisher) PublishLogout(ctx context.Context, session *core.Session) error {
	return p.publish(ctx, LogoutTopic, session)
}

func (p *WatermillPublisher) publish(ctx context.Context, topic string, session *core.Session) error {
	event := SessionEvent{
		SessionID:  session.ID,
		UserID:     session.UserID,
		Method:     session.Method,
		OccurredAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
