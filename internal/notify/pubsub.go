package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/nalpari/jppc/internal/crawler"
)

// Event types published to the alerts topic.
const (
	EventCrawlFailed  = "crawl_failed"
	EventPriceChanged = "price_changed"
)

// Event is the JSON payload of an alert message.
type Event struct {
	Type       string                `json:"type"`
	Source     string                `json:"source"`
	Message    string                `json:"message,omitempty"`
	Changes    []crawler.PriceChange `json:"changes,omitempty"`
	OccurredAt time.Time             `json:"occurred_at"`
}

// PubSub publishes alerts as JSON events on a topic.
type PubSub struct {
	topic *pubsub.Topic
}

// NewPubSub wraps an existing topic handle.
func NewPubSub(topic *pubsub.Topic) (*PubSub, error) {
	if topic == nil {
		return nil, fmt.Errorf("pubsub topic is required")
	}
	return &PubSub{topic: topic}, nil
}

// NotifyCrawlFailure publishes a crawl_failed event.
func (p *PubSub) NotifyCrawlFailure(ctx context.Context, sourceName, msg string, at time.Time) error {
	return p.publish(ctx, Event{Type: EventCrawlFailed, Source: sourceName, Message: msg, OccurredAt: at})
}

// NotifyPriceChange publishes a price_changed event.
func (p *PubSub) NotifyPriceChange(ctx context.Context, sourceName string, changes []crawler.PriceChange, at time.Time) error {
	return p.publish(ctx, Event{Type: EventPriceChanged, Source: sourceName, Changes: changes, OccurredAt: at})
}

func (p *PubSub) publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	res := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"type": ev.Type, "source": ev.Source},
	})
	if _, err := res.Get(ctx); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Type, err)
	}
	return nil
}

// Stop flushes pending publishes.
func (p *PubSub) Stop() {
	p.topic.Stop()
}
