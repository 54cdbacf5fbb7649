// Package memory is an in-process stand-in for the Pub/Sub publisher. It
// encodes payloads the same way, so consumers can decode what a subscriber
// would have received.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Message is one recorded publish, as it would appear on the wire.
type Message struct {
	ID         string
	Topic      string
	Data       []byte
	Attributes map[string]string
}

// Publisher records JSON-encoded messages per topic.
type Publisher struct {
	mu       sync.RWMutex
	messages []Message
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish marshals payload to JSON and records it under topic.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, Message{
		ID:         id,
		Topic:      topic,
		Data:       data,
		Attributes: map[string]string{"content_type": "application/json"},
	})
	return id, nil
}

// Messages returns the messages published to topic, oldest first. An empty
// topic returns every message.
func (p *Publisher) Messages(topic string) []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Message
	for _, m := range p.messages {
		if topic != "" && m.Topic != topic {
			continue
		}
		m.Data = append([]byte(nil), m.Data...)
		attrs := make(map[string]string, len(m.Attributes))
		for k, v := range m.Attributes {
			attrs[k] = v
		}
		m.Attributes = attrs
		out = append(out, m)
	}
	return out
}

// Decode unmarshals the most recent message on topic into v.
func (p *Publisher) Decode(topic string, v any) error {
	msgs := p.Messages(topic)
	if len(msgs) == 0 {
		return fmt.Errorf("no messages on %s", topic)
	}
	if err := json.Unmarshal(msgs[len(msgs)-1].Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", topic, err)
	}
	return nil
}
