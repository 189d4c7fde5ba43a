// Package memory records completion events in process for tests and local runs.
package memory

import (
	"context"
	"errors"
	"strconv"
	"sync"
)

// Message is one recorded publish call.
type Message struct {
	ID      string
	Topic   string
	Payload any
}

// Publisher keeps every published payload, grouped by topic.
type Publisher struct {
	mu      sync.Mutex
	seq     int
	byTopic map[string][]Message
	order   []Message
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{byTopic: make(map[string][]Message)}
}

// Publish records the payload under topic and returns a sequential message id.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if topic == "" {
		return "", errors.New("topic is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	msg := Message{ID: "memory-" + strconv.Itoa(p.seq), Topic: topic, Payload: payload}
	p.byTopic[topic] = append(p.byTopic[topic], msg)
	p.order = append(p.order, msg)
	return msg.ID, nil
}

// Messages returns every recorded message in publish order.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.order...)
}

// Topic returns the messages published to one topic.
func (p *Publisher) Topic(topic string) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.byTopic[topic]...)
}
