// Package memory records completion messages in process. Tests and the
// single-binary setup use it in place of Pub/Sub.
package memory

import (
	"context"
	"errors"
	"strconv"
	"sync"
)

// ErrEmptyTopic is returned when Publish is called without a topic.
var ErrEmptyTopic = errors.New("memory publisher: topic is required")

// Message is one recorded publish.
type Message struct {
	ID      string
	Topic   string
	Payload any
}

// Publisher keeps every successful publish in call order.
type Publisher struct {
	mu   sync.Mutex
	log  []Message
	next int
	err  error
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes later publishes return err until it is called with nil.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Publish appends payload to the log and returns its message id.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if topic == "" {
		return "", ErrEmptyTopic
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.next++
	id := topic + "-" + strconv.Itoa(p.next)
	p.log = append(p.log, Message{ID: id, Topic: topic, Payload: payload})
	return id, nil
}

// Messages returns a copy of every recorded publish.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.log...)
}

// Topic returns the payloads published to topic, oldest first.
func (p *Publisher) Topic(topic string) []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []any
	for _, m := range p.log {
		if m.Topic == topic {
			out = append(out, m.Payload)
		}
	}
	return out
}
