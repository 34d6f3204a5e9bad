// Package nats provides a client for NATS JetStream pub/sub messaging.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Client wraps nats connection and jetstream context.
type Client struct {
	Conn *nats.Conn
	js   jetstream.JetStream
}

// New creates a new nats client with jetstream support.
func New(_ context.Context, natsURL string, opts ...nats.Option) (*Client, error) {
	opts = append([]nats.Option{nats.MaxReconnects(-1)}, opts...)
	conn, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Client{Conn: conn, js: js}, nil
}

// JetStream exposes the underlying jetstream context.
func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

// StreamSpec describes a stream to create or update.
type StreamSpec struct {
	Name      string
	Subjects  []string
	WorkQueue bool          // delete messages once acknowledged
	MaxAge    time.Duration // 0 keeps messages forever
}

// EnsureStream creates a stream if it doesn't exist.
func (c *Client) EnsureStream(ctx context.Context, spec StreamSpec) error {
	cfg := jetstream.StreamConfig{
		Name:     spec.Name,
		Subjects: spec.Subjects,
		MaxAge:   spec.MaxAge,
	}
	if spec.WorkQueue {
		cfg.Retention = jetstream.WorkQueuePolicy
	}

	if _, err := c.js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("create stream %s: %w", spec.Name, err)
	}
	return nil
}

// Publish publishes a JSON encoded message to a subject.
func (c *Client) Publish(ctx context.Context, subject string, data any, opts ...jetstream.PublishOpt) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = c.js.Publish(ctx, subject, payload, opts...)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	return nil
}

// Message is a delivered message the handler must settle.
// jetstream.Msg satisfies it.
type Message interface {
	Data() []byte
	Ack() error
	NakWithDelay(delay time.Duration) error
	Term() error
	InProgress() error
}

// ConsumerSpec describes a durable pull consumer.
type ConsumerSpec struct {
	Stream        string
	Durable       string
	Subject       string
	MaxAckPending int
	AckWait       time.Duration
	MaxDeliver    int
}

// Subscribe creates a durable consumer and starts consuming messages.
// The handler settles each message itself. The returned func stops
// delivery; messages already handed to the handler are unaffected.
func (c *Client) Subscribe(ctx context.Context, spec ConsumerSpec, handler func(Message)) (func(), error) {
	cons, err := c.js.CreateOrUpdateConsumer(ctx, spec.Stream, jetstream.ConsumerConfig{
		Durable:       spec.Durable,
		FilterSubject: spec.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxAckPending: spec.MaxAckPending,
		AckWait:       spec.AckWait,
		MaxDeliver:    spec.MaxDeliver,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer: %w", err)
	}

	var consumeOpts []jetstream.PullConsumeOpt
	if spec.MaxAckPending > 0 {
		consumeOpts = append(consumeOpts, jetstream.PullMaxMessages(spec.MaxAckPending))
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		handler(msg)
	}, consumeOpts...)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", spec.Subject, err)
	}

	return cc.Stop, nil
}

// Close closes the nats connection.
func (c *Client) Close() {
	c.Conn.Close()
}

// IsConnected returns true if connected to nats.
func (c *Client) IsConnected() bool {
	return c.Conn.IsConnected()
}
