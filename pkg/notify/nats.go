package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes run events to NATS, one subject per event
// type under a common prefix.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	// URL is the NATS server URL.
	URL string

	// Subject is the base subject for run events.
	Subject string

	// ConnectTimeout is the connection timeout.
	ConnectTimeout time.Duration
}

// NewNATSPublisher connects to NATS. The connection keeps retrying in
// the background, so a broker restart mid-run only drops the events
// sent while it was down.
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Subject == "" {
		cfg.Subject = "inhabit.runs"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.ConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &NATSPublisher{
		conn:    conn,
		subject: cfg.Subject,
	}, nil
}

// Publish sends an event to <subject>.<type>.
func (p *NATSPublisher) Publish(_ context.Context, event Event) error {
	subject := fmt.Sprintf("%s.%s", p.subject, event.Type)
	return p.conn.Publish(subject, event.JSON())
}

// Close drains the connection.
func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}

// NATSSubscriber receives run events from NATS.
type NATSSubscriber struct {
	conn    *nats.Conn
	subject string
	sub     *nats.Subscription
}

// NewNATSSubscriber connects a subscriber with the same reconnect
// behavior as the publisher.
func NewNATSSubscriber(cfg NATSConfig) (*NATSSubscriber, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Subject == "" {
		cfg.Subject = "inhabit.runs"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.ConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &NATSSubscriber{
		conn:    conn,
		subject: cfg.Subject,
	}, nil
}

// Subscribe receives events for every run until the context ends.
func (s *NATSSubscriber) Subscribe(ctx context.Context, handler func(Event)) error {
	sub, err := s.conn.Subscribe(s.subject+".>", func(msg *nats.Msg) {
		event, err := ParseEvent(msg.Data)
		if err != nil {
			return
		}
		handler(event)
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.sub = sub

	<-ctx.Done()
	return nil
}

// Close unsubscribes and closes the connection.
func (s *NATSSubscriber) Close() error {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	s.conn.Close()
	return nil
}
