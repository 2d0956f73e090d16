// Package nats mirrors realtime events onto NATS subjects.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"optimus/internal/realtime"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "optimus.events"

// Config selects the server and subject prefix.
type Config struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

type publisher interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

// Sink publishes each event as JSON to {prefix}.{event}.
type Sink struct {
	pub    publisher
	prefix string
}

var _ realtime.Sink = (*Sink)(nil)

// Connect dials the NATS server described by cfg.
func Connect(cfg Config) (*Sink, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("nats: url is required")
	}
	conn, err := natsgo.Connect(cfg.URL,
		natsgo.Name("optimus"),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return newSink(conn, cfg.Prefix), nil
}

func newSink(pub publisher, prefix string) *Sink {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Sink{pub: pub, prefix: prefix}
}

// Subject returns the subject an event is published on.
func (s *Sink) Subject(event string) string {
	return s.prefix + "." + event
}

// Publish implements realtime.Sink.
func (s *Sink) Publish(ctx context.Context, ev realtime.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Name, err)
	}
	if err := s.pub.Publish(s.Subject(ev.Name), data); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Name, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (s *Sink) Close() error {
	err := s.pub.FlushTimeout(2 * time.Second)
	s.pub.Close()
	return err
}
