// Package notify publishes committed calendar mutations to NATS so other
// services can react to schedule changes.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/morbatex/matsecal/scheduler"
)

// Config holds NATS publisher configuration.
type Config struct {
	URL            string        `yaml:"url"`
	Subject        string        `yaml:"subject"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait"`
	MaxReconnects  int           `yaml:"max_reconnects"`
}

// DefaultConfig returns a default NATS configuration.
func DefaultConfig() *Config {
	return &Config{
		URL:            nats.DefaultURL,
		Subject:        "calendar.changes",
		ConnectTimeout: 5 * time.Second,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  10,
	}
}

// Publisher forwards scheduler change notifications to a NATS subject. It
// implements scheduler.Notifier.
type Publisher struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

var _ scheduler.Notifier = (*Publisher)(nil)

// NewPublisher connects to NATS and returns a publisher.
func NewPublisher(config *Config, logger *slog.Logger) (*Publisher, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	options := []nats.Option{
		nats.Timeout(config.ConnectTimeout),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(config.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", config.URL, err)
	}

	logger.Info("NATS publisher initialized",
		"url", config.URL,
		"subject", config.Subject)

	return &Publisher{
		conn:    conn,
		subject: config.Subject,
		logger:  logger,
	}, nil
}

// EventChanged publishes the change as JSON.
func (p *Publisher) EventChanged(ctx context.Context, change scheduler.Change) error {
	if p.conn == nil || p.conn.IsClosed() {
		return fmt.Errorf("NATS connection is not available")
	}

	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}

	p.logger.Debug("published change",
		"subject", p.subject,
		"type", string(change.Type),
		"calendar", change.CalendarID,
		"event", change.EventID)
	return nil
}

// IsHealthy checks if the NATS connection is usable.
func (p *Publisher) IsHealthy() error {
	if p.conn == nil {
		return fmt.Errorf("NATS connection is nil")
	}
	if p.conn.IsClosed() {
		return fmt.Errorf("NATS connection is closed")
	}
	if !p.conn.IsConnected() {
		return fmt.Errorf("NATS is not connected")
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() error {
	if p.conn != nil && !p.conn.IsClosed() {
		if err := p.conn.FlushTimeout(5 * time.Second); err != nil {
			p.logger.Warn("failed to flush messages on close", "error", err)
		}
		p.conn.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
