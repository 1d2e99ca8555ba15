package natsclient

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/PowerPulse/config"
)

const defaultConnectTimeout = 5 * time.Second

// Connect creates a NATS connection (with JetStream available) using application config.
func Connect(cfg config.NATSConfig) (*nats.Conn, nats.JetStreamContext, error) {
	opts := []nats.Option{
		nats.Timeout(defaultConnectTimeout),
		nats.Name("powerpulse"),
	}

	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	url := BuildURL(cfg)

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("nats: connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("nats: init jetstream: %w", err)
	}

	return conn, js, nil
}

// StreamSpec describes a file-backed work stream.
type StreamSpec struct {
	Name     string
	Subjects []string
	MaxBytes int64
	MaxAge   time.Duration
}

// EnsureStream creates the stream when it does not exist yet.
func EnsureStream(js nats.JetStreamContext, spec StreamSpec) error {
	if _, err := js.StreamInfo(spec.Name); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("nats: stream info %s: %w", spec.Name, err)
	}

	_, err := js.AddStream(&nats.StreamConfig{
		Name:      spec.Name,
		Subjects:  spec.Subjects,
		Storage:   nats.FileStorage,
		Retention: nats.WorkQueuePolicy,
		MaxBytes:  spec.MaxBytes,
		MaxAge:    spec.MaxAge,
	})
	if err != nil {
		return fmt.Errorf("nats: add stream %s: %w", spec.Name, err)
	}
	return nil
}

// BuildURL returns the client URL for cfg, filling local defaults.
func BuildURL(cfg config.NATSConfig) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 4222
	}
	return fmt.Sprintf("nats://%s:%d", host, port)
}
