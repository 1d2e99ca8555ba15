package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/sifan077/PowerPulse/internal/app/cache"
	"github.com/sifan077/PowerPulse/internal/app/model"
	"github.com/sifan077/PowerPulse/internal/infra/prometheus"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// OwnershipClient asks the URL-owning service whether a user owns a resource.
type OwnershipClient interface {
	IsOwner(ctx context.Context, userID, resourceID string) (bool, error)
}

// BreakerSettings tunes the circuit breaker around the ownership call.
type BreakerSettings struct {
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// NATSOwnershipClient issues request/reply calls over core NATS. An open
// breaker short-circuits to an error without touching the bus.
type NATSOwnershipClient struct {
	conn    *nats.Conn
	subject string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[bool]
}

// NewNATSOwnershipClient builds an ownership client bound to subject.
func NewNATSOwnershipClient(conn *nats.Conn, subject string, timeout time.Duration, bs BreakerSettings, logger *zap.Logger) *NATSOwnershipClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bs.FailureThreshold == 0 {
		bs.FailureThreshold = 5
	}
	if bs.OpenTimeout == 0 {
		bs.OpenTimeout = 10 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[bool](gobreaker.Settings{
		Name:        "url-ownership",
		MaxRequests: 1,
		Timeout:     bs.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bs.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("ownership breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &NATSOwnershipClient{conn: conn, subject: subject, timeout: timeout, breaker: breaker}
}

func (c *NATSOwnershipClient) IsOwner(ctx context.Context, userID, resourceID string) (bool, error) {
	payload, err := json.Marshal(model.OwnershipRequest{UserID: userID, ResourceID: resourceID})
	if err != nil {
		return false, fmt.Errorf("ownership: marshal request: %w", err)
	}

	return c.breaker.Execute(func() (bool, error) {
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		msg, err := c.conn.RequestWithContext(reqCtx, c.subject, payload)
		if err != nil {
			return false, fmt.Errorf("ownership: request: %w", err)
		}

		var resp model.OwnershipResponse
		if err := json.Unmarshal(msg.Data, &resp); err != nil {
			return false, fmt.Errorf("ownership: decode response: %w", err)
		}
		if resp.Error != "" {
			return false, fmt.Errorf("ownership: upstream: %s", resp.Error)
		}
		return resp.IsOwner, nil
	})
}

// OwnershipVerifier gates every read of click data.
type OwnershipVerifier struct {
	client OwnershipClient
	cache  cache.AnalyticsCache
	logger *zap.Logger
}

func NewOwnershipVerifier(client OwnershipClient, c cache.AnalyticsCache, logger *zap.Logger) *OwnershipVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OwnershipVerifier{client: client, cache: c, logger: logger}
}

// VerifyAccess reports whether userID owns resourceID. Any failure to reach
// a verdict denies. Only positive answers are cached.
func (v *OwnershipVerifier) VerifyAccess(ctx context.Context, userID, resourceID string) bool {
	if userID == "" || resourceID == "" {
		prometheus.OwnershipChecks.WithLabelValues("denied").Inc()
		return false
	}

	owner, ok, err := v.cache.GetOwner(ctx, resourceID)
	if err != nil {
		v.logger.Warn("owner cache read failed", zap.String("url_id", resourceID), zap.Error(err))
	}
	if ok {
		prometheus.OwnershipChecks.WithLabelValues("cached").Inc()
		return owner == userID
	}

	isOwner, err := v.client.IsOwner(ctx, userID, resourceID)
	if err != nil {
		prometheus.OwnershipChecks.WithLabelValues("unavailable").Inc()
		level := zap.WarnLevel
		if errors.Is(err, gobreaker.ErrOpenState) {
			level = zap.DebugLevel
		}
		v.logger.Log(level, "ownership check failed closed",
			zap.String("url_id", resourceID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return false
	}
	if !isOwner {
		prometheus.OwnershipChecks.WithLabelValues("denied").Inc()
		return false
	}

	prometheus.OwnershipChecks.WithLabelValues("granted").Inc()
	if err := v.cache.SetOwner(ctx, resourceID, userID); err != nil {
		v.logger.Warn("owner cache write failed", zap.String("url_id", resourceID), zap.Error(err))
	}
	return true
}
