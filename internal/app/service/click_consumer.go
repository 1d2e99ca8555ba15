package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/sifan077/PowerPulse/internal/app/cache"
	"github.com/sifan077/PowerPulse/internal/app/model"
	natsclient "github.com/sifan077/PowerPulse/internal/infra/nats"
	"github.com/sifan077/PowerPulse/internal/infra/prometheus"
	"go.uber.org/zap"
)

const (
	consumerFetchBatch = 10
	consumerFetchWait  = 5 * time.Second

	// consumerProcessTimeout bounds one message; it outlives Stop so a
	// stored click always gets its reference, counter and marker.
	consumerProcessTimeout = 10 * time.Second
)

type deliveryAction int

const (
	actionAck deliveryAction = iota
	actionNak
	actionTerm
)

// ClickConsumer feeds click messages published by the redirect service into
// the ingestion pipeline. Delivery is at-least-once; an event id marker
// recorded after a successful ingest makes redelivery a no-op.
type ClickConsumer struct {
	js      nats.JetStreamContext
	subject string
	logger  *zap.Logger
	clicks  ClickService
	cache   cache.AnalyticsCache

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClickConsumer creates a new click stream consumer.
func NewClickConsumer(js nats.JetStreamContext, subject string, logger *zap.Logger, clicks ClickService, c cache.AnalyticsCache) *ClickConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClickConsumer{js: js, subject: subject, logger: logger, clicks: clicks, cache: c}
}

// Start ensures the stream and durable consumer exist and begins fetching.
func (c *ClickConsumer) Start(ctx context.Context) error {
	err := natsclient.EnsureStream(c.js, natsclient.StreamSpec{
		Name:     model.ClickStreamName,
		Subjects: []string{c.subject},
		MaxBytes: model.ClickStreamMaxBytes,
	})
	if err != nil {
		return err
	}

	if _, err := c.js.ConsumerInfo(model.ClickStreamName, model.ClickConsumerName); err != nil {
		_, err = c.js.AddConsumer(model.ClickStreamName, &nats.ConsumerConfig{
			Durable:       model.ClickConsumerName,
			AckPolicy:     nats.AckExplicitPolicy,
			FilterSubject: c.subject,
			MaxDeliver:    10,
			AckWait:       30 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("failed to create consumer: %w", err)
		}
	}

	sub, err := c.js.PullSubscribe(c.subject, model.ClickConsumerName, nats.BindStream(model.ClickStreamName))
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consume(ctx, sub)
	}()
	return nil
}

// Stop halts fetching and waits for the in-flight batch to settle.
func (c *ClickConsumer) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.wg.Wait()
	c.logger.Info("click consumer stopped")
}

func (c *ClickConsumer) consume(ctx context.Context, sub *nats.Subscription) {
	defer func() { _ = sub.Unsubscribe() }()

	for ctx.Err() == nil {
		fetchCtx, cancel := context.WithTimeout(ctx, consumerFetchWait)
		msgs, err := sub.Fetch(consumerFetchBatch, nats.Context(fetchCtx))
		cancel()
		switch {
		case err == nil:
		case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			continue
		case errors.Is(err, nats.ErrConnectionClosed), errors.Is(err, nats.ErrBadSubscription):
			return
		default:
			c.logger.Error("failed to fetch messages", zap.Error(err))
			continue
		}

		for _, msg := range msgs {
			var ackErr error
			switch c.process(ctx, msg.Data) {
			case actionAck:
				ackErr = msg.Ack()
			case actionNak:
				ackErr = msg.Nak()
			case actionTerm:
				ackErr = msg.Term()
			}
			if ackErr != nil {
				c.logger.Warn("failed to settle click message", zap.Error(ackErr))
			}
		}
	}
}

func (c *ClickConsumer) process(ctx context.Context, data []byte) deliveryAction {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), consumerProcessTimeout)
	defer cancel()

	var msg model.ClickMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Error("failed to unmarshal click message", zap.Error(err))
		return actionTerm
	}

	if msg.EventID != "" {
		seen, err := c.cache.Seen(ctx, msg.EventID)
		if err != nil {
			c.logger.Warn("click marker read failed", zap.String("event_id", msg.EventID), zap.Error(err))
		}
		if seen {
			prometheus.ClicksIngested.WithLabelValues("duplicate").Inc()
			c.logger.Debug("click already ingested", zap.String("event_id", msg.EventID))
			return actionAck
		}
	}

	view, err := c.clicks.CreateClick(ctx, CreateClickInput{
		URLID:       msg.URLID,
		IPAddress:   msg.IPAddress,
		Referrer:    msg.Referrer,
		CountryCode: msg.CountryCode,
		CountryName: msg.CountryName,
		City:        msg.City,
		DeviceType:  msg.DeviceType,
		BrowserName: msg.BrowserName,
		OSName:      msg.OSName,
	})
	if errors.Is(err, ErrValidation) {
		c.logger.Warn("dropping invalid click message", zap.String("event_id", msg.EventID), zap.Error(err))
		return actionTerm
	}
	if err != nil {
		c.logger.Error("failed to ingest click message", zap.String("event_id", msg.EventID), zap.Error(err))
		return actionNak
	}

	if msg.EventID != "" {
		if err := c.cache.MarkSeen(ctx, msg.EventID); err != nil {
			c.logger.Warn("click marker write failed", zap.String("event_id", msg.EventID), zap.Error(err))
		}
	}

	c.logger.Debug("click message stored",
		zap.String("event_id", msg.EventID),
		zap.Int64("click_id", view.ID),
	)
	return actionAck
}
