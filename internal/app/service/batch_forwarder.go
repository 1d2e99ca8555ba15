package service

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/sifan077/PowerPulse/internal/app/model"
	"github.com/sifan077/PowerPulse/internal/infra/prometheus"
	"go.uber.org/zap"
)

// BatchForwarder hands per-day click totals to the batch service. Forward
// never blocks on delivery.
type BatchForwarder interface {
	Forward(data model.BatchClickData)
}

// JetStreamBatchForwarder publishes batch updates to JetStream asynchronously.
type JetStreamBatchForwarder struct {
	js         nats.JetStreamContext
	subject    string
	logger     *zap.Logger
	ackTimeout time.Duration
}

// NewJetStreamBatchForwarder creates a forwarder publishing on subject.
func NewJetStreamBatchForwarder(js nats.JetStreamContext, subject string, logger *zap.Logger) *JetStreamBatchForwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JetStreamBatchForwarder{js: js, subject: subject, logger: logger, ackTimeout: 5 * time.Second}
}

// Forward publishes data keyed by resource, day and count so a retried
// forward of the same counter value is deduplicated by the stream.
func (f *JetStreamBatchForwarder) Forward(data model.BatchClickData) {
	payload, err := json.Marshal(data)
	if err != nil {
		prometheus.BatchForwards.WithLabelValues("failed").Inc()
		f.logger.Warn("failed to marshal batch update", zap.Error(err))
		return
	}

	msgID := fmt.Sprintf("%s:%s:%d", data.ResourceID, data.Date, data.TotalClicksToday)
	future, err := f.js.PublishAsync(f.subject, payload, nats.MsgId(msgID))
	if err != nil {
		prometheus.BatchForwards.WithLabelValues("failed").Inc()
		f.logger.Warn("failed to forward batch update",
			zap.String("url_id", data.ResourceID),
			zap.String("date", data.Date),
			zap.Error(err),
		)
		return
	}

	go f.awaitAck(future, data)
}

func (f *JetStreamBatchForwarder) awaitAck(future nats.PubAckFuture, data model.BatchClickData) {
	select {
	case <-future.Ok():
		prometheus.BatchForwards.WithLabelValues("acked").Inc()
	case err := <-future.Err():
		prometheus.BatchForwards.WithLabelValues("failed").Inc()
		f.logger.Warn("batch update rejected",
			zap.String("url_id", data.ResourceID),
			zap.Int64("total_clicks_today", data.TotalClicksToday),
			zap.Error(err),
		)
	case <-time.After(f.ackTimeout):
		prometheus.BatchForwards.WithLabelValues("unacked").Inc()
	}
}
