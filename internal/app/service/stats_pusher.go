package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sifan077/PowerPulse/internal/app/model"
	"go.uber.org/zap"
)

// RoomLister reports resources that currently have live subscribers.
type RoomLister interface {
	ActiveResources() []string
}

// StatsPusher periodically broadcasts fresh stats to every watched URL.
type StatsPusher struct {
	logger      *zap.Logger
	stats       StatsService
	rooms       RoomLister
	broadcaster Broadcaster
	interval    time.Duration
	stopChan    chan struct{}
	stopOnce    sync.Once
	started     atomic.Bool
	done        chan struct{}
}

// NewStatsPusher creates a pusher; a non-positive interval means 15s.
func NewStatsPusher(logger *zap.Logger, stats StatsService, rooms RoomLister, broadcaster Broadcaster, interval time.Duration) *StatsPusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &StatsPusher{
		logger:      logger,
		stats:       stats,
		rooms:       rooms,
		broadcaster: broadcaster,
		interval:    interval,
		stopChan:    make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start begins the periodic push.
func (p *StatsPusher) Start() {
	if p.started.CompareAndSwap(false, true) {
		go p.run()
	}
}

// Stop stops the periodic push and waits for the current round.
func (p *StatsPusher) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
	if p.started.Load() {
		<-p.done
	}
}

func (p *StatsPusher) run() {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.pushAll()
		case <-p.stopChan:
			p.logger.Info("stats pusher stopped")
			return
		}
	}
}

func (p *StatsPusher) pushAll() {
	ctx, cancel := context.WithTimeout(context.Background(), p.interval)
	defer cancel()

	for _, urlID := range p.rooms.ActiveResources() {
		stats, err := p.stats.Snapshot(ctx, urlID)
		if err != nil {
			p.logger.Warn("failed to compute stats for push", zap.String("url_id", urlID), zap.Error(err))
			continue
		}
		p.broadcaster.Broadcast(urlID, model.EventStatsUpdate, stats)
	}
}
