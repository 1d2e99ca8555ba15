package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sifan077/PowerPulse/internal/app/model"
	"github.com/sifan077/PowerPulse/internal/app/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const overviewRecentClicks = 5

// StatsService serves aggregate views of a URL's clicks.
type StatsService interface {
	GetStats(ctx context.Context, urlID, userID string) (*model.StatsView, error)
	GetOverview(ctx context.Context, urlID, userID string) (*model.Overview, error)
	GetSystemStats(ctx context.Context) (*model.SystemStats, error)
	// Snapshot returns stats without an ownership check; internal pushes only.
	Snapshot(ctx context.Context, urlID string) (*model.StatsView, error)
}

// StatsWindow bounds the top-N breakdowns.
type StatsWindow struct {
	TopN int
	Days int
}

type statsService struct {
	deps   ClickDeps
	window StatsWindow
}

func NewStatsService(deps ClickDeps, window StatsWindow) StatsService {
	deps.withDefaults()
	if window.TopN <= 0 {
		window.TopN = 5
	}
	if window.Days <= 0 {
		window.Days = 30
	}
	return &statsService{deps: deps, window: window}
}

func (s *statsService) GetStats(ctx context.Context, urlID, userID string) (*model.StatsView, error) {
	urlID = strings.TrimSpace(urlID)
	if _, err := parseResourceID(urlID); err != nil {
		return nil, err
	}
	if !s.deps.Verifier.VerifyAccess(ctx, userID, urlID) {
		return nil, ErrAccessDenied
	}
	return s.Snapshot(ctx, urlID)
}

func (s *statsService) Snapshot(ctx context.Context, urlID string) (*model.StatsView, error) {
	targetID, err := parseResourceID(urlID)
	if err != nil {
		return nil, err
	}
	logger := s.deps.Logger.With(zap.String("url_id", urlID))

	cached, ok, err := s.deps.Cache.GetStats(ctx, urlID)
	if err != nil {
		logger.Warn("stats cache read failed", zap.Error(err))
	}
	if ok {
		return cached, nil
	}

	stats, err := s.compute(ctx, logger, urlID, targetID)
	if err != nil {
		return nil, fmt.Errorf("stats: %w: %w", ErrUpstreamUnavailable, err)
	}

	if err := s.deps.Cache.SetStats(ctx, urlID, stats); err != nil {
		logger.Warn("stats cache write failed", zap.Error(err))
	}
	return stats, nil
}

func (s *statsService) compute(ctx context.Context, logger *zap.Logger, urlID string, targetID int64) (*model.StatsView, error) {
	now := s.deps.Now()

	total, err := s.deps.References.Count(ctx, targetID, model.TableURLs, model.TableClickEvents)
	if err != nil {
		return nil, err
	}

	today, err := s.deps.Cache.GetDayClicks(ctx, urlID, now.UTC().Format(model.DateLayout))
	if err != nil {
		logger.Warn("day counter read failed", zap.Error(err))
		today = 0
	}

	lastClick, err := s.lastClickTime(ctx, targetID)
	if err != nil {
		return nil, err
	}

	window := repository.AggregateWindow{
		Since: now.AddDate(0, 0, -s.window.Days),
		Limit: s.window.TopN,
	}
	countries, err := s.deps.Aggregates.TopCountries(ctx, targetID, window)
	if err != nil {
		return nil, err
	}
	devices, err := s.deps.Aggregates.TopDevices(ctx, targetID, window)
	if err != nil {
		return nil, err
	}
	if countries == nil {
		countries = []model.CountryCount{}
	}
	if devices == nil {
		devices = []model.DeviceCount{}
	}

	return &model.StatsView{
		TotalClicks:   total,
		TodayClicks:   today,
		LastClickTime: lastClick,
		TopCountries:  countries,
		TopDevices:    devices,
	}, nil
}

// lastClickTime resolves the newest reference, then that click's timestamp.
// A click not yet visible on the replica yields nil.
func (s *statsService) lastClickTime(ctx context.Context, targetID int64) (*time.Time, error) {
	ids, err := s.deps.References.FindLocalIDs(ctx, repository.ReferenceQuery{
		TargetID:    targetID,
		TargetTable: model.TableURLs,
		LocalTable:  model.TableClickEvents,
		Limit:       1,
		NewestFirst: true,
	})
	if err != nil || len(ids) == 0 {
		return nil, err
	}

	event, err := s.deps.Clicks.GetByID(ctx, ids[0])
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	clickedAt := event.ClickedAt
	return &clickedAt, nil
}

// GetOverview checks ownership once, then reads stats and recent clicks in
// parallel.
func (s *statsService) GetOverview(ctx context.Context, urlID, userID string) (*model.Overview, error) {
	urlID = strings.TrimSpace(urlID)
	targetID, err := parseResourceID(urlID)
	if err != nil {
		return nil, err
	}
	if !s.deps.Verifier.VerifyAccess(ctx, userID, urlID) {
		return nil, ErrAccessDenied
	}

	var (
		stats  *model.StatsView
		recent []model.ClickEventView
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats, err = s.Snapshot(gctx, urlID)
		return err
	})
	g.Go(func() error {
		var err error
		recent, err = recentClicks(gctx, s.deps, targetID, overviewRecentClicks)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &model.Overview{
		Stats:            stats,
		RecentClicks:     recent,
		ConnectedClients: s.deps.Broadcaster.SubscriberCount(urlID),
		LastUpdated:      s.deps.Now().UTC(),
	}, nil
}

func (s *statsService) GetSystemStats(ctx context.Context) (*model.SystemStats, error) {
	var locations, devices int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		locations, err = s.deps.Locations.Count(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		devices, err = s.deps.Devices.Count(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("system stats: %w: %w", ErrUpstreamUnavailable, err)
	}

	return &model.SystemStats{
		TotalLocations:   locations,
		TotalDevices:     devices,
		ConnectedClients: s.deps.Broadcaster.ConnectionCount(),
		Timestamp:        s.deps.Now().UTC(),
	}, nil
}
