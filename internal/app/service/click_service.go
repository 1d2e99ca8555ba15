package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"github.com/sifan077/PowerPulse/internal/app/cache"
	"github.com/sifan077/PowerPulse/internal/app/model"
	"github.com/sifan077/PowerPulse/internal/app/repository"
	"github.com/sifan077/PowerPulse/internal/infra/prometheus"
	"go.uber.org/zap"
)

// Broadcaster fans events out to live connections without blocking.
type Broadcaster interface {
	Broadcast(resourceID, eventType string, data any)
	ConnectionCount() int
	SubscriberCount(resourceID string) int
}

// ClickService is the ingestion entry point and the click history read path.
type ClickService interface {
	CreateClick(ctx context.Context, input CreateClickInput) (*model.ClickEventView, error)
	GetClickHistory(ctx context.Context, urlID, userID string, limit int) ([]model.ClickEventView, error)
}

// CreateClickInput captures one observed click. Every field is optional;
// bounds mirror the column widths of the click and dimension tables.
type CreateClickInput struct {
	URLID       *string
	IPAddress   *string `validate:"omitempty,ip"`
	Referrer    *string `validate:"omitempty,max=500"`
	CountryCode *string `validate:"omitempty,len=2,alpha"`
	CountryName *string `validate:"omitempty,max=100"`
	City        *string `validate:"omitempty,max=100"`
	DeviceType  *string `validate:"omitempty,max=50"`
	BrowserName *string `validate:"omitempty,max=50"`
	OSName      *string `validate:"omitempty,max=50"`
}

var inputValidator = validator.New(validator.WithRequiredStructEnabled())

// validateInput rejects values the store would refuse.
func validateInput(input CreateClickInput) error {
	err := inputValidator.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	fields := lo.Map(fieldErrs, func(fe validator.FieldError, _ int) string {
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	})
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(fields, ", "))
}

// ClickDeps groups the collaborators of the click and stats services.
type ClickDeps struct {
	Clicks      repository.ClickEventRepository
	References  repository.ServiceReferenceRepository
	Aggregates  repository.ClickAggregateRepository
	Locations   repository.LocationRepository
	Devices     repository.DeviceRepository
	Resolver    DimensionResolver
	Verifier    *OwnershipVerifier
	Cache       cache.AnalyticsCache
	Forwarder   BatchForwarder
	Broadcaster Broadcaster
	Logger      *zap.Logger

	// HistoryMaxLimit caps GetClickHistory; zero means 10.
	HistoryMaxLimit int
	// Now defaults to time.Now.
	Now func() time.Time
}

func (d *ClickDeps) withDefaults() {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.HistoryMaxLimit <= 0 {
		d.HistoryMaxLimit = 10
	}
	if d.Now == nil {
		d.Now = time.Now
	}
}

type clickService struct {
	deps ClickDeps
}

// NewClickService returns the ingestion pipeline.
func NewClickService(deps ClickDeps) ClickService {
	deps.withDefaults()
	return &clickService{deps: deps}
}

// CreateClick records a click. Only dimension resolution and the insert of
// the click row can fail the call; later steps log and continue.
func (s *clickService) CreateClick(ctx context.Context, input CreateClickInput) (*model.ClickEventView, error) {
	started := s.deps.Now()
	defer func() { prometheus.IngestLatency.Observe(time.Since(started).Seconds()) }()

	var (
		urlID    string
		targetID int64
	)
	if input.URLID != nil && strings.TrimSpace(*input.URLID) != "" {
		var err error
		urlID = strings.TrimSpace(*input.URLID)
		if targetID, err = parseResourceID(urlID); err != nil {
			return nil, err
		}
	}
	if err := validateInput(input); err != nil {
		prometheus.ClicksIngested.WithLabelValues("rejected").Inc()
		return nil, err
	}

	locationID, err := s.deps.Resolver.ResolveLocation(ctx, LocationInput{
		CountryCode: input.CountryCode,
		CountryName: input.CountryName,
		City:        input.City,
	})
	if err != nil {
		prometheus.ClicksIngested.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("create click: %w: %w", ErrUpstreamUnavailable, err)
	}
	deviceID, err := s.deps.Resolver.ResolveDevice(ctx, DeviceInput{
		DeviceType:  input.DeviceType,
		BrowserName: input.BrowserName,
		OSName:      input.OSName,
	})
	if err != nil {
		prometheus.ClicksIngested.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("create click: %w: %w", ErrUpstreamUnavailable, err)
	}

	event := &model.ClickEvent{
		IPAddress:  input.IPAddress,
		Referrer:   input.Referrer,
		LocationID: locationID,
		DeviceID:   deviceID,
	}
	if err := s.deps.Clicks.Create(ctx, event); err != nil {
		prometheus.ClicksIngested.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("create click: %w: %w", ErrUpstreamUnavailable, err)
	}
	prometheus.ClicksIngested.WithLabelValues("created").Inc()

	view := model.NewClickEventView(event)
	if urlID == "" {
		return &view, nil
	}

	clickedAt := event.ClickedAt
	if clickedAt.IsZero() {
		clickedAt = s.deps.Now()
	}
	logger := s.deps.Logger.With(zap.Int64("click_id", event.ID), zap.String("url_id", urlID))

	ref := &model.ServiceReference{
		LocalID:     event.ID,
		LocalTable:  model.TableClickEvents,
		TargetID:    targetID,
		TargetTable: model.TableURLs,
	}
	if err := s.deps.References.Create(ctx, ref); err != nil {
		prometheus.IngestStepFailures.WithLabelValues("reference").Inc()
		logger.Warn("failed to create service reference", zap.Error(err))
	}

	s.updateCounters(ctx, logger, urlID, clickedAt)
	s.broadcastClick(urlID, view, locationID, input)

	logger.Debug("click ingested")
	return &view, nil
}

func (s *clickService) updateCounters(ctx context.Context, logger *zap.Logger, urlID string, clickedAt time.Time) {
	date := clickedAt.UTC().Format(model.DateLayout)

	total, err := s.deps.Cache.IncrementDayClicks(ctx, urlID, date)
	if err != nil {
		prometheus.IngestStepFailures.WithLabelValues("counter").Inc()
		logger.Warn("failed to increment day counter", zap.String("date", date), zap.Error(err))
	} else {
		s.deps.Forwarder.Forward(model.BatchClickData{
			ResourceID:       urlID,
			Date:             date,
			TotalClicksToday: total,
			LastClickTime:    clickedAt,
		})
	}

	if err := s.deps.Cache.InvalidateStats(ctx, urlID); err != nil {
		prometheus.IngestStepFailures.WithLabelValues("invalidate").Inc()
		logger.Warn("failed to invalidate stats cache", zap.Error(err))
	}
}

func (s *clickService) broadcastClick(urlID string, view model.ClickEventView, locationID *int64, input CreateClickInput) {
	s.deps.Broadcaster.Broadcast(urlID, model.EventNewClick, view)

	if locationID == nil {
		return
	}
	location := model.LocationView{
		ID:          *locationID,
		CountryCode: strings.ToUpper(strings.TrimSpace(*input.CountryCode)),
		City:        input.City,
	}
	location.CountryName = location.CountryCode
	if input.CountryName != nil && strings.TrimSpace(*input.CountryName) != "" {
		location.CountryName = *input.CountryName
	}
	s.deps.Broadcaster.Broadcast(urlID, model.EventLocationUpdate, location)
}

func (s *clickService) GetClickHistory(ctx context.Context, urlID, userID string, limit int) ([]model.ClickEventView, error) {
	urlID = strings.TrimSpace(urlID)
	targetID, err := parseResourceID(urlID)
	if err != nil {
		return nil, err
	}
	if !s.deps.Verifier.VerifyAccess(ctx, userID, urlID) {
		return nil, ErrAccessDenied
	}

	if limit <= 0 || limit > s.deps.HistoryMaxLimit {
		limit = s.deps.HistoryMaxLimit
	}
	return recentClicks(ctx, s.deps, targetID, limit)
}

// recentClicks walks the reference table for the newest clicks of a URL and
// loads them with their dimensions. No ownership check is made here.
func recentClicks(ctx context.Context, deps ClickDeps, targetID int64, limit int) ([]model.ClickEventView, error) {
	ids, err := deps.References.FindLocalIDs(ctx, repository.ReferenceQuery{
		TargetID:    targetID,
		TargetTable: model.TableURLs,
		LocalTable:  model.TableClickEvents,
		Limit:       limit,
		NewestFirst: true,
	})
	if err != nil {
		return nil, fmt.Errorf("click history: %w: %w", ErrUpstreamUnavailable, err)
	}
	if len(ids) == 0 {
		return []model.ClickEventView{}, nil
	}

	events, err := deps.Clicks.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("click history: %w: %w", ErrUpstreamUnavailable, err)
	}
	return lo.Map(events, func(e model.ClickEvent, _ int) model.ClickEventView {
		return model.NewClickEventView(&e)
	}), nil
}

// parseResourceID validates a URL id owned by the URL service.
func parseResourceID(urlID string) (int64, error) {
	urlID = strings.TrimSpace(urlID)
	if urlID == "" {
		return 0, fmt.Errorf("%w: urlId is required", ErrValidation)
	}
	id, err := strconv.ParseInt(urlID, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: urlId must be a positive integer", ErrValidation)
	}
	return id, nil
}
