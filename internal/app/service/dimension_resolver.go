package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sifan077/PowerPulse/internal/app/cache"
	"github.com/sifan077/PowerPulse/internal/app/model"
	"github.com/sifan077/PowerPulse/internal/app/repository"
	"github.com/sifan077/PowerPulse/internal/infra/prometheus"
	"go.uber.org/zap"
)

// LocationInput carries the optional geo fields of a click.
type LocationInput struct {
	CountryCode *string
	CountryName *string
	City        *string
}

// DeviceInput carries the optional device fields of a click.
type DeviceInput struct {
	DeviceType  *string
	BrowserName *string
	OSName      *string
}

// DimensionResolver maps descriptive click fields onto dimension row ids,
// creating rows on first sight. A nil id means the click carried no data for
// that dimension.
type DimensionResolver interface {
	ResolveLocation(ctx context.Context, in LocationInput) (*int64, error)
	ResolveDevice(ctx context.Context, in DeviceInput) (*int64, error)
}

type dimensionResolver struct {
	locations repository.LocationRepository
	devices   repository.DeviceRepository
	cache     cache.AnalyticsCache
	logger    *zap.Logger
}

// NewDimensionResolver wires a cache-aside resolver over the dimension tables.
func NewDimensionResolver(locations repository.LocationRepository, devices repository.DeviceRepository, c cache.AnalyticsCache, logger *zap.Logger) DimensionResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &dimensionResolver{locations: locations, devices: devices, cache: c, logger: logger}
}

func (r *dimensionResolver) ResolveLocation(ctx context.Context, in LocationInput) (*int64, error) {
	if in.CountryCode == nil || strings.TrimSpace(*in.CountryCode) == "" {
		return nil, nil
	}
	code := strings.ToUpper(strings.TrimSpace(*in.CountryCode))
	name := code
	if in.CountryName != nil && strings.TrimSpace(*in.CountryName) != "" {
		name = *in.CountryName
	}
	key := model.LocationKey(code, in.City)

	id, err := getOrCreate(ctx, r.logger, dimension[model.Location]{
		name:     "location",
		key:      key,
		cacheGet: r.cache.GetLocation,
		cacheSet: r.cache.SetLocation,
		find:     r.locations.FindByKey,
		findPrim: r.locations.FindByKeyPrimary,
		create: func(ctx context.Context) (*model.Location, error) {
			row := &model.Location{CountryCode: code, CountryName: name, City: in.City, LookupKey: key}
			return row, r.locations.Create(ctx, row)
		},
		id: func(l *model.Location) int64 { return l.ID },
	})
	if err != nil {
		return nil, fmt.Errorf("resolve location: %w", err)
	}
	return &id, nil
}

func (r *dimensionResolver) ResolveDevice(ctx context.Context, in DeviceInput) (*int64, error) {
	if in.DeviceType == nil || strings.TrimSpace(*in.DeviceType) == "" {
		return nil, nil
	}
	deviceType := model.ParseDeviceType(*in.DeviceType)
	key := model.DeviceKey(deviceType, in.BrowserName, in.OSName)

	id, err := getOrCreate(ctx, r.logger, dimension[model.Device]{
		name:     "device",
		key:      key,
		cacheGet: r.cache.GetDevice,
		cacheSet: r.cache.SetDevice,
		find:     r.devices.FindByKey,
		findPrim: r.devices.FindByKeyPrimary,
		create: func(ctx context.Context) (*model.Device, error) {
			row := &model.Device{DeviceType: deviceType, BrowserName: in.BrowserName, OSName: in.OSName, LookupKey: key}
			return row, r.devices.Create(ctx, row)
		},
		id: func(d *model.Device) int64 { return d.ID },
	})
	if err != nil {
		return nil, fmt.Errorf("resolve device: %w", err)
	}
	return &id, nil
}

type dimension[T any] struct {
	name     string
	key      string
	cacheGet func(ctx context.Context, key string) (int64, bool, error)
	cacheSet func(ctx context.Context, key string, id int64) error
	find     func(ctx context.Context, key string) (*T, error)
	findPrim func(ctx context.Context, key string) (*T, error)
	create   func(ctx context.Context) (*T, error)
	id       func(*T) int64
}

// getOrCreate runs cache, then replica, then insert. Cache errors only cost a
// lookup; a lost insert race is settled by reading the winner from the primary.
func getOrCreate[T any](ctx context.Context, logger *zap.Logger, d dimension[T]) (int64, error) {
	id, ok, err := d.cacheGet(ctx, d.key)
	if err != nil {
		logger.Warn("dimension cache read failed", zap.String("dimension", d.name), zap.Error(err))
	}
	if ok {
		prometheus.DimensionLookups.WithLabelValues(d.name, "cache_hit").Inc()
		return id, nil
	}

	row, err := d.find(ctx, d.key)
	switch {
	case err == nil:
		prometheus.DimensionLookups.WithLabelValues(d.name, "store_hit").Inc()
		id = d.id(row)
		setCached(ctx, logger, d, id)
		return id, nil
	case !errors.Is(err, repository.ErrNotFound):
		return 0, err
	}

	row, err = d.create(ctx)
	switch {
	case err == nil:
		prometheus.DimensionLookups.WithLabelValues(d.name, "created").Inc()
	case errors.Is(err, repository.ErrDuplicateKey):
		prometheus.DimensionLookups.WithLabelValues(d.name, "race").Inc()
		logger.Debug("dimension insert lost race", zap.String("dimension", d.name), zap.String("key", d.key))
		if row, err = d.findPrim(ctx, d.key); err != nil {
			return 0, err
		}
	default:
		return 0, err
	}

	id = d.id(row)
	setCached(ctx, logger, d, id)
	return id, nil
}

func setCached[T any](ctx context.Context, logger *zap.Logger, d dimension[T], id int64) {
	if err := d.cacheSet(ctx, d.key, id); err != nil {
		logger.Warn("dimension cache write failed", zap.String("dimension", d.name), zap.Error(err))
	}
}
