package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sifan077/PowerPulse/internal/app/model"
	"github.com/sifan077/PowerPulse/internal/app/repository"
)

// DimensionService exposes read-only browsing of the dimension tables.
type DimensionService interface {
	ListLocations(ctx context.Context, limit, offset int) ([]model.LocationView, error)
	GetLocation(ctx context.Context, id int64) (*model.LocationView, error)
	LocationsByCountry(ctx context.Context, countryCode string) ([]model.LocationView, error)
	ListDevices(ctx context.Context, limit, offset int) ([]model.DeviceView, error)
	GetDevice(ctx context.Context, id int64) (*model.DeviceView, error)
	DevicesByType(ctx context.Context, deviceType string) ([]model.DeviceView, error)
}

type dimensionService struct {
	locations repository.LocationRepository
	devices   repository.DeviceRepository
}

func NewDimensionService(locations repository.LocationRepository, devices repository.DeviceRepository) DimensionService {
	return &dimensionService{locations: locations, devices: devices}
}

func (s *dimensionService) ListLocations(ctx context.Context, limit, offset int) ([]model.LocationView, error) {
	rows, err := s.locations.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	return locationViews(rows), nil
}

func (s *dimensionService) GetLocation(ctx context.Context, id int64) (*model.LocationView, error) {
	row, err := s.locations.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get location: %w", err)
	}
	return model.NewLocationView(row), nil
}

func (s *dimensionService) LocationsByCountry(ctx context.Context, countryCode string) ([]model.LocationView, error) {
	code := strings.ToUpper(strings.TrimSpace(countryCode))
	if len(code) != 2 {
		return nil, fmt.Errorf("%w: country code must have two letters", ErrValidation)
	}
	rows, err := s.locations.ListByCountry(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("list locations by country: %w", err)
	}
	return locationViews(rows), nil
}

func (s *dimensionService) ListDevices(ctx context.Context, limit, offset int) ([]model.DeviceView, error) {
	rows, err := s.devices.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return deviceViews(rows), nil
}

func (s *dimensionService) GetDevice(ctx context.Context, id int64) (*model.DeviceView, error) {
	row, err := s.devices.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return model.NewDeviceView(row), nil
}

func (s *dimensionService) DevicesByType(ctx context.Context, deviceType string) ([]model.DeviceView, error) {
	t := model.ParseDeviceType(deviceType)
	if t == model.DeviceUnknown && !strings.EqualFold(strings.TrimSpace(deviceType), string(model.DeviceUnknown)) {
		return nil, fmt.Errorf("%w: unknown device type %q", ErrValidation, deviceType)
	}
	rows, err := s.devices.ListByType(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("list devices by type: %w", err)
	}
	return deviceViews(rows), nil
}

func locationViews(rows []model.Location) []model.LocationView {
	out := make([]model.LocationView, 0, len(rows))
	for i := range rows {
		out = append(out, *model.NewLocationView(&rows[i]))
	}
	return out
}

func deviceViews(rows []model.Device) []model.DeviceView {
	out := make([]model.DeviceView, 0, len(rows))
	for i := range rows {
		out = append(out, *model.NewDeviceView(&rows[i]))
	}
	return out
}
