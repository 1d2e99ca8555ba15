package repository

import (
	"context"

	"github.com/sifan077/PowerPulse/internal/app/model"
	"gorm.io/gorm"
)

// LocationRepository defines the data access contract for the geo dimension.
type LocationRepository interface {
	// FindByKey reads from the replica.
	FindByKey(ctx context.Context, key string) (*model.Location, error)
	// FindByKeyPrimary reads from the primary; used after a lost insert race
	// when the replica may not have the winning row yet.
	FindByKeyPrimary(ctx context.Context, key string) (*model.Location, error)
	Create(ctx context.Context, location *model.Location) error
	GetByID(ctx context.Context, id int64) (*model.Location, error)
	List(ctx context.Context, limit, offset int) ([]model.Location, error)
	ListByCountry(ctx context.Context, countryCode string) ([]model.Location, error)
	Count(ctx context.Context) (int64, error)
}

type locationRepository struct {
	primary *gorm.DB
	replica *gorm.DB
}

// NewLocationRepository returns a GORM-backed LocationRepository.
func NewLocationRepository(primary, replica *gorm.DB) LocationRepository {
	return &locationRepository{primary: primary, replica: replica}
}

func (r *locationRepository) FindByKey(ctx context.Context, key string) (*model.Location, error) {
	return findLocation(ctx, r.replica, key)
}

func (r *locationRepository) FindByKeyPrimary(ctx context.Context, key string) (*model.Location, error) {
	return findLocation(ctx, r.primary, key)
}

func findLocation(ctx context.Context, db *gorm.DB, key string) (*model.Location, error) {
	var location model.Location
	if err := db.WithContext(ctx).Where("lookup_key = ?", key).First(&location).Error; err != nil {
		return nil, translate(err)
	}
	return &location, nil
}

func (r *locationRepository) Create(ctx context.Context, location *model.Location) error {
	return translate(r.primary.WithContext(ctx).Create(location).Error)
}

func (r *locationRepository) GetByID(ctx context.Context, id int64) (*model.Location, error) {
	var location model.Location
	if err := r.replica.WithContext(ctx).Where("id = ?", id).First(&location).Error; err != nil {
		return nil, translate(err)
	}
	return &location, nil
}

func (r *locationRepository) List(ctx context.Context, limit, offset int) ([]model.Location, error) {
	limit, offset = normalizePage(limit, offset)

	var result []model.Location
	if err := r.replica.WithContext(ctx).
		Order("country_name ASC").
		Order("city ASC NULLS FIRST").
		Limit(limit).
		Offset(offset).
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *locationRepository) ListByCountry(ctx context.Context, countryCode string) ([]model.Location, error) {
	var result []model.Location
	if err := r.replica.WithContext(ctx).
		Where("country_code = ?", countryCode).
		Order("city ASC NULLS FIRST").
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *locationRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.replica.WithContext(ctx).Model(&model.Location{}).Count(&n).Error
	return n, err
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
