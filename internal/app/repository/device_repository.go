package repository

import (
	"context"

	"github.com/sifan077/PowerPulse/internal/app/model"
	"gorm.io/gorm"
)

// DeviceRepository defines the data access contract for the device dimension.
type DeviceRepository interface {
	FindByKey(ctx context.Context, key string) (*model.Device, error)
	FindByKeyPrimary(ctx context.Context, key string) (*model.Device, error)
	Create(ctx context.Context, device *model.Device) error
	GetByID(ctx context.Context, id int64) (*model.Device, error)
	List(ctx context.Context, limit, offset int) ([]model.Device, error)
	ListByType(ctx context.Context, deviceType model.DeviceType) ([]model.Device, error)
	Count(ctx context.Context) (int64, error)
}

type deviceRepository struct {
	primary *gorm.DB
	replica *gorm.DB
}

// NewDeviceRepository returns a GORM-backed DeviceRepository.
func NewDeviceRepository(primary, replica *gorm.DB) DeviceRepository {
	return &deviceRepository{primary: primary, replica: replica}
}

func (r *deviceRepository) FindByKey(ctx context.Context, key string) (*model.Device, error) {
	return findDevice(ctx, r.replica, key)
}

func (r *deviceRepository) FindByKeyPrimary(ctx context.Context, key string) (*model.Device, error) {
	return findDevice(ctx, r.primary, key)
}

func findDevice(ctx context.Context, db *gorm.DB, key string) (*model.Device, error) {
	var device model.Device
	if err := db.WithContext(ctx).Where("lookup_key = ?", key).First(&device).Error; err != nil {
		return nil, translate(err)
	}
	return &device, nil
}

func (r *deviceRepository) Create(ctx context.Context, device *model.Device) error {
	return translate(r.primary.WithContext(ctx).Create(device).Error)
}

func (r *deviceRepository) GetByID(ctx context.Context, id int64) (*model.Device, error) {
	var device model.Device
	if err := r.replica.WithContext(ctx).Where("id = ?", id).First(&device).Error; err != nil {
		return nil, translate(err)
	}
	return &device, nil
}

func (r *deviceRepository) List(ctx context.Context, limit, offset int) ([]model.Device, error) {
	limit, offset = normalizePage(limit, offset)

	var result []model.Device
	if err := r.replica.WithContext(ctx).
		Order("device_type ASC").
		Order("browser_name ASC NULLS FIRST").
		Limit(limit).
		Offset(offset).
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *deviceRepository) ListByType(ctx context.Context, deviceType model.DeviceType) ([]model.Device, error) {
	var result []model.Device
	if err := r.replica.WithContext(ctx).
		Where("device_type = ?", deviceType).
		Order("browser_name ASC NULLS FIRST").
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *deviceRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.replica.WithContext(ctx).Model(&model.Device{}).Count(&n).Error
	return n, err
}
