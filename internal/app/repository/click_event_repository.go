package repository

import (
	"context"

	"github.com/sifan077/PowerPulse/internal/app/model"
	"gorm.io/gorm"
)

// ClickEventRepository defines the data access contract for click events.
type ClickEventRepository interface {
	Create(ctx context.Context, event *model.ClickEvent) error
	GetByID(ctx context.Context, id int64) (*model.ClickEvent, error)
	// ListByIDs loads events with their dimensions, newest first.
	ListByIDs(ctx context.Context, ids []int64) ([]model.ClickEvent, error)
}

type clickEventRepository struct {
	primary *gorm.DB
	replica *gorm.DB
}

// NewClickEventRepository returns a GORM-backed ClickEventRepository. Writes go
// to primary, reads to replica.
func NewClickEventRepository(primary, replica *gorm.DB) ClickEventRepository {
	return &clickEventRepository{primary: primary, replica: replica}
}

func (r *clickEventRepository) Create(ctx context.Context, event *model.ClickEvent) error {
	return translate(r.primary.WithContext(ctx).Create(event).Error)
}

func (r *clickEventRepository) GetByID(ctx context.Context, id int64) (*model.ClickEvent, error) {
	var event model.ClickEvent
	if err := r.replica.WithContext(ctx).Where("id = ?", id).First(&event).Error; err != nil {
		return nil, translate(err)
	}
	return &event, nil
}

func (r *clickEventRepository) ListByIDs(ctx context.Context, ids []int64) ([]model.ClickEvent, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var result []model.ClickEvent
	if err := r.replica.WithContext(ctx).
		Preload("Location").
		Preload("Device").
		Where("id IN ?", ids).
		Order("id DESC").
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}
