package repository

import (
	"context"

	"github.com/sifan077/PowerPulse/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReferenceQuery selects local rows associated with one remote entity.
type ReferenceQuery struct {
	TargetID    int64
	TargetTable string
	LocalTable  string
	Limit       int
	NewestFirst bool
}

// ServiceReferenceRepository stores cross-service associations.
type ServiceReferenceRepository interface {
	// Create is idempotent: re-inserting the same association is a no-op.
	Create(ctx context.Context, ref *model.ServiceReference) error
	FindLocalIDs(ctx context.Context, q ReferenceQuery) ([]int64, error)
	Count(ctx context.Context, targetID int64, targetTable, localTable string) (int64, error)
}

type serviceReferenceRepository struct {
	primary *gorm.DB
	replica *gorm.DB
}

// NewServiceReferenceRepository returns a GORM-backed ServiceReferenceRepository.
func NewServiceReferenceRepository(primary, replica *gorm.DB) ServiceReferenceRepository {
	return &serviceReferenceRepository{primary: primary, replica: replica}
}

func (r *serviceReferenceRepository) Create(ctx context.Context, ref *model.ServiceReference) error {
	return translate(r.primary.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(ref).Error)
}

func (r *serviceReferenceRepository) FindLocalIDs(ctx context.Context, q ReferenceQuery) ([]int64, error) {
	tx := r.replica.WithContext(ctx).
		Model(&model.ServiceReference{}).
		Where("target_id = ? AND target_table = ? AND local_table = ?", q.TargetID, q.TargetTable, q.LocalTable)

	if q.NewestFirst {
		tx = tx.Order("id DESC")
	} else {
		tx = tx.Order("id ASC")
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var ids []int64
	if err := tx.Pluck("local_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *serviceReferenceRepository) Count(ctx context.Context, targetID int64, targetTable, localTable string) (int64, error) {
	var n int64
	err := r.replica.WithContext(ctx).
		Model(&model.ServiceReference{}).
		Where("target_id = ? AND target_table = ? AND local_table = ?", targetID, targetTable, localTable).
		Count(&n).Error
	return n, err
}
