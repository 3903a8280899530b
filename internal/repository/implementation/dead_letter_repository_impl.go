package implementation

import (
	"context"

	"eventmesh-be/internal/entity"
	"eventmesh-be/internal/repository/contract"

	"gorm.io/gorm"
)

type DeadLetterRepositoryImpl struct {
	db *gorm.DB
}

func NewDeadLetterRepository(db *gorm.DB) contract.DeadLetterRepository {
	return &DeadLetterRepositoryImpl{db: db}
}

func (r *DeadLetterRepositoryImpl) Create(ctx context.Context, record *entity.DeadLetterRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *DeadLetterRepositoryImpl) FindByOriginalEventId(ctx context.Context, originalEventId string) ([]*entity.DeadLetterRecord, error) {
	var records []*entity.DeadLetterRecord
	err := r.db.WithContext(ctx).
		Where("original_event_id = ?", originalEventId).
		Order("created_at DESC").
		Find(&records).Error
	return records, err
}

func (r *DeadLetterRepositoryImpl) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.DeadLetterRecord{}).Count(&count).Error
	return count, err
}
