package contract

import (
	"context"

	"eventmesh-be/internal/entity"
)

type DeadLetterRepository interface {
	Create(ctx context.Context, record *entity.DeadLetterRecord) error
	FindByOriginalEventId(ctx context.Context, originalEventId string) ([]*entity.DeadLetterRecord, error)
	Count(ctx context.Context) (int64, error)
}
