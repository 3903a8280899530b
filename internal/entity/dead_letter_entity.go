package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// DeadLetterRecord is the durable spillover row for a dead letter whose
// broker publish failed.
type DeadLetterRecord struct {
	Id              uuid.UUID `gorm:"type:uuid;primaryKey"`
	EventId         string    `gorm:"index"`
	OriginalEventId string    `gorm:"index"`
	EventType       string
	Source          string
	Payload         datatypes.JSON
	ErrorMessage    string
	ErrorStack      string
	CreatedAt       time.Time
}

func (DeadLetterRecord) TableName() string {
	return "dead_letter_events"
}
