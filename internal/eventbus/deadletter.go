package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"eventmesh-be/internal/constant"
	"eventmesh-be/internal/entity"
	"eventmesh-be/internal/pkg/logger"
	"eventmesh-be/internal/pkg/mailer"
	"eventmesh-be/internal/repository/contract"
	"eventmesh-be/pkg/events"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// HandleDeadLetterEvent builds the synthetic `<type>_DEAD_LETTER` record for
// a failed event and publishes it to the fixed dead-letter topic. If that
// publish itself fails the record is handed to the spillover queue; only a
// failed spillover enqueue surfaces as an error.
func (b *Bus) HandleDeadLetterEvent(ctx context.Context, original events.Event, raw []byte, procErr error) error {
	dl := events.NewDeadLetterEvent(original, raw, b.source, procErr)

	if err := b.PublishEvent(ctx, constant.TopicDeadLetter, dl); err != nil {
		b.logger.Error("EventBus", "Dead letter publish failed, spilling over", map[string]interface{}{
			"event_id":          dl.ID,
			"original_event_id": dl.OriginalEventID,
			"error":             err.Error(),
		})
		if b.spill == nil {
			return fmt.Errorf("dead letter publish failed with no spillover: %w", err)
		}
		return b.spill.Enqueue(dl)
	}

	b.logger.Info("EventBus", "Dead letter published", map[string]interface{}{
		"event_id":          dl.ID,
		"original_event_id": dl.OriginalEventID,
		"event_type":        dl.Type,
	})
	return nil
}

// Spillover is the local durable fallback for dead letters the broker
// rejected: records travel over an in-process queue to a worker that writes
// them to the relational store and alerts an operator.
type Spillover struct {
	pubSub         *gochannel.GoChannel
	repo           contract.DeadLetterRepository
	emailService   mailer.IEmailService
	alertRecipient string
	logger         logger.ILogger
}

func NewSpillover(repo contract.DeadLetterRepository, emailService mailer.IEmailService,
	alertRecipient string, log logger.ILogger) *Spillover {
	return &Spillover{
		pubSub:         gochannel.NewGoChannel(gochannel.Config{}, watermill.NewStdLogger(false, false)),
		repo:           repo,
		emailService:   emailService,
		alertRecipient: alertRecipient,
		logger:         log,
	}
}

// Enqueue hands one dead letter to the spillover worker.
func (s *Spillover) Enqueue(dl events.DeadLetterEvent) error {
	payload, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshal spillover record %s: %w", dl.ID, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := s.pubSub.Publish(constant.TopicDeadLetterSpillover, msg); err != nil {
		return fmt.Errorf("enqueue spillover record %s: %w", dl.ID, err)
	}
	return nil
}

// Run starts the spillover worker; it drains until ctx is cancelled or the
// queue is closed.
func (s *Spillover) Run(ctx context.Context) error {
	messages, err := s.pubSub.Subscribe(ctx, constant.TopicDeadLetterSpillover)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			s.processMessage(ctx, msg)
		}
	}()

	return nil
}

func (s *Spillover) processMessage(ctx context.Context, msg *message.Message) {
	var dl events.DeadLetterEvent
	if err := json.Unmarshal(msg.Payload, &dl); err != nil {
		s.logger.Error("Spillover", "Failed to unmarshal spillover record", map[string]interface{}{"error": err.Error()})
		msg.Ack() // Ack invalid messages to prevent infinite retry
		return
	}

	record := &entity.DeadLetterRecord{
		Id:              uuid.New(),
		EventId:         dl.ID,
		OriginalEventId: dl.OriginalEventID,
		EventType:       dl.Type,
		Source:          dl.Source,
		Payload:         datatypes.JSON(msg.Payload),
		ErrorMessage:    dl.Error.Message,
		ErrorStack:      dl.Error.Stack,
		CreatedAt:       time.Now(),
	}

	if err := s.repo.Create(ctx, record); err != nil {
		s.logger.Error("Spillover", "Failed to persist spillover record", map[string]interface{}{
			"event_id": dl.ID,
			"error":    err.Error(),
		})
		msg.Nack() // Retriable: the store may come back
		return
	}

	if s.emailService != nil && s.alertRecipient != "" {
		if err := s.emailService.SendDeadLetterAlert(s.alertRecipient, dl.Type, dl.OriginalEventID, dl.Error.Message); err != nil {
			s.logger.Warn("Spillover", "Alert mail failed", map[string]interface{}{
				"event_id": dl.ID,
				"error":    err.Error(),
			})
		}
	}

	s.logger.Info("Spillover", "Dead letter spilled to relational store", map[string]interface{}{
		"event_id":          dl.ID,
		"original_event_id": dl.OriginalEventID,
	})
	msg.Ack()
}

// Close shuts the in-process queue down; pending messages are dropped after
// the drain window.
func (s *Spillover) Close() error {
	return s.pubSub.Close()
}
