package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"eventmesh-be/internal/constant"
	"eventmesh-be/internal/entity"
	"eventmesh-be/internal/repository/contract"
	"eventmesh-be/internal/repository/implementation"
	"eventmesh-be/pkg/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestRepo(t *testing.T) contract.DeadLetterRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&entity.DeadLetterRecord{}))
	return implementation.NewDeadLetterRepository(db)
}

func TestHandleDeadLetterEventPublishesDerivedRecord(t *testing.T) {
	producer := newFakeProducer()
	bus := newTestBus(t, &fakeConns{producer: producer})

	original := events.NewOrderEvent(events.TypeOrderCreated, "order-service", "ord-1", "usr-1", nil)
	original.ID = "e1"
	raw, err := json.Marshal(original)
	require.NoError(t, err)

	require.NoError(t, bus.HandleDeadLetterEvent(context.Background(), original, raw, errors.New("boom")))

	records := producer.records(constant.SubjectForTopic(constant.TopicDeadLetter))
	require.Len(t, records, 1)

	var dl events.DeadLetterEvent
	require.NoError(t, json.Unmarshal(records[0].Data, &dl))
	assert.Equal(t, "ORDER_CREATED_DEAD_LETTER", dl.Type)
	assert.Equal(t, "e1", dl.OriginalEventID)
	assert.Equal(t, "boom", dl.Error.Message)
	assert.NotEqual(t, "e1", dl.ID)
	assert.JSONEq(t, string(raw), string(dl.OriginalEvent))
}

func TestHandleDeadLetterEventSpillsOverWhenPublishFails(t *testing.T) {
	producer := newFakeProducer()
	producer.err = errors.New("stream unavailable")
	bus := newTestBus(t, &fakeConns{producer: producer})

	repo := newTestRepo(t)
	spill := NewSpillover(repo, nil, "", nopLogger{})
	t.Cleanup(func() { _ = spill.Close() })

	ctx := context.Background()
	require.NoError(t, spill.Run(ctx))
	bus.AttachSpillover(spill)

	original := events.NewOrderEvent(events.TypeOrderCreated, "order-service", "ord-1", "usr-1", nil)
	original.ID = "e1"
	require.NoError(t, bus.HandleDeadLetterEvent(ctx, original, nil, errors.New("boom")))

	require.Eventually(t, func() bool {
		count, err := repo.Count(ctx)
		return err == nil && count == 1
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := repo.FindByOriginalEventId(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "ORDER_CREATED_DEAD_LETTER", stored[0].EventType)
	assert.Equal(t, "boom", stored[0].ErrorMessage)
	assert.Equal(t, "order-service", stored[0].Source)
}

func TestHandleDeadLetterEventWithoutSpilloverSurfacesError(t *testing.T) {
	producer := newFakeProducer()
	producer.err = errors.New("stream unavailable")
	bus := newTestBus(t, &fakeConns{producer: producer})

	original := events.NewOrderEvent(events.TypeOrderCreated, "order-service", "ord-1", "usr-1", nil)
	err := bus.HandleDeadLetterEvent(context.Background(), original, nil, errors.New("boom"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPublish)
}

func TestSpilloverEnqueueRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	spill := NewSpillover(repo, nil, "", nopLogger{})
	t.Cleanup(func() { _ = spill.Close() })

	ctx := context.Background()
	require.NoError(t, spill.Run(ctx))

	original := events.NewOrderEvent(events.TypeOrderCreated, "order-service", "ord-1", "usr-1", nil)
	dl := events.NewDeadLetterEvent(original, nil, "order-service", errors.New("boom"))
	require.NoError(t, spill.Enqueue(dl))

	require.Eventually(t, func() bool {
		count, err := repo.Count(ctx)
		return err == nil && count == 1
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := repo.FindByOriginalEventId(ctx, original.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, dl.ID, stored[0].EventId)
}
