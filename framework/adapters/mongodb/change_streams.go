package mongodb

import (
	"context"
	"fmt"

	"github.com/akriventsev/readmodel/framework/store"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// changeStreamBuffer размер буфера канала событий
const changeStreamBuffer = 100

// changeDocument событие change stream в формате сервера
type changeDocument struct {
	OperationType string   `bson:"operationType"`
	FullDocument  bson.Raw `bson:"fullDocument"`
	DocumentKey   struct {
		ID uuid.UUID `bson:"_id"`
	} `bson:"documentKey"`
	UpdateDescription *struct {
		UpdatedFields bson.M   `bson:"updatedFields"`
		RemovedFields []string `bson:"removedFields"`
	} `bson:"updateDescription"`
}

// Watch открывает change stream коллекции (реализация store.Watcher).
// Требует replica set или sharded cluster.
func (c *Collection) Watch(ctx context.Context) (<-chan store.ChangeEvent, error) {
	opts := options.ChangeStream().
		SetFullDocument(options.UpdateLookup)

	stream, err := c.coll.Watch(ctx, mongo.Pipeline{}, opts)
	if err != nil {
		return nil, storeError(err, "failed to create change stream")
	}

	events := make(chan store.ChangeEvent, changeStreamBuffer)
	go watchLoop(ctx, stream, events)
	return events, nil
}

// changeStream часть mongo.ChangeStream, которую читает watchLoop
type changeStream interface {
	Next(ctx context.Context) bool
	Decode(val interface{}) error
	Err() error
	Close(ctx context.Context) error
}

// watchLoop читает поток до отмены ctx или необратимой ошибки.
// Возобновление после сетевых сбоев выполняет сам драйвер; ошибка, с которой поток
// все же завершился, отправляется последним событием.
func watchLoop(ctx context.Context, stream changeStream, events chan<- store.ChangeEvent) {
	defer close(events)
	defer func() {
		_ = stream.Close(context.Background())
	}()

	emit := func(event store.ChangeEvent) bool {
		select {
		case events <- event:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for stream.Next(ctx) {
		var doc changeDocument
		if err := stream.Decode(&doc); err != nil {
			if !emit(store.ChangeEvent{Err: fmt.Errorf("%w: %v", store.ErrMalformedChange, err)}) {
				return
			}
			continue
		}

		if !emit(toChangeEvent(doc)) {
			return
		}
		if doc.OperationType == string(store.ChangeInvalidate) {
			return
		}
	}

	if ctx.Err() != nil {
		return
	}
	if err := stream.Err(); err != nil {
		emit(store.ChangeEvent{Err: storeError(err, "change stream failed")})
	}
}

func toChangeEvent(doc changeDocument) store.ChangeEvent {
	event := store.ChangeEvent{
		OperationType: store.ChangeOperationType(doc.OperationType),
		DocumentID:    doc.DocumentKey.ID,
		FullDocument:  doc.FullDocument,
	}
	if doc.UpdateDescription != nil {
		event.UpdatedFields = doc.UpdateDescription.UpdatedFields
		event.RemovedFields = doc.UpdateDescription.RemovedFields
	}
	return event
}
