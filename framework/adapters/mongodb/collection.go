package mongodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/akriventsev/readmodel/framework/core"
	"github.com/akriventsev/readmodel/framework/retry"
	"github.com/akriventsev/readmodel/framework/store"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Database хэндл базы данных MongoDB
type Database struct {
	db *mongo.Database
}

// Name имя базы данных
func (d *Database) Name() string {
	return d.db.Name()
}

// Collection возвращает хэндл коллекции
func (d *Database) Collection(name string) store.Collection {
	return &Collection{coll: d.db.Collection(name)}
}

// DropCollection удаляет коллекцию. Отсутствующая коллекция не ошибка.
func (d *Database) DropCollection(ctx context.Context, name string) error {
	return d.Collection(name).Drop(ctx)
}

// ListCollections возвращает имена коллекций базы
func (d *Database) ListCollections(ctx context.Context) ([]string, error) {
	names, err := d.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, storeError(err, "failed to list collections")
	}
	return names, nil
}

// Collection коллекция MongoDB
type Collection struct {
	coll *mongo.Collection
}

// Name имя коллекции
func (c *Collection) Name() string {
	return c.coll.Name()
}

func byID(id uuid.UUID) bson.D {
	return bson.D{{Key: store.IDField, Value: id}}
}

// FindOne находит документ по _id
func (c *Collection) FindOne(ctx context.Context, id uuid.UUID) (bson.Raw, error) {
	raw, err := c.coll.FindOne(ctx, byID(id)).Raw()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrDocumentNotFound
		}
		return nil, storeError(err, "failed to find document")
	}
	return raw, nil
}

// Find открывает курсор. Документы подгружаются пакетами по мере итерации.
func (c *Collection) Find(ctx context.Context, q store.Query) (store.Cursor, error) {
	filter, err := q.Filter()
	if err != nil {
		return nil, core.Wrap(err, core.ErrInvalidArgument, "invalid query")
	}

	opts := options.Find()
	if len(q.Sort) > 0 {
		opts.SetSort(q.SortDocument())
	}
	if q.Limit > 0 {
		opts.SetLimit(q.Limit)
	}
	if q.Skip > 0 {
		opts.SetSkip(q.Skip)
	}

	cur, err := c.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, storeError(err, "failed to query documents")
	}
	return &cursor{cur: cur}, nil
}

// Count возвращает количество документов по запросу
func (c *Collection) Count(ctx context.Context, q store.Query) (int64, error) {
	filter, err := q.Filter()
	if err != nil {
		return 0, core.Wrap(err, core.ErrInvalidArgument, "invalid query")
	}

	opts := options.Count()
	if q.Limit > 0 {
		opts.SetLimit(q.Limit)
	}
	if q.Skip > 0 {
		opts.SetSkip(q.Skip)
	}

	count, err := c.coll.CountDocuments(ctx, filter, opts)
	if err != nil {
		return 0, storeError(err, "failed to count documents")
	}
	return count, nil
}

// Upsert полностью заменяет документ (ReplaceOne с upsert)
func (c *Collection) Upsert(ctx context.Context, id uuid.UUID, doc interface{}) error {
	raw, err := store.EncodeDocument(id, doc)
	if err != nil {
		return core.Wrap(err, core.ErrInvalidArgument, "failed to encode document")
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := c.coll.ReplaceOne(ctx, byID(id), raw, opts); err != nil {
		return storeError(err, "failed to save document")
	}
	return nil
}

// InsertMany вставляет документы упорядоченным пакетом.
// MongoDB не откатывает уже вставленные документы при ошибке посередине пакета.
func (c *Collection) InsertMany(ctx context.Context, docs []interface{}) error {
	if len(docs) == 0 {
		return nil
	}
	opts := options.InsertMany().SetOrdered(true)
	if _, err := c.coll.InsertMany(ctx, docs, opts); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return core.Wrap(err, core.ErrAlreadyExists, "duplicate key in batch")
		}
		return storeError(err, "failed to insert documents")
	}
	return nil
}

// DeleteOne удаляет документ по _id
func (c *Collection) DeleteOne(ctx context.Context, id uuid.UUID) (int64, error) {
	result, err := c.coll.DeleteOne(ctx, byID(id))
	if err != nil {
		return 0, storeError(err, "failed to delete document")
	}
	return result.DeletedCount, nil
}

// SetField выполняет неупорядоченный bulk $set по списку идентификаторов
func (c *Collection) SetField(ctx context.Context, ids []uuid.UUID, field string, value interface{}) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	model := mongo.NewUpdateManyModel().
		SetFilter(bson.D{{Key: store.IDField, Value: bson.D{{Key: "$in", Value: ids}}}}).
		SetUpdate(bson.D{{Key: "$set", Value: bson.D{{Key: field, Value: value}}}})

	result, err := c.coll.BulkWrite(ctx, []mongo.WriteModel{model}, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, storeError(err, "failed to set field %s", field)
	}
	return result.MatchedCount, nil
}

// RenameField переименовывает поле во всех документах, где оно есть
func (c *Collection) RenameField(ctx context.Context, oldField, newField string) (int64, error) {
	filter := bson.D{{Key: oldField, Value: bson.D{{Key: "$exists", Value: true}}}}
	update := bson.D{{Key: "$rename", Value: bson.D{{Key: oldField, Value: newField}}}}

	result, err := c.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, storeError(err, "failed to rename field %s to %s", oldField, newField)
	}
	return result.ModifiedCount, nil
}

// Drop удаляет коллекцию вместе с индексами
func (c *Collection) Drop(ctx context.Context) error {
	if err := c.coll.Drop(ctx); err != nil {
		return storeError(err, "failed to drop collection %s", c.coll.Name())
	}
	return nil
}

// transientLabels метки ошибок сервера, после которых операцию можно безопасно повторить
// (смена primary, обрыв соединения внутри кластера)
var transientLabels = []string{"RetryableWriteError", "RetryableReadError", "TransientTransactionError"}

// storeError оборачивает ошибку драйвера. Ошибки сервера с меткой повторяемости
// помечаются как транзиентные.
func storeError(err error, format string, args ...interface{}) error {
	message := fmt.Sprintf(format, args...)
	var labeled mongo.LabeledError
	if errors.As(err, &labeled) {
		for _, label := range transientLabels {
			if labeled.HasErrorLabel(label) {
				return retry.NewTransientError(err, message)
			}
		}
	}
	return fmt.Errorf("%s: %w", message, err)
}

// cursor обертка над mongo.Cursor
type cursor struct {
	cur *mongo.Cursor
}

func (c *cursor) Next(ctx context.Context) bool {
	return c.cur.Next(ctx)
}

func (c *cursor) Current() bson.Raw {
	return c.cur.Current
}

func (c *cursor) Err() error {
	if err := c.cur.Err(); err != nil {
		return storeError(err, "cursor iteration failed")
	}
	return nil
}

func (c *cursor) Close(ctx context.Context) error {
	return c.cur.Close(ctx)
}
