package mongodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/akriventsev/readmodel/framework/core"
	"github.com/akriventsev/readmodel/framework/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// indexNotFoundCode код ошибки сервера IndexNotFound
const indexNotFoundCode = 27

// indexKeys строит ключи индекса по типу
func indexKeys(spec store.IndexSpec) bson.D {
	keys := bson.D{}
	for _, field := range spec.Fields {
		var value interface{} = 1
		switch spec.Type {
		case store.IndexTypeDescending:
			value = -1
		case store.IndexTypeText:
			value = "text"
		case store.IndexTypeHashed:
			value = "hashed"
		}
		keys = append(keys, bson.E{Key: field, Value: value})
	}
	return keys
}

// CreateIndex создает индекс (реализация store.Indexer)
func (c *Collection) CreateIndex(ctx context.Context, spec store.IndexSpec) error {
	if len(spec.Fields) == 0 {
		return core.NewError(core.ErrInvalidArgument, "index must have at least one field")
	}

	opts := options.Index().
		SetUnique(spec.Unique).
		SetSparse(spec.Sparse)
	if spec.Name != "" {
		opts.SetName(spec.Name)
	}

	model := mongo.IndexModel{Keys: indexKeys(spec), Options: opts}
	if _, err := c.coll.Indexes().CreateOne(ctx, model); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return core.Wrap(err, core.ErrAlreadyExists, "cannot build unique index")
		}
		return storeError(err, "failed to create index")
	}
	return nil
}

// DropIndex удаляет индекс (реализация store.Indexer)
func (c *Collection) DropIndex(ctx context.Context, name string) error {
	if _, err := c.coll.Indexes().DropOne(ctx, name); err != nil {
		var cmdErr mongo.CommandError
		if errors.As(err, &cmdErr) && cmdErr.Code == indexNotFoundCode {
			return core.Wrap(err, core.ErrNotFound, fmt.Sprintf("index not found: %s", name))
		}
		return storeError(err, "failed to drop index")
	}
	return nil
}

// ListIndexes возвращает список всех индексов (реализация store.Indexer)
func (c *Collection) ListIndexes(ctx context.Context) ([]store.IndexInfo, error) {
	cur, err := c.coll.Indexes().List(ctx)
	if err != nil {
		return nil, storeError(err, "failed to list indexes")
	}
	defer cur.Close(ctx)

	var indexes []store.IndexInfo
	for cur.Next(ctx) {
		var indexDoc struct {
			Name   string `bson:"name"`
			Key    bson.D `bson:"key"`
			Unique bool   `bson:"unique"`
		}
		if err := cur.Decode(&indexDoc); err != nil {
			return nil, storeError(err, "failed to decode index")
		}

		info := store.IndexInfo{Name: indexDoc.Name, Unique: indexDoc.Unique || indexDoc.Name == "_id_"}
		// bson.D сохраняет порядок полей составного индекса
		for _, key := range indexDoc.Key {
			info.Fields = append(info.Fields, key.Key)
		}
		indexes = append(indexes, info)
	}
	if err := cur.Err(); err != nil {
		return nil, storeError(err, "failed to list indexes")
	}
	return indexes, nil
}
