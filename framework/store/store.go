// Package store описывает порт к документному хранилищу, через который работает репозиторий read-моделей.
//
// Конкретные драйверы (MongoDB, in-memory) лежат в framework/adapters и реализуют
// ConnectionProvider, Database и Collection.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
)

// IDField имя ключевого поля документа
const IDField = "_id"

// ErrDocumentNotFound возвращается FindOne, если документ с указанным идентификатором отсутствует
var ErrDocumentNotFound = errors.New("document not found")

// ErrMalformedChange событие потока изменений не удалось разобрать
var ErrMalformedChange = errors.New("malformed change event")

// ConnectionProvider по настройкам подключения выдает хэндл базы данных.
// Хэндл может разделяться между вызовами и должен быть безопасен для конкурентного использования.
type ConnectionProvider interface {
	// Database возвращает хэндл целевой базы данных
	Database(ctx context.Context) (Database, error)
	// Ping проверяет доступность хранилища
	Ping(ctx context.Context) error
	// Close освобождает соединения
	Close(ctx context.Context) error
}

// Database хэндл базы данных
type Database interface {
	Name() string
	Collection(name string) Collection
	DropCollection(ctx context.Context, name string) error
	ListCollections(ctx context.Context) ([]string, error)
}

// Collection операции над одной коллекцией
type Collection interface {
	Name() string
	// FindOne возвращает сырой документ или ErrDocumentNotFound
	FindOne(ctx context.Context, id uuid.UUID) (bson.Raw, error)
	// Find открывает курсор по запросу
	Find(ctx context.Context, q Query) (Cursor, error)
	// Count возвращает количество документов, подходящих под запрос
	Count(ctx context.Context, q Query) (int64, error)
	// Upsert создает или полностью заменяет документ с идентификатором id
	Upsert(ctx context.Context, id uuid.UUID, doc interface{}) error
	// InsertMany вставляет документы одним пакетом
	InsertMany(ctx context.Context, docs []interface{}) error
	// DeleteOne удаляет документ и возвращает количество удаленных
	DeleteOne(ctx context.Context, id uuid.UUID) (int64, error)
	// SetField неупорядоченной bulk-операцией устанавливает поле у документов из ids
	SetField(ctx context.Context, ids []uuid.UUID, field string, value interface{}) (int64, error)
	// RenameField переименовывает поле у всех документов, где оно есть
	RenameField(ctx context.Context, oldField, newField string) (int64, error)
	// Drop удаляет коллекцию целиком
	Drop(ctx context.Context) error
}

// Cursor потоковый курсор по сырым документам
type Cursor interface {
	Next(ctx context.Context) bool
	Current() bson.Raw
	Err() error
	Close(ctx context.Context) error
}

// IndexType тип индекса
type IndexType string

const (
	IndexTypeAscending  IndexType = "asc"
	IndexTypeDescending IndexType = "desc"
	IndexTypeText       IndexType = "text"
	IndexTypeHashed     IndexType = "hashed"
)

// IndexSpec спецификация индекса
type IndexSpec struct {
	Name   string
	Fields []string
	Type   IndexType
	Unique bool
	Sparse bool
}

// IndexInfo информация об индексе
type IndexInfo struct {
	Name   string
	Fields []string
	Unique bool
}

// Indexer необязательная возможность коллекции управлять индексами
type Indexer interface {
	CreateIndex(ctx context.Context, spec IndexSpec) error
	DropIndex(ctx context.Context, name string) error
	ListIndexes(ctx context.Context) ([]IndexInfo, error)
}

// ChangeOperationType тип изменения документа
type ChangeOperationType string

const (
	ChangeInsert     ChangeOperationType = "insert"
	ChangeUpdate     ChangeOperationType = "update"
	ChangeReplace    ChangeOperationType = "replace"
	ChangeDelete     ChangeOperationType = "delete"
	ChangeDrop       ChangeOperationType = "drop"
	ChangeInvalidate ChangeOperationType = "invalidate"
)

// ChangeEvent изменение документа коллекции
type ChangeEvent struct {
	OperationType ChangeOperationType
	DocumentID    uuid.UUID
	// FullDocument текущая версия документа (пусто для delete/drop)
	FullDocument bson.Raw
	// UpdatedFields и RemovedFields заполняются для update
	UpdatedFields bson.M
	RemovedFields []string
	// Err сбой потока. Событие с ErrMalformedChange пропускает одно изменение,
	// любая другая ошибка приходит последней перед закрытием канала.
	Err error
}

// Watcher необязательная возможность коллекции отдавать поток изменений.
// Канал закрывается при отмене ctx или завершении потока; отмена ctx не порождает события с Err.
type Watcher interface {
	Watch(ctx context.Context) (<-chan ChangeEvent, error)
}
