// Package readmodel предоставляет репозиторий read-моделей поверх документного хранилища.
//
// Каждое обращение к хранилищу выполняется через политику повторов: сетевые сбои
// повторяются немедленно до исчерпания бюджета попыток, остальные ошибки возвращаются сразу.
// Синхронные методы являются основной реализацией, асинхронные формы (...Async)
// запускают их же через Executor.
package readmodel

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/akriventsev/readmodel/framework/core"
	"github.com/akriventsev/readmodel/framework/logging"
	"github.com/akriventsev/readmodel/framework/metrics"
	"github.com/akriventsev/readmodel/framework/naming"
	"github.com/akriventsev/readmodel/framework/observability"
	"github.com/akriventsev/readmodel/framework/retry"
	"github.com/akriventsev/readmodel/framework/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Имена операций в логах, метриках и span'ах
const (
	opPing            = "ping"
	opListCollections = "list_collections"
	opGetByID         = "get_by_id"
	opGet             = "get"
	opQuery           = "query"
	opCount           = "count"
	opSave            = "save"
	opInsert          = "insert"
	opDelete          = "delete"
	opBulkSetProperty = "bulk_set_property"
	opRenameField     = "rename_field"
	opTruncate        = "truncate"
	opEnsureIndex     = "ensure_index"
	opDropIndex       = "drop_index"
	opListIndexes     = "list_indexes"
	opWatch           = "watch"
	opIterate         = "iterate"
)

// Repository нетипизированный репозиторий: разрешает коллекции, выполняет операции
// под политикой повторов и снабжает их логами, метриками и трассировкой.
// Безопасен для конкурентного использования.
type Repository struct {
	provider store.ConnectionProvider
	namer    naming.CollectionNamer
	policy   *retry.Policy
	logger   *zap.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	executor *Executor
}

// New создает репозиторий поверх провайдера подключения
func New(provider store.ConnectionProvider, opts ...Option) (*Repository, error) {
	if provider == nil {
		return nil, invalidArgument("connection provider cannot be nil")
	}

	r := &Repository{provider: provider}
	for _, opt := range opts {
		opt(r)
	}

	if r.namer == nil {
		r.namer = naming.Default()
	}
	if r.policy == nil {
		r.policy = retry.DefaultPolicy()
	}
	if r.logger == nil {
		r.logger = logging.Nop()
	}
	if r.metrics == nil {
		r.metrics = metrics.Noop()
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer(observability.TracerName)
	}
	if r.executor == nil {
		r.executor = NewExecutor(DefaultAsyncWorkers)
	}
	return r, nil
}

// Provider возвращает провайдер подключения
func (r *Repository) Provider() store.ConnectionProvider {
	return r.provider
}

// Executor возвращает исполнитель асинхронных операций
func (r *Repository) Executor() *Executor {
	return r.executor
}

// CollectionFor возвращает имя коллекции для типа
func (r *Repository) CollectionFor(t reflect.Type) (string, error) {
	if t == nil {
		return "", invalidArgument("type cannot be nil")
	}
	return r.namer.NameFor(t)
}

// Ping проверяет доступность хранилища
func (r *Repository) Ping(ctx context.Context) error {
	_, err := execute(ctx, r, opPing, "", func(ctx context.Context, _ store.Database) (struct{}, error) {
		return struct{}{}, r.provider.Ping(ctx)
	})
	return err
}

// ListCollections возвращает имена коллекций базы данных
func (r *Repository) ListCollections(ctx context.Context) ([]string, error) {
	return execute(ctx, r, opListCollections, "", func(ctx context.Context, db store.Database) ([]string, error) {
		return db.ListCollections(ctx)
	})
}

// GetDocuments открывает курсор по коллекции типа t, документы отдаются без типизации
func (r *Repository) GetDocuments(ctx context.Context, t reflect.Type) (*Cursor[bson.M], error) {
	name, err := r.CollectionFor(t)
	if err != nil {
		return nil, err
	}
	return find[bson.M](ctx, r, opGet, name, store.All())
}

// GetDocumentsAsync асинхронная форма GetDocuments
func (r *Repository) GetDocumentsAsync(ctx context.Context, t reflect.Type) *Future[*Cursor[bson.M]] {
	return Go(ctx, r.executor, func(ctx context.Context) (*Cursor[bson.M], error) {
		return r.GetDocuments(ctx, t)
	})
}

// GetCollection открывает курсор по коллекции с известным именем
func (r *Repository) GetCollection(ctx context.Context, collection string) (*Cursor[bson.M], error) {
	return r.FindIn(ctx, collection, store.All())
}

// FindIn открывает курсор по документам коллекции, подходящим под запрос
func (r *Repository) FindIn(ctx context.Context, collection string, q store.Query) (*Cursor[bson.M], error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	return find[bson.M](ctx, r, opQuery, collection, q)
}

// CountCollection возвращает количество документов коллекции, подходящих под запрос
func (r *Repository) CountCollection(ctx context.Context, collection string, q store.Query) (int64, error) {
	if err := validateCollection(collection); err != nil {
		return 0, err
	}
	return count(ctx, r, collection, q)
}

// RenameFieldIn переименовывает поле у всех документов коллекции и возвращает число затронутых
func (r *Repository) RenameFieldIn(ctx context.Context, collection, oldField, newField string) (int64, error) {
	if err := validateCollection(collection); err != nil {
		return 0, err
	}
	if err := validateRename(oldField, newField); err != nil {
		return 0, err
	}
	return execute(ctx, r, opRenameField, collection, func(ctx context.Context, db store.Database) (int64, error) {
		return db.Collection(collection).RenameField(ctx, oldField, newField)
	})
}

// TruncateCollection удаляет коллекцию целиком
func (r *Repository) TruncateCollection(ctx context.Context, collection string) error {
	if err := validateCollection(collection); err != nil {
		return err
	}
	_, err := execute(ctx, r, opTruncate, collection, func(ctx context.Context, db store.Database) (struct{}, error) {
		return struct{}{}, db.DropCollection(ctx, collection)
	})
	return err
}

// execute выполняет операцию над базой данных под политикой повторов.
// Хэндл базы данных получается заново на каждой попытке.
func execute[R any](
	ctx context.Context,
	r *Repository,
	operation, collection string,
	fn func(ctx context.Context, db store.Database) (R, error),
) (R, error) {
	start := time.Now()
	r.metrics.IncrementActiveOperations(ctx, operation)
	defer r.metrics.DecrementActiveOperations(ctx, operation)

	var result R
	err := observability.TraceOperation(ctx, r.tracer, operation, collection, func(ctx context.Context) error {
		policy, err := r.policy.With(retry.WithObserver(r.retryObserver(operation, collection)))
		if err != nil {
			return err
		}

		value, err := retry.Retriable(ctx, policy, func(ctx context.Context) (R, error) {
			db, err := r.provider.Database(ctx)
			if err != nil {
				var zero R
				return zero, err
			}
			return fn(ctx, db)
		})
		if err != nil {
			return classify(err, operation, collection)
		}
		result = value
		return nil
	})

	duration := time.Since(start)
	r.metrics.RecordOperation(ctx, operation, collection, duration, err)

	fields := r.fields(ctx, operation, collection, zap.Duration("duration", duration))
	if err != nil {
		r.logger.Error("read model operation failed", append(fields, zap.Error(err))...)
		var zero R
		return zero, err
	}
	r.logger.Debug("read model operation completed", fields...)
	return result, nil
}

func (r *Repository) retryObserver(operation, collection string) retry.Observer {
	return func(ctx context.Context, attempt int, err error) {
		r.metrics.RecordRetry(ctx, operation, collection, attempt)
		r.logger.Warn("retrying store call after transient failure",
			append(r.fields(ctx, operation, collection, logging.Attempt(attempt)), zap.Error(err))...)
	}
}

func (r *Repository) fields(ctx context.Context, operation, collection string, extra ...zap.Field) []zap.Field {
	fields := []zap.Field{logging.Operation(operation)}
	if collection != "" {
		fields = append(fields, logging.Collection(collection))
	}
	if id := observability.ExtractCorrelationID(ctx); id != "" {
		fields = append(fields, zap.String("correlation_id", id))
	}
	return append(fields, extra...)
}

// find открывает курсор; повторяется только открытие, итерация идет без повторов
func find[T any](ctx context.Context, r *Repository, operation, collection string, q store.Query) (*Cursor[T], error) {
	if err := q.Validate(); err != nil {
		return nil, core.Wrap(err, core.ErrInvalidArgument, "invalid query")
	}
	inner, err := execute(ctx, r, operation, collection, func(ctx context.Context, db store.Database) (store.Cursor, error) {
		return db.Collection(collection).Find(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	return newCursor[T](inner, collection), nil
}

func count(ctx context.Context, r *Repository, collection string, q store.Query) (int64, error) {
	if err := q.Validate(); err != nil {
		return 0, core.Wrap(err, core.ErrInvalidArgument, "invalid query")
	}
	return execute(ctx, r, opCount, collection, func(ctx context.Context, db store.Database) (int64, error) {
		return db.Collection(collection).Count(ctx, q)
	})
}

func validateCollection(name string) error {
	if strings.TrimSpace(name) == "" {
		return invalidArgument("collection name cannot be empty")
	}
	return nil
}

// validateField проверяет имя поля, которое можно изменять
func validateField(field string) error {
	switch {
	case field == "":
		return invalidArgument("field name cannot be empty")
	case field == store.IDField || strings.HasPrefix(field, store.IDField+"."):
		return invalidArgument(fmt.Sprintf("field %q is the document identity and cannot be modified", field))
	case strings.HasPrefix(field, "$") || strings.ContainsRune(field, 0):
		return invalidArgument(fmt.Sprintf("field name %q contains forbidden characters", field))
	case strings.HasPrefix(field, ".") || strings.HasSuffix(field, ".") || strings.Contains(field, ".."):
		return invalidArgument(fmt.Sprintf("field path %q is malformed", field))
	}
	return nil
}

func validateRename(oldField, newField string) error {
	if err := validateField(oldField); err != nil {
		return err
	}
	if err := validateField(newField); err != nil {
		return err
	}
	if oldField == newField {
		return invalidArgument("old and new field names must differ")
	}
	if strings.HasPrefix(newField, oldField+".") || strings.HasPrefix(oldField, newField+".") {
		return invalidArgument(fmt.Sprintf("cannot rename %q to %q: paths overlap", oldField, newField))
	}
	return nil
}
