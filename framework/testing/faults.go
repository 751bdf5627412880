package testing

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"

	"github.com/akriventsev/readmodel/framework/core"
	"github.com/akriventsev/readmodel/framework/store"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
)

// Operation операция хранилища, на которую можно внедрить сбой
type Operation string

const (
	OpDatabase    Operation = "database"
	OpFindOne     Operation = "find_one"
	OpFind        Operation = "find"
	OpCount       Operation = "count"
	OpUpsert      Operation = "upsert"
	OpInsertMany  Operation = "insert_many"
	OpDeleteOne   Operation = "delete_one"
	OpSetField    Operation = "set_field"
	OpRenameField Operation = "rename_field"
	OpDrop        Operation = "drop"
	OpCreateIndex Operation = "create_index"
	OpDropIndex   Operation = "drop_index"
	OpListIndexes Operation = "list_indexes"
	OpWatch       Operation = "watch"
)

// TransientFault возвращает сетевую ошибку, которую политика повторов считает транзиентной
func TransientFault() error {
	return &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}
}

type fault struct {
	remaining int // -1 = всегда
	err       error
}

// FaultyProvider оборачивает провайдер и внедряет ошибки в выбранные операции.
// Считает вызовы каждой операции, включая неудачные.
type FaultyProvider struct {
	inner  store.ConnectionProvider
	mu     sync.Mutex
	faults map[Operation]*fault
	calls  map[Operation]int
}

// NewFaultyProvider создает провайдер с внедрением сбоев
func NewFaultyProvider(inner store.ConnectionProvider) *FaultyProvider {
	return &FaultyProvider{
		inner:  inner,
		faults: make(map[Operation]*fault),
		calls:  make(map[Operation]int),
	}
}

// FailNext заставляет следующие times вызовов op вернуть err
func (p *FaultyProvider) FailNext(op Operation, times int, err error) *FaultyProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faults[op] = &fault{remaining: times, err: err}
	return p
}

// FailAlways заставляет все вызовы op возвращать err
func (p *FaultyProvider) FailAlways(op Operation, err error) *FaultyProvider {
	return p.FailNext(op, -1, err)
}

// Calls возвращает количество вызовов операции
func (p *FaultyProvider) Calls(op Operation) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// Reset снимает все сбои и обнуляет счетчики
func (p *FaultyProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faults = make(map[Operation]*fault)
	p.calls = make(map[Operation]int)
}

func (p *FaultyProvider) inject(op Operation) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls[op]++
	f, ok := p.faults[op]
	if !ok || f.remaining == 0 {
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
	}
	return f.err
}

// Database реализует store.ConnectionProvider
func (p *FaultyProvider) Database(ctx context.Context) (store.Database, error) {
	if err := p.inject(OpDatabase); err != nil {
		return nil, err
	}
	db, err := p.inner.Database(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyDatabase{Database: db, provider: p}, nil
}

// Ping реализует store.ConnectionProvider
func (p *FaultyProvider) Ping(ctx context.Context) error {
	return p.inner.Ping(ctx)
}

// Close реализует store.ConnectionProvider
func (p *FaultyProvider) Close(ctx context.Context) error {
	return p.inner.Close(ctx)
}

type faultyDatabase struct {
	store.Database
	provider *FaultyProvider
}

func (d *faultyDatabase) Collection(name string) store.Collection {
	return &faultyCollection{Collection: d.Database.Collection(name), provider: d.provider}
}

func (d *faultyDatabase) DropCollection(ctx context.Context, name string) error {
	return d.Collection(name).Drop(ctx)
}

type faultyCollection struct {
	store.Collection
	provider *FaultyProvider
}

func (c *faultyCollection) FindOne(ctx context.Context, id uuid.UUID) (bson.Raw, error) {
	if err := c.provider.inject(OpFindOne); err != nil {
		return nil, err
	}
	return c.Collection.FindOne(ctx, id)
}

func (c *faultyCollection) Find(ctx context.Context, q store.Query) (store.Cursor, error) {
	if err := c.provider.inject(OpFind); err != nil {
		return nil, err
	}
	return c.Collection.Find(ctx, q)
}

func (c *faultyCollection) Count(ctx context.Context, q store.Query) (int64, error) {
	if err := c.provider.inject(OpCount); err != nil {
		return 0, err
	}
	return c.Collection.Count(ctx, q)
}

func (c *faultyCollection) Upsert(ctx context.Context, id uuid.UUID, doc interface{}) error {
	if err := c.provider.inject(OpUpsert); err != nil {
		return err
	}
	return c.Collection.Upsert(ctx, id, doc)
}

func (c *faultyCollection) InsertMany(ctx context.Context, docs []interface{}) error {
	if err := c.provider.inject(OpInsertMany); err != nil {
		return err
	}
	return c.Collection.InsertMany(ctx, docs)
}

func (c *faultyCollection) DeleteOne(ctx context.Context, id uuid.UUID) (int64, error) {
	if err := c.provider.inject(OpDeleteOne); err != nil {
		return 0, err
	}
	return c.Collection.DeleteOne(ctx, id)
}

func (c *faultyCollection) SetField(ctx context.Context, ids []uuid.UUID, field string, value interface{}) (int64, error) {
	if err := c.provider.inject(OpSetField); err != nil {
		return 0, err
	}
	return c.Collection.SetField(ctx, ids, field, value)
}

func (c *faultyCollection) RenameField(ctx context.Context, oldField, newField string) (int64, error) {
	if err := c.provider.inject(OpRenameField); err != nil {
		return 0, err
	}
	return c.Collection.RenameField(ctx, oldField, newField)
}

func (c *faultyCollection) Drop(ctx context.Context) error {
	if err := c.provider.inject(OpDrop); err != nil {
		return err
	}
	return c.Collection.Drop(ctx)
}

func (c *faultyCollection) CreateIndex(ctx context.Context, spec store.IndexSpec) error {
	if err := c.provider.inject(OpCreateIndex); err != nil {
		return err
	}
	indexer, err := c.indexer()
	if err != nil {
		return err
	}
	return indexer.CreateIndex(ctx, spec)
}

func (c *faultyCollection) DropIndex(ctx context.Context, name string) error {
	if err := c.provider.inject(OpDropIndex); err != nil {
		return err
	}
	indexer, err := c.indexer()
	if err != nil {
		return err
	}
	return indexer.DropIndex(ctx, name)
}

func (c *faultyCollection) ListIndexes(ctx context.Context) ([]store.IndexInfo, error) {
	if err := c.provider.inject(OpListIndexes); err != nil {
		return nil, err
	}
	indexer, err := c.indexer()
	if err != nil {
		return nil, err
	}
	return indexer.ListIndexes(ctx)
}

func (c *faultyCollection) Watch(ctx context.Context) (<-chan store.ChangeEvent, error) {
	if err := c.provider.inject(OpWatch); err != nil {
		return nil, err
	}
	watcher, ok := c.Collection.(store.Watcher)
	if !ok {
		return nil, core.NewError(core.ErrUnsupported, fmt.Sprintf("collection %q does not support change streams", c.Name()))
	}
	return watcher.Watch(ctx)
}

func (c *faultyCollection) indexer() (store.Indexer, error) {
	indexer, ok := c.Collection.(store.Indexer)
	if !ok {
		return nil, core.NewError(core.ErrUnsupported, fmt.Sprintf("collection %q does not support indexes", c.Name()))
	}
	return indexer, nil
}
