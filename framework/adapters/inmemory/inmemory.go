// Package inmemory предоставляет in-memory реализацию документного хранилища.
// Используется в тестах и для локального запуска без MongoDB.
package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/akriventsev/readmodel/framework/core"
	"github.com/akriventsev/readmodel/framework/store"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
)

// ErrProviderClosed возвращается после Close провайдера
var ErrProviderClosed = errors.New("in-memory provider is closed")

// Config конфигурация in-memory хранилища
type Config struct {
	// DatabaseName имя базы данных
	DatabaseName string
	// MaxDocuments максимальное количество документов в коллекции (0 = без ограничений).
	// При достижении лимита запись новых документов вернет ошибку
	MaxDocuments int
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		DatabaseName: "readmodel",
		MaxDocuments: 0, // Без ограничений по умолчанию
	}
}

// Provider реализация store.ConnectionProvider поверх памяти процесса
type Provider struct {
	db     *Database
	mu     sync.RWMutex
	closed bool
}

// NewProvider создает новый in-memory провайдер
func NewProvider(config Config) *Provider {
	if config.DatabaseName == "" {
		config.DatabaseName = DefaultConfig().DatabaseName
	}
	return &Provider{db: newDatabase(config)}
}

// Database возвращает единственную базу данных провайдера
func (p *Provider) Database(ctx context.Context) (store.Database, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrProviderClosed
	}
	return p.db, nil
}

// Ping проверяет, что провайдер не закрыт
func (p *Provider) Ping(ctx context.Context) error {
	_, err := p.Database(ctx)
	return err
}

// Close закрывает провайдер. Данные остаются в памяти до сборки мусора.
func (p *Provider) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.db.closeWatchers()
	return nil
}

// Start реализует core.Lifecycle
func (p *Provider) Start(ctx context.Context) error {
	return nil
}

// Stop реализует core.Lifecycle
func (p *Provider) Stop(ctx context.Context) error {
	return p.Close(ctx)
}

// IsRunning реализует core.Lifecycle
func (p *Provider) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed
}

// Name реализует core.Component
func (p *Provider) Name() string {
	return "inmemory-store"
}

// Type реализует core.Component
func (p *Provider) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// Database in-memory база данных
type Database struct {
	config      Config
	mu          sync.RWMutex
	collections map[string]*collectionData
}

type collectionData struct {
	order    []uuid.UUID
	docs     map[uuid.UUID]bson.Raw
	indexes  map[string]store.IndexSpec
	watchers []*watcher
}

func newDatabase(config Config) *Database {
	return &Database{
		config:      config,
		collections: make(map[string]*collectionData),
	}
}

// Name имя базы данных
func (d *Database) Name() string {
	return d.config.DatabaseName
}

// Collection возвращает хэндл коллекции. Коллекция создается при первой записи.
func (d *Database) Collection(name string) store.Collection {
	return &Collection{db: d, name: name}
}

// DropCollection удаляет коллекцию
func (d *Database) DropCollection(ctx context.Context, name string) error {
	return d.Collection(name).Drop(ctx)
}

// ListCollections возвращает отсортированные имена существующих коллекций
func (d *Database) ListCollections(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.collections))
	for name := range d.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// data возвращает данные коллекции, создавая их при create=true. Вызывается под d.mu.
func (d *Database) data(name string, create bool) *collectionData {
	data, ok := d.collections[name]
	if !ok && create {
		data = &collectionData{
			docs:    make(map[uuid.UUID]bson.Raw),
			indexes: make(map[string]store.IndexSpec),
		}
		d.collections[name] = data
	}
	return data
}

func (d *Database) closeWatchers() {
	d.mu.Lock()
	var watchers []*watcher
	for _, data := range d.collections {
		watchers = append(watchers, data.watchers...)
		data.watchers = nil
	}
	d.mu.Unlock()

	for _, w := range watchers {
		w.stop()
	}
}

// Collection in-memory коллекция
type Collection struct {
	db   *Database
	name string
}

// Name имя коллекции
func (c *Collection) Name() string {
	return c.name
}

// FindOne находит документ по идентификатору
func (c *Collection) FindOne(ctx context.Context, id uuid.UUID) (bson.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()

	data := c.db.data(c.name, false)
	if data == nil {
		return nil, store.ErrDocumentNotFound
	}
	doc, ok := data.docs[id]
	if !ok {
		return nil, store.ErrDocumentNotFound
	}
	return doc, nil
}

// Find возвращает курсор по снимку подходящих документов
func (c *Collection) Find(ctx context.Context, q store.Query) (store.Cursor, error) {
	docs, err := c.selectDocuments(ctx, q)
	if err != nil {
		return nil, err
	}
	return &cursor{docs: docs, pos: -1}, nil
}

// Count возвращает количество подходящих документов
func (c *Collection) Count(ctx context.Context, q store.Query) (int64, error) {
	docs, err := c.selectDocuments(ctx, q)
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

func (c *Collection) selectDocuments(ctx context.Context, q store.Query) ([]bson.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conditions, err := compile(q)
	if err != nil {
		return nil, core.Wrap(err, core.ErrInvalidArgument, "invalid query")
	}

	c.db.mu.RLock()
	data := c.db.data(c.name, false)
	var docs []bson.Raw
	if data != nil {
		for _, id := range data.order {
			doc := data.docs[id]
			if matches(doc, conditions) {
				docs = append(docs, doc)
			}
		}
	}
	c.db.mu.RUnlock()

	sortDocuments(docs, q.Sort)

	if q.Skip > 0 {
		if int(q.Skip) >= len(docs) {
			docs = nil
		} else {
			docs = docs[q.Skip:]
		}
	}
	if q.Limit > 0 && int(q.Limit) < len(docs) {
		docs = docs[:q.Limit]
	}
	return docs, nil
}

// Upsert создает или заменяет документ
func (c *Collection) Upsert(ctx context.Context, id uuid.UUID, doc interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := store.EncodeDocument(id, doc)
	if err != nil {
		return core.Wrap(err, core.ErrInvalidArgument, "failed to encode document")
	}

	c.db.mu.Lock()
	data := c.db.data(c.name, true)

	_, exists := data.docs[id]
	if !exists && c.db.config.MaxDocuments > 0 && len(data.docs) >= c.db.config.MaxDocuments {
		c.db.mu.Unlock()
		return fmt.Errorf("collection limit reached: max %d documents", c.db.config.MaxDocuments)
	}
	if err := checkUnique(data, id, raw); err != nil {
		c.db.mu.Unlock()
		return err
	}

	data.docs[id] = raw
	op := store.ChangeReplace
	if !exists {
		data.order = append(data.order, id)
		op = store.ChangeInsert
	}
	watchers := data.snapshotWatchers()
	c.db.mu.Unlock()

	broadcast(watchers, store.ChangeEvent{OperationType: op, DocumentID: id, FullDocument: raw})
	return nil
}

// InsertMany вставляет документы атомарно: при любой ошибке коллекция не меняется
func (c *Collection) InsertMany(ctx context.Context, docs []interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(docs))
	raws := make([]bson.Raw, len(docs))
	seen := make(map[uuid.UUID]struct{}, len(docs))
	for i, doc := range docs {
		raw, err := store.Marshal(doc)
		if err != nil {
			return core.Wrap(err, core.ErrInvalidArgument, fmt.Sprintf("failed to encode document %d", i))
		}
		id, err := store.DocumentID(raw)
		if err != nil {
			return core.Wrap(err, core.ErrInvalidArgument, fmt.Sprintf("document %d has no uuid key", i))
		}
		if _, dup := seen[id]; dup {
			return core.NewError(core.ErrAlreadyExists, fmt.Sprintf("duplicate key %s in batch", id))
		}
		seen[id] = struct{}{}
		ids[i], raws[i] = id, raw
	}

	c.db.mu.Lock()
	data := c.db.data(c.name, true)

	if limit := c.db.config.MaxDocuments; limit > 0 && len(data.docs)+len(docs) > limit {
		c.db.mu.Unlock()
		return fmt.Errorf("collection limit reached: max %d documents", limit)
	}
	for i, id := range ids {
		if _, exists := data.docs[id]; exists {
			c.db.mu.Unlock()
			return core.NewError(core.ErrAlreadyExists, fmt.Sprintf("duplicate key %s", id))
		}
		if err := checkUnique(data, id, raws[i]); err != nil {
			c.db.mu.Unlock()
			return err
		}
	}

	for i, id := range ids {
		data.docs[id] = raws[i]
		data.order = append(data.order, id)
	}
	watchers := data.snapshotWatchers()
	c.db.mu.Unlock()

	for i, id := range ids {
		broadcast(watchers, store.ChangeEvent{OperationType: store.ChangeInsert, DocumentID: id, FullDocument: raws[i]})
	}
	return nil
}

// DeleteOne удаляет документ по идентификатору
func (c *Collection) DeleteOne(ctx context.Context, id uuid.UUID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.db.mu.Lock()
	data := c.db.data(c.name, false)
	if data == nil {
		c.db.mu.Unlock()
		return 0, nil
	}
	if _, exists := data.docs[id]; !exists {
		c.db.mu.Unlock()
		return 0, nil
	}

	delete(data.docs, id)
	data.removeFromOrder(id)
	watchers := data.snapshotWatchers()
	c.db.mu.Unlock()

	broadcast(watchers, store.ChangeEvent{OperationType: store.ChangeDelete, DocumentID: id})
	return 1, nil
}

// SetField устанавливает поле у документов из ids и возвращает количество найденных документов
func (c *Collection) SetField(ctx context.Context, ids []uuid.UUID, field string, value interface{}) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	path := strings.Split(field, ".")

	c.db.mu.Lock()
	data := c.db.data(c.name, false)
	if data == nil {
		c.db.mu.Unlock()
		return 0, nil
	}

	var matched int64
	var events []store.ChangeEvent
	for _, id := range uniqueIDs(ids) {
		raw, ok := data.docs[id]
		if !ok {
			continue
		}
		matched++

		doc, err := toD(raw)
		if err != nil {
			c.db.mu.Unlock()
			return matched, err
		}
		doc, err = setPath(doc, path, value)
		if err != nil {
			c.db.mu.Unlock()
			return matched, err
		}
		updated, err := store.Marshal(doc)
		if err != nil {
			c.db.mu.Unlock()
			return matched, err
		}
		data.docs[id] = updated
		events = append(events, store.ChangeEvent{
			OperationType: store.ChangeUpdate,
			DocumentID:    id,
			FullDocument:  updated,
			UpdatedFields: bson.M{field: value},
		})
	}
	watchers := data.snapshotWatchers()
	c.db.mu.Unlock()

	for _, event := range events {
		broadcast(watchers, event)
	}
	return matched, nil
}

// RenameField переименовывает поле во всех документах, где оно присутствует
func (c *Collection) RenameField(ctx context.Context, oldField, newField string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	oldPath := strings.Split(oldField, ".")
	newPath := strings.Split(newField, ".")

	c.db.mu.Lock()
	data := c.db.data(c.name, false)
	if data == nil {
		c.db.mu.Unlock()
		return 0, nil
	}

	var modified int64
	var events []store.ChangeEvent
	for _, id := range data.order {
		raw := data.docs[id]
		value, err := raw.LookupErr(oldPath...)
		if err != nil {
			continue
		}

		doc, err := toD(raw)
		if err != nil {
			c.db.mu.Unlock()
			return modified, err
		}
		doc = unsetPath(doc, oldPath)
		doc, err = setPath(doc, newPath, value)
		if err != nil {
			c.db.mu.Unlock()
			return modified, err
		}
		updated, err := store.Marshal(doc)
		if err != nil {
			c.db.mu.Unlock()
			return modified, err
		}
		data.docs[id] = updated
		modified++
		events = append(events, store.ChangeEvent{
			OperationType: store.ChangeUpdate,
			DocumentID:    id,
			FullDocument:  updated,
			UpdatedFields: bson.M{newField: value},
			RemovedFields: []string{oldField},
		})
	}
	watchers := data.snapshotWatchers()
	c.db.mu.Unlock()

	for _, event := range events {
		broadcast(watchers, event)
	}
	return modified, nil
}

// Drop удаляет коллекцию вместе с индексами. Подписчики получают drop и invalidate.
func (c *Collection) Drop(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.db.mu.Lock()
	data := c.db.data(c.name, false)
	delete(c.db.collections, c.name)
	var watchers []*watcher
	if data != nil {
		watchers = data.watchers
		data.watchers = nil
	}
	c.db.mu.Unlock()

	broadcast(watchers, store.ChangeEvent{OperationType: store.ChangeDrop})
	broadcast(watchers, store.ChangeEvent{OperationType: store.ChangeInvalidate})
	for _, w := range watchers {
		w.stop()
	}
	return nil
}

func (d *collectionData) removeFromOrder(id uuid.UUID) {
	for i, existing := range d.order {
		if existing == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			return
		}
	}
}

func (d *collectionData) snapshotWatchers() []*watcher {
	if len(d.watchers) == 0 {
		return nil
	}
	return append([]*watcher(nil), d.watchers...)
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	result := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}

// cursor курсор по снимку документов
type cursor struct {
	docs   []bson.Raw
	pos    int
	err    error
	closed bool
}

func (c *cursor) Next(ctx context.Context) bool {
	if c.closed || c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if c.pos+1 >= len(c.docs) {
		return false
	}
	c.pos++
	return true
}

func (c *cursor) Current() bson.Raw {
	if c.pos < 0 || c.pos >= len(c.docs) {
		return nil
	}
	return c.docs[c.pos]
}

func (c *cursor) Err() error {
	return c.err
}

func (c *cursor) Close(ctx context.Context) error {
	c.closed = true
	c.docs = nil
	return nil
}
