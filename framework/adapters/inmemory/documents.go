package inmemory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/akriventsev/readmodel/framework/core"
	"github.com/akriventsev/readmodel/framework/store"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
)

func toD(raw bson.Raw) (bson.D, error) {
	var doc bson.D
	if err := store.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode stored document: %w", err)
	}
	return doc, nil
}

// setPath устанавливает значение по пути "a.b.c", создавая промежуточные документы
func setPath(doc bson.D, path []string, value interface{}) (bson.D, error) {
	key := path[0]
	for i := range doc {
		if doc[i].Key != key {
			continue
		}
		if len(path) == 1 {
			doc[i].Value = value
			return doc, nil
		}
		nested, ok := doc[i].Value.(bson.D)
		if !ok {
			return nil, fmt.Errorf("cannot create field %q in element %q of type %T", path[1], key, doc[i].Value)
		}
		nested, err := setPath(nested, path[1:], value)
		if err != nil {
			return nil, err
		}
		doc[i].Value = nested
		return doc, nil
	}

	if len(path) == 1 {
		return append(doc, bson.E{Key: key, Value: value}), nil
	}
	nested, err := setPath(bson.D{}, path[1:], value)
	if err != nil {
		return nil, err
	}
	return append(doc, bson.E{Key: key, Value: nested}), nil
}

// unsetPath удаляет поле по пути, если оно есть
func unsetPath(doc bson.D, path []string) bson.D {
	key := path[0]
	for i := range doc {
		if doc[i].Key != key {
			continue
		}
		if len(path) == 1 {
			return append(doc[:i], doc[i+1:]...)
		}
		if nested, ok := doc[i].Value.(bson.D); ok {
			doc[i].Value = unsetPath(nested, path[1:])
		}
		return doc
	}
	return doc
}

// CreateIndex запоминает индекс коллекции. Уникальные индексы проверяются при записи.
func (c *Collection) CreateIndex(ctx context.Context, spec store.IndexSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(spec.Fields) == 0 {
		return core.NewError(core.ErrInvalidArgument, "index must have at least one field")
	}
	if spec.Name == "" {
		spec.Name = defaultIndexName(spec)
	}

	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	data := c.db.data(c.name, true)
	if existing, ok := data.indexes[spec.Name]; ok {
		if sameIndex(existing, spec) {
			return nil
		}
		return core.NewError(core.ErrAlreadyExists, fmt.Sprintf("index %s already exists with different options", spec.Name))
	}

	if spec.Unique {
		seen := make(map[string]uuid.UUID)
		for _, id := range data.order {
			key, ok := indexKey(spec, data.docs[id])
			if !ok {
				continue
			}
			if other, dup := seen[key]; dup {
				return core.NewError(core.ErrAlreadyExists,
					fmt.Sprintf("cannot build unique index %s: documents %s and %s share a key", spec.Name, other, id))
			}
			seen[key] = id
		}
	}

	data.indexes[spec.Name] = spec
	return nil
}

// DropIndex удаляет индекс по имени
func (c *Collection) DropIndex(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	data := c.db.data(c.name, false)
	if data == nil {
		return core.NewError(core.ErrNotFound, fmt.Sprintf("index not found: %s", name))
	}
	if _, ok := data.indexes[name]; !ok {
		return core.NewError(core.ErrNotFound, fmt.Sprintf("index not found: %s", name))
	}
	delete(data.indexes, name)
	return nil
}

// ListIndexes возвращает индексы коллекции, включая первичный _id_
func (c *Collection) ListIndexes(ctx context.Context) ([]store.IndexInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()

	data := c.db.data(c.name, false)
	if data == nil {
		return nil, nil
	}

	indexes := []store.IndexInfo{{Name: "_id_", Fields: []string{store.IDField}, Unique: true}}
	names := make([]string, 0, len(data.indexes))
	for name := range data.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec := data.indexes[name]
		indexes = append(indexes, store.IndexInfo{Name: spec.Name, Fields: spec.Fields, Unique: spec.Unique})
	}
	return indexes, nil
}

func defaultIndexName(spec store.IndexSpec) string {
	suffix := "1"
	switch spec.Type {
	case store.IndexTypeDescending:
		suffix = "-1"
	case store.IndexTypeText:
		suffix = "text"
	case store.IndexTypeHashed:
		suffix = "hashed"
	}
	parts := make([]string, len(spec.Fields))
	for i, f := range spec.Fields {
		parts[i] = f + "_" + suffix
	}
	return strings.Join(parts, "_")
}

func sameIndex(a, b store.IndexSpec) bool {
	if a.Unique != b.Unique || a.Sparse != b.Sparse || a.Type != b.Type || len(a.Fields) != len(b.Fields) {
		return false
	}
	for i := range a.Fields {
		if a.Fields[i] != b.Fields[i] {
			return false
		}
	}
	return true
}

// indexKey строит ключ документа для индекса. ok=false, если sparse индекс не покрывает документ.
func indexKey(spec store.IndexSpec, doc bson.Raw) (string, bool) {
	var buf bytes.Buffer
	present := 0
	for _, field := range spec.Fields {
		value, err := doc.LookupErr(strings.Split(field, ".")...)
		if err != nil {
			buf.WriteString("\x00missing\x00")
			continue
		}
		present++
		buf.WriteByte(byte(value.Type))
		buf.Write(value.Value)
		buf.WriteByte(0)
	}
	if spec.Sparse && present == 0 {
		return "", false
	}
	return buf.String(), true
}

// checkUnique проверяет уникальные индексы для документа id. Вызывается под мьютексом базы.
func checkUnique(data *collectionData, id uuid.UUID, doc bson.Raw) error {
	for _, spec := range data.indexes {
		if !spec.Unique {
			continue
		}
		key, ok := indexKey(spec, doc)
		if !ok {
			continue
		}
		for otherID, other := range data.docs {
			if otherID == id {
				continue
			}
			if otherKey, ok := indexKey(spec, other); ok && otherKey == key {
				return core.NewError(core.ErrAlreadyExists,
					fmt.Sprintf("duplicate key for unique index %s: conflicts with %s", spec.Name, otherID))
			}
		}
	}
	return nil
}
