package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/akriventsev/readmodel/framework/core"
	"github.com/akriventsev/readmodel/framework/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

// testView документ для тестирования
type testView struct {
	ID      uuid.UUID `bson:"_id"`
	Name    string    `bson:"name"`
	Total   int       `bson:"total"`
	Address *address  `bson:"address,omitempty"`
}

type address struct {
	City string `bson:"city"`
}

func newCollection(t *testing.T, config Config) store.Collection {
	t.Helper()
	db, err := NewProvider(config).Database(context.Background())
	require.NoError(t, err)
	return db.Collection("views")
}

func decode(t *testing.T, raw bson.Raw) testView {
	t.Helper()
	var v testView
	require.NoError(t, store.Unmarshal(raw, &v))
	return v
}

func drain(t *testing.T, cur store.Cursor) []testView {
	t.Helper()
	ctx := context.Background()
	defer cur.Close(ctx)
	var result []testView
	for cur.Next(ctx) {
		result = append(result, decode(t, cur.Current()))
	}
	require.NoError(t, cur.Err())
	return result
}

func TestCollection_UpsertAndFindOne(t *testing.T) {
	coll := newCollection(t, DefaultConfig())
	ctx := context.Background()

	view := testView{ID: uuid.New(), Name: "first", Total: 1}
	require.NoError(t, coll.Upsert(ctx, view.ID, view))

	raw, err := coll.FindOne(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, view, decode(t, raw))

	// Повторное сохранение заменяет документ целиком
	view.Name = "second"
	require.NoError(t, coll.Upsert(ctx, view.ID, view))

	count, err := coll.Count(ctx, store.All())
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	raw, err = coll.FindOne(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", decode(t, raw).Name)
}

func TestCollection_FindOneNotFound(t *testing.T) {
	coll := newCollection(t, DefaultConfig())

	_, err := coll.FindOne(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrDocumentNotFound)
}

func TestCollection_UpsertRejectsMismatchedID(t *testing.T) {
	coll := newCollection(t, DefaultConfig())

	err := coll.Upsert(context.Background(), uuid.New(), testView{ID: uuid.New()})
	assert.True(t, core.HasCode(err, core.ErrInvalidArgument))
}

func TestCollection_InsertManyIsAtomic(t *testing.T) {
	coll := newCollection(t, DefaultConfig())
	ctx := context.Background()

	existing := testView{ID: uuid.New(), Name: "existing"}
	require.NoError(t, coll.Upsert(ctx, existing.ID, existing))

	err := coll.InsertMany(ctx, []interface{}{
		testView{ID: uuid.New(), Name: "new"},
		existing,
	})
	assert.True(t, core.HasCode(err, core.ErrAlreadyExists))

	count, err := coll.Count(ctx, store.All())
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestCollection_InsertManyPreservesOrder(t *testing.T) {
	coll := newCollection(t, DefaultConfig())
	ctx := context.Background()

	docs := make([]interface{}, 0, 5)
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		v := testView{ID: uuid.New(), Total: i}
		docs = append(docs, v)
		ids = append(ids, v.ID)
	}
	require.NoError(t, coll.InsertMany(ctx, docs))

	cur, err := coll.Find(ctx, store.All())
	require.NoError(t, err)
	got := drain(t, cur)
	require.Len(t, got, 5)
	for i, v := range got {
		assert.Equal(t, ids[i], v.ID)
	}
}

func TestCollection_InsertManyDuplicateInBatch(t *testing.T) {
	coll := newCollection(t, DefaultConfig())
	v := testView{ID: uuid.New()}

	err := coll.InsertMany(context.Background(), []interface{}{v, v})
	assert.True(t, core.HasCode(err, core.ErrAlreadyExists))
}

func TestCollection_DeleteOne(t *testing.T) {
	coll := newCollection(t, DefaultConfig())
	ctx := context.Background()

	v := testView{ID: uuid.New()}
	require.NoError(t, coll.Upsert(ctx, v.ID, v))

	deleted, err := coll.DeleteOne(ctx, v.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	_, err = coll.FindOne(ctx, v.ID)
	assert.ErrorIs(t, err, store.ErrDocumentNotFound)

	// Удаление отсутствующего документа не ошибка
	deleted, err = coll.DeleteOne(ctx, v.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, deleted)
}

func TestCollection_SetField(t *testing.T) {
	coll := newCollection(t, DefaultConfig())
	ctx := context.Background()

	a := testView{ID: uuid.New(), Name: "a"}
	b := testView{ID: uuid.New(), Name: "b"}
	c := testView{ID: uuid.New(), Name: "c"}
	require.NoError(t, coll.InsertMany(ctx, []interface{}{a, b, c}))

	matched, err := coll.SetField(ctx, []uuid.UUID{a.ID, b.ID, a.ID, uuid.New()}, "total", 42)
	require.NoError(t, err)
	assert.EqualValues(t, 2, matched)

	count, err := coll.Count(ctx, store.Query{Conditions: []store.Condition{{Field: "total", Operator: store.Eq, Value: 42}}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	matched, err = coll.SetField(ctx, []uuid.UUID{c.ID}, "address.city", "Perm")
	require.NoError(t, err)
	assert.EqualValues(t, 1, matched)

	raw, err := coll.FindOne(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, decode(t, raw).Address)
	assert.Equal(t, "Perm", decode(t, raw).Address.City)
}

func TestCollection_RenameField(t *testing.T) {
	coll := newCollection(t, DefaultConfig())
	ctx := context.Background()

	withField := bson.D{{Key: "_id", Value: uuid.New()}, {Key: "title", Value: "x"}}
	alsoWithField := bson.D{{Key: "_id", Value: uuid.New()}, {Key: "title", Value: "y"}, {Key: "name", Value: "old"}}
	withoutField := bson.D{{Key: "_id", Value: uuid.New()}, {Key: "other", Value: 1}}
	require.NoError(t, coll.InsertMany(ctx, []interface{}{withField, alsoWithField, withoutField}))

	modified, err := coll.RenameField(ctx, "title", "name")
	require.NoError(t, err)
	assert.EqualValues(t, 2, modified)

	withTitle, err := coll.Count(ctx, store.Query{Conditions: []store.Condition{{Field: "title", Operator: store.Exists, Value: true}}})
	require.NoError(t, err)
	assert.EqualValues(t, 0, withTitle)

	// Существующее целевое поле перезаписывается
	renamed, err := coll.Count(ctx, store.Query{Conditions: []store.Condition{{Field: "name", Operator: store.In, Value: []string{"x", "y"}}}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, renamed)

	// Документ без поля не затронут
	untouched, err := coll.Count(ctx, store.Query{Conditions: []store.Condition{{Field: "other", Operator: store.Eq, Value: 1}}})
	require.NoError(t, err)
	assert.EqualValues(t, 1, untouched)

	modified, err = coll.RenameField(ctx, "title", "name")
	require.NoError(t, err)
	assert.EqualValues(t, 0, modified)
}

func TestCollection_RenameNestedField(t *testing.T) {
	coll := newCollection(t, DefaultConfig())
	ctx := context.Background()

	v := testView{ID: uuid.New(), Address: &address{City: "Kazan"}}
	require.NoError(t, coll.Upsert(ctx, v.ID, v))

	modified, err := coll.RenameField(ctx, "address.city", "town")
	require.NoError(t, err)
	assert.EqualValues(t, 1, modified)

	raw, err := coll.FindOne(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "Kazan", raw.Lookup("town").StringValue())
	_, err = raw.LookupErr("address", "city")
	assert.Error(t, err)
}

func TestCollection_Queries(t *testing.T) {
	coll := newCollection(t, DefaultConfig())
	ctx := context.Background()

	views := []testView{
		{ID: uuid.New(), Name: "Alpha", Total: 10},
		{ID: uuid.New(), Name: "beta", Total: 20},
		{ID: uuid.New(), Name: "Gamma", Total: 30, Address: &address{City: "Omsk"}},
	}
	for _, v := range views {
		require.NoError(t, coll.Upsert(ctx, v.ID, v))
	}

	tests := []struct {
		name       string
		conditions []store.Condition
		want       []string
	}{
		{"eq", []store.Condition{{Field: "name", Operator: store.Eq, Value: "beta"}}, []string{"beta"}},
		{"not eq", []store.Condition{{Field: "name", Operator: store.NotEq, Value: "beta"}}, []string{"Alpha", "Gamma"}},
		{"gt int vs int64", []store.Condition{{Field: "total", Operator: store.Gt, Value: int64(15)}}, []string{"beta", "Gamma"}},
		{"lte float", []store.Condition{{Field: "total", Operator: store.Lte, Value: 20.0}}, []string{"Alpha", "beta"}},
		{"in", []store.Condition{{Field: "total", Operator: store.In, Value: []int{10, 30}}}, []string{"Alpha", "Gamma"}},
		{"not in", []store.Condition{{Field: "total", Operator: store.NotIn, Value: []int{10, 30}}}, []string{"beta"}},
		{"like ignores case", []store.Condition{{Field: "name", Operator: store.Like, Value: "^(alpha|gamma)$"}}, []string{"Alpha", "Gamma"}},
		{"exists", []store.Condition{{Field: "address", Operator: store.Exists, Value: true}}, []string{"Gamma"}},
		{"dotted path", []store.Condition{{Field: "address.city", Operator: store.Eq, Value: "Omsk"}}, []string{"Gamma"}},
		{"id in", []store.Condition{{Field: "_id", Operator: store.In, Value: []uuid.UUID{views[0].ID}}}, []string{"Alpha"}},
		{"and", []store.Condition{
			{Field: "total", Operator: store.Gte, Value: 20},
			{Field: "name", Operator: store.Eq, Value: "beta"},
		}, []string{"beta"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cur, err := coll.Find(ctx, store.Query{Conditions: tt.conditions})
			require.NoError(t, err)

			var names []string
			for _, v := range drain(t, cur) {
				names = append(names, v.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestCollection_SortSkipLimit(t *testing.T) {
	coll := newCollection(t, DefaultConfig())
	ctx := context.Background()

	for _, total := range []int{3, 1, 4, 1, 5} {
		v := testView{ID: uuid.New(), Total: total}
		require.NoError(t, coll.Upsert(ctx, v.ID, v))
	}

	cur, err := coll.Find(ctx, store.Query{
		Sort:  []store.SortField{{Field: "total", Order: store.Desc}},
		Skip:  1,
		Limit: 3,
	})
	require.NoError(t, err)

	var totals []int
	for _, v := range drain(t, cur) {
		totals = append(totals, v.Total)
	}
	assert.Equal(t, []int{4, 3, 1}, totals)
}

func TestCollection_InvalidQuery(t *testing.T) {
	coll := newCollection(t, DefaultConfig())

	_, err := coll.Find(context.Background(), store.Query{Conditions: []store.Condition{{Field: "a", Operator: store.Like, Value: "("}}})
	assert.True(t, core.HasCode(err, core.ErrInvalidArgument))
}

func TestCollection_Drop(t *testing.T) {
	provider := NewProvider(DefaultConfig())
	ctx := context.Background()
	db, err := provider.Database(ctx)
	require.NoError(t, err)

	coll := db.Collection("views")
	v := testView{ID: uuid.New()}
	require.NoError(t, coll.Upsert(ctx, v.ID, v))

	names, err := db.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"views"}, names)

	require.NoError(t, db.DropCollection(ctx, "views"))

	count, err := coll.Count(ctx, store.All())
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)

	names, err = db.ListCollections(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	// Удаление несуществующей коллекции не ошибка
	assert.NoError(t, db.DropCollection(ctx, "missing"))
}

func TestCollection_MaxDocuments(t *testing.T) {
	coll := newCollection(t, Config{MaxDocuments: 1})
	ctx := context.Background()

	first := testView{ID: uuid.New()}
	require.NoError(t, coll.Upsert(ctx, first.ID, first))
	// Замена существующего документа не увеличивает количество
	require.NoError(t, coll.Upsert(ctx, first.ID, first))

	second := testView{ID: uuid.New()}
	assert.Error(t, coll.Upsert(ctx, second.ID, second))
	assert.Error(t, coll.InsertMany(ctx, []interface{}{second}))
}

func TestCollection_Indexes(t *testing.T) {
	coll := newCollection(t, DefaultConfig())
	ctx := context.Background()
	indexer, ok := coll.(store.Indexer)
	require.True(t, ok)

	require.NoError(t, indexer.CreateIndex(ctx, store.IndexSpec{Fields: []string{"name"}, Unique: true}))
	// Повторное создание с теми же параметрами идемпотентно
	require.NoError(t, indexer.CreateIndex(ctx, store.IndexSpec{Fields: []string{"name"}, Unique: true}))

	indexes, err := indexer.ListIndexes(ctx)
	require.NoError(t, err)
	require.Len(t, indexes, 2)
	assert.Equal(t, "_id_", indexes[0].Name)
	assert.Equal(t, "name_1", indexes[1].Name)

	a := testView{ID: uuid.New(), Name: "same"}
	b := testView{ID: uuid.New(), Name: "same"}
	require.NoError(t, coll.Upsert(ctx, a.ID, a))
	err = coll.Upsert(ctx, b.ID, b)
	assert.True(t, core.HasCode(err, core.ErrAlreadyExists))

	require.NoError(t, indexer.DropIndex(ctx, "name_1"))
	assert.NoError(t, coll.Upsert(ctx, b.ID, b))

	err = indexer.DropIndex(ctx, "name_1")
	assert.True(t, core.HasCode(err, core.ErrNotFound))
}

func TestCollection_Watch(t *testing.T) {
	coll := newCollection(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := coll.(store.Watcher).Watch(ctx)
	require.NoError(t, err)

	v := testView{ID: uuid.New(), Name: "watched"}
	require.NoError(t, coll.Upsert(ctx, v.ID, v))
	_, err = coll.SetField(ctx, []uuid.UUID{v.ID}, "total", 7)
	require.NoError(t, err)
	_, err = coll.DeleteOne(ctx, v.ID)
	require.NoError(t, err)

	expected := []store.ChangeOperationType{store.ChangeInsert, store.ChangeUpdate, store.ChangeDelete}
	for _, op := range expected {
		select {
		case event := <-events:
			assert.Equal(t, op, event.OperationType)
			assert.Equal(t, v.ID, event.DocumentID)
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s event", op)
		}
	}

	cancel()
	select {
	case _, open := <-events:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("channel was not closed after cancel")
	}
}

func TestCollection_WatchClosedByDrop(t *testing.T) {
	coll := newCollection(t, DefaultConfig())
	ctx := context.Background()

	events, err := coll.(store.Watcher).Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, coll.Drop(ctx))

	var ops []store.ChangeOperationType
	for event := range events {
		ops = append(ops, event.OperationType)
	}
	assert.Equal(t, []store.ChangeOperationType{store.ChangeDrop, store.ChangeInvalidate}, ops)
}

func TestCollection_WatchLaggingSubscriberDoesNotBlockWriters(t *testing.T) {
	coll := newCollection(t, DefaultConfig())
	ctx := context.Background()

	events, err := coll.(store.Watcher).Watch(ctx)
	require.NoError(t, err)

	const writes = 200
	done := make(chan error, 1)
	go func() {
		for i := 0; i < writes; i++ {
			writeCtx, cancel := context.WithTimeout(ctx, time.Second)
			v := testView{ID: uuid.New(), Total: i}
			err := coll.Upsert(writeCtx, v.ID, v)
			cancel()
			if err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("writers blocked by an unread subscriber")
	}

	var received []store.ChangeEvent
	for event := range events {
		received = append(received, event)
	}
	require.Len(t, received, watcherBuffer+1)
	for _, event := range received[:watcherBuffer] {
		assert.NoError(t, event.Err)
		assert.Equal(t, store.ChangeInsert, event.OperationType)
	}
	assert.ErrorIs(t, received[watcherBuffer].Err, ErrWatcherLagging)

	count, err := coll.Count(ctx, store.All())
	require.NoError(t, err)
	assert.EqualValues(t, writes, count)

	// новый подписчик работает как обычно
	fresh, err := coll.(store.Watcher).Watch(ctx)
	require.NoError(t, err)
	v := testView{ID: uuid.New()}
	require.NoError(t, coll.Upsert(ctx, v.ID, v))
	select {
	case event := <-fresh:
		assert.Equal(t, v.ID, event.DocumentID)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestProvider_Lifecycle(t *testing.T) {
	provider := NewProvider(Config{})
	ctx := context.Background()

	require.NoError(t, provider.Start(ctx))
	assert.True(t, provider.IsRunning())
	assert.Equal(t, "inmemory-store", provider.Name())
	assert.Equal(t, core.ComponentTypeAdapter, provider.Type())
	require.NoError(t, provider.Ping(ctx))

	db, err := provider.Database(ctx)
	require.NoError(t, err)
	assert.Equal(t, "readmodel", db.Name())

	require.NoError(t, provider.Stop(ctx))
	assert.False(t, provider.IsRunning())
	assert.ErrorIs(t, provider.Ping(ctx), ErrProviderClosed)
}

func TestProvider_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewProvider(DefaultConfig()).Database(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
