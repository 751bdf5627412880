package testing

import (
	"context"
	"errors"
	"testing"

	"github.com/akriventsev/readmodel/framework/retry"
	"github.com/akriventsev/readmodel/framework/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestTransientFault_IsTransient(t *testing.T) {
	assert.True(t, retry.IsTransient(TransientFault()))
}

func TestFaultyProvider_FailNext(t *testing.T) {
	env := NewInMemoryTestEnvironment(t)
	ctx := context.Background()
	fault := errors.New("boom")
	env.Faults.FailNext(OpUpsert, 2, fault)

	db, err := env.Provider().Database(ctx)
	require.NoError(t, err)
	coll := db.Collection("views")
	id := uuid.New()

	assert.ErrorIs(t, coll.Upsert(ctx, id, bson.M{"_id": id}), fault)
	assert.ErrorIs(t, coll.Upsert(ctx, id, bson.M{"_id": id}), fault)
	require.NoError(t, coll.Upsert(ctx, id, bson.M{"_id": id}))
	assert.Equal(t, 3, env.Faults.Calls(OpUpsert))

	// Документ записан в нижележащее хранилище
	_, err = env.Collection(t, "views").FindOne(ctx, id)
	assert.NoError(t, err)
}

func TestFaultyProvider_FailAlwaysAndReset(t *testing.T) {
	env := NewInMemoryTestEnvironment(t)
	ctx := context.Background()
	env.Faults.FailAlways(OpDatabase, TransientFault())

	for i := 0; i < 3; i++ {
		_, err := env.Provider().Database(ctx)
		assert.Error(t, err)
	}
	assert.Equal(t, 3, env.Faults.Calls(OpDatabase))

	env.Faults.Reset()
	_, err := env.Provider().Database(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, env.Faults.Calls(OpDatabase))
}

func TestFaultyProvider_DropCollectionGoesThroughFaults(t *testing.T) {
	env := NewInMemoryTestEnvironment(t)
	ctx := context.Background()
	env.Faults.FailNext(OpDrop, 1, TransientFault())

	db, err := env.Provider().Database(ctx)
	require.NoError(t, err)

	assert.Error(t, db.DropCollection(ctx, "views"))
	assert.NoError(t, db.DropCollection(ctx, "views"))

	count, err := db.Collection("views").Count(ctx, store.All())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestFaultyProvider_IndexAndWatchPassthrough(t *testing.T) {
	env := NewInMemoryTestEnvironment(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := env.Provider().Database(ctx)
	require.NoError(t, err)
	coll := db.Collection("views")

	indexer, ok := coll.(store.Indexer)
	require.True(t, ok)
	env.Faults.FailNext(OpCreateIndex, 1, TransientFault())

	assert.Error(t, indexer.CreateIndex(ctx, store.IndexSpec{Name: "title", Fields: []string{"title"}}))
	require.NoError(t, indexer.CreateIndex(ctx, store.IndexSpec{Name: "title", Fields: []string{"title"}}))
	assert.Equal(t, 2, env.Faults.Calls(OpCreateIndex))

	indexes, err := indexer.ListIndexes(ctx)
	require.NoError(t, err)
	assert.Len(t, indexes, 2)
	require.NoError(t, indexer.DropIndex(ctx, "title"))

	watcher, ok := coll.(store.Watcher)
	require.True(t, ok)
	events, err := watcher.Watch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, env.Faults.Calls(OpWatch))

	id := uuid.New()
	require.NoError(t, coll.Upsert(ctx, id, bson.M{"_id": id}))
	event := <-events
	assert.Equal(t, store.ChangeInsert, event.OperationType)
	assert.Equal(t, id, event.DocumentID)
}
