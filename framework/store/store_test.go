package store

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type summary struct {
	ID    uuid.UUID `bson:"_id"`
	Owner uuid.UUID `bson:"owner"`
	Name  string    `bson:"name"`
}

func TestCodec_UUIDIsStandardBinary(t *testing.T) {
	id := uuid.New()

	raw, err := Marshal(summary{ID: id, Name: "a"})
	require.NoError(t, err)

	value := raw.Lookup(IDField)
	subtype, data := value.Binary()
	assert.Equal(t, bsontype.Binary, value.Type)
	assert.Equal(t, bsontype.BinaryUUID, subtype)
	assert.Equal(t, id[:], data)
}

func TestCodec_RoundTrip(t *testing.T) {
	original := summary{ID: uuid.New(), Owner: uuid.New(), Name: "round-trip"}

	raw, err := Marshal(original)
	require.NoError(t, err)

	var decoded summary
	require.NoError(t, Unmarshal(raw, &decoded))
	assert.Equal(t, original, decoded)
}

func TestCodec_DecodeLegacyForms(t *testing.T) {
	id := uuid.New()

	legacy, err := bson.Marshal(bson.D{
		{Key: "_id", Value: primitive.Binary{Subtype: bsontype.BinaryUUIDOld, Data: id[:]}},
		{Key: "owner", Value: id.String()},
	})
	require.NoError(t, err)

	var decoded summary
	require.NoError(t, Unmarshal(legacy, &decoded))
	assert.Equal(t, id, decoded.ID)
	assert.Equal(t, id, decoded.Owner)
}

func TestCodec_DecodeRejectsForeignBinary(t *testing.T) {
	doc, err := bson.Marshal(bson.D{
		{Key: "_id", Value: primitive.Binary{Subtype: bsontype.BinaryGeneric, Data: []byte{1, 2, 3}}},
	})
	require.NoError(t, err)

	var decoded summary
	assert.Error(t, Unmarshal(doc, &decoded))
}

func TestEncodeDocument(t *testing.T) {
	id := uuid.New()

	t.Run("keeps matching id", func(t *testing.T) {
		raw, err := EncodeDocument(id, summary{ID: id, Name: "x"})
		require.NoError(t, err)

		got, err := DocumentID(raw)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	})

	t.Run("adds missing id first", func(t *testing.T) {
		raw, err := EncodeDocument(id, bson.M{"name": "x"})
		require.NoError(t, err)

		elems, err := raw.Elements()
		require.NoError(t, err)
		assert.Equal(t, IDField, elems[0].Key())

		got, err := DocumentID(raw)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	})

	t.Run("rejects mismatched id", func(t *testing.T) {
		_, err := EncodeDocument(id, summary{ID: uuid.New()})
		assert.Error(t, err)
	})
}

func TestDocumentID_Missing(t *testing.T) {
	raw, err := Marshal(bson.M{"name": "x"})
	require.NoError(t, err)

	_, err = DocumentID(raw)
	assert.Error(t, err)
}

func TestQuery_Filter(t *testing.T) {
	q := Query{Conditions: []Condition{
		{Field: "name", Operator: Eq, Value: "a"},
		{Field: "total", Operator: Gte, Value: 10},
		{Field: "tags", Operator: In, Value: []string{"x", "y"}},
		{Field: "deleted", Operator: Exists, Value: false},
		{Field: "title", Operator: Like, Value: "^ab"},
	}}

	filter, err := q.Filter()
	require.NoError(t, err)
	require.Len(t, filter, 5)

	assert.Equal(t, bson.E{Key: "name", Value: bson.D{{Key: "$eq", Value: "a"}}}, filter[0])
	assert.Equal(t, bson.E{Key: "total", Value: bson.D{{Key: "$gte", Value: 10}}}, filter[1])
	assert.Equal(t, bson.E{Key: "tags", Value: bson.D{{Key: "$in", Value: []interface{}{"x", "y"}}}}, filter[2])
	assert.Equal(t, bson.E{Key: "deleted", Value: bson.D{{Key: "$exists", Value: false}}}, filter[3])
	assert.Equal(t, bson.E{Key: "title", Value: bson.D{{Key: "$regex", Value: "^ab"}, {Key: "$options", Value: "i"}}}, filter[4])
}

func TestQuery_SortDocument(t *testing.T) {
	q := Query{Sort: []SortField{{Field: "a", Order: Asc}, {Field: "b", Order: Desc}}}
	assert.Equal(t, bson.D{{Key: "a", Value: 1}, {Key: "b", Value: -1}}, q.SortDocument())
}

func TestQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   Query
		wantErr bool
	}{
		{"empty query", All(), false},
		{"by ids", ByIDs([]uuid.UUID{uuid.New()}), false},
		{"empty field", Query{Conditions: []Condition{{Operator: Eq, Value: 1}}}, true},
		{"unknown operator", Query{Conditions: []Condition{{Field: "a", Operator: "~", Value: 1}}}, true},
		{"in requires slice", Query{Conditions: []Condition{{Field: "a", Operator: In, Value: 1}}}, true},
		{"exists requires bool", Query{Conditions: []Condition{{Field: "a", Operator: Exists, Value: "yes"}}}, true},
		{"like requires string", Query{Conditions: []Condition{{Field: "a", Operator: Like, Value: 1}}}, true},
		{"negative limit", Query{Limit: -1}, true},
		{"empty sort field", Query{Sort: []SortField{{Order: Asc}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestToInterfaceSlice(t *testing.T) {
	values, err := ToInterfaceSlice([]int{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{1, 2, 3}, values)

	_, err = ToInterfaceSlice(nil)
	assert.Error(t, err)

	_, err = ToInterfaceSlice("abc")
	assert.Error(t, err)
}
