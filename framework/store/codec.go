package store

import (
	"fmt"
	"reflect"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

var (
	tUUID = reflect.TypeOf(uuid.UUID{})

	registry = newRegistry()
)

// DefaultRegistry возвращает BSON реестр, общий для всех адаптеров и декодирования документов.
// uuid.UUID кодируется как binary subtype 4.
func DefaultRegistry() *bsoncodec.Registry {
	return registry
}

func newRegistry() *bsoncodec.Registry {
	reg := bson.NewRegistry()
	reg.RegisterTypeEncoder(tUUID, bsoncodec.ValueEncoderFunc(uuidEncodeValue))
	reg.RegisterTypeDecoder(tUUID, bsoncodec.ValueDecoderFunc(uuidDecodeValue))
	return reg
}

func uuidEncodeValue(_ bsoncodec.EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	if !val.IsValid() || val.Type() != tUUID {
		return bsoncodec.ValueEncoderError{Name: "UUIDEncodeValue", Types: []reflect.Type{tUUID}, Received: val}
	}
	id := val.Interface().(uuid.UUID)
	return vw.WriteBinaryWithSubtype(id[:], bsontype.BinaryUUID)
}

// uuidDecodeValue принимает binary subtype 4 и legacy subtype 3, а также строковое представление
func uuidDecodeValue(_ bsoncodec.DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	if !val.CanSet() || val.Type() != tUUID {
		return bsoncodec.ValueDecoderError{Name: "UUIDDecodeValue", Types: []reflect.Type{tUUID}, Received: val}
	}

	var id uuid.UUID
	switch vr.Type() {
	case bsontype.Binary:
		data, subtype, err := vr.ReadBinary()
		if err != nil {
			return err
		}
		if subtype != bsontype.BinaryUUID && subtype != bsontype.BinaryUUIDOld {
			return fmt.Errorf("cannot decode binary subtype %#x into uuid.UUID", subtype)
		}
		id, err = uuid.FromBytes(data)
		if err != nil {
			return fmt.Errorf("invalid uuid bytes: %w", err)
		}
	case bsontype.String:
		s, err := vr.ReadString()
		if err != nil {
			return err
		}
		id, err = uuid.Parse(s)
		if err != nil {
			return fmt.Errorf("invalid uuid string %q: %w", s, err)
		}
	case bsontype.Null:
		if err := vr.ReadNull(); err != nil {
			return err
		}
	case bsontype.Undefined:
		if err := vr.ReadUndefined(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("cannot decode %v into uuid.UUID", vr.Type())
	}

	val.Set(reflect.ValueOf(id))
	return nil
}

// Marshal кодирует значение в BSON документ через DefaultRegistry
func Marshal(v interface{}) (bson.Raw, error) {
	if raw, ok := v.(bson.Raw); ok {
		return raw, nil
	}
	data, err := bson.MarshalWithRegistry(registry, v)
	if err != nil {
		return nil, err
	}
	return bson.Raw(data), nil
}

// Unmarshal декодирует BSON документ в v через DefaultRegistry
func Unmarshal(raw bson.Raw, v interface{}) error {
	return bson.UnmarshalWithRegistry(registry, raw, v)
}

// EncodeValue кодирует одиночное значение в bson.RawValue
func EncodeValue(v interface{}) (bson.RawValue, error) {
	doc, err := Marshal(bson.D{{Key: "v", Value: v}})
	if err != nil {
		return bson.RawValue{}, err
	}
	return doc.Lookup("v"), nil
}

// EncodeDocument кодирует документ с ключом id. Если в документе нет _id, он добавляется первым полем.
// Документ с _id, отличным от id, отклоняется.
func EncodeDocument(id uuid.UUID, doc interface{}) (bson.Raw, error) {
	raw, err := Marshal(doc)
	if err != nil {
		return nil, err
	}

	expected, err := EncodeValue(id)
	if err != nil {
		return nil, err
	}

	actual, err := raw.LookupErr(IDField)
	if err != nil {
		var d bson.D
		if err := Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return Marshal(append(bson.D{{Key: IDField, Value: id}}, d...))
	}

	if !actual.Equal(expected) {
		return nil, fmt.Errorf("document _id %s does not match identity %s", actual, id)
	}
	return raw, nil
}

// DocumentID извлекает UUID ключ из документа
func DocumentID(raw bson.Raw) (uuid.UUID, error) {
	value, err := raw.LookupErr(IDField)
	if err != nil {
		return uuid.Nil, fmt.Errorf("document has no %s field", IDField)
	}
	var holder struct {
		ID uuid.UUID `bson:"_id"`
	}
	if err := Unmarshal(raw, &holder); err != nil {
		return uuid.Nil, fmt.Errorf("document %s is not a uuid: %w", value, err)
	}
	return holder.ID, nil
}
