package inmemory

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/akriventsev/readmodel/framework/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// compiledCondition условие с заранее закодированным значением
type compiledCondition struct {
	path     []string
	operator store.QueryOperator
	value    bson.RawValue
	values   []bson.RawValue
	exists   bool
	pattern  *regexp.Regexp
}

func compile(q store.Query) ([]compiledCondition, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	conditions := make([]compiledCondition, 0, len(q.Conditions))
	for _, c := range q.Conditions {
		cc := compiledCondition{path: strings.Split(c.Field, "."), operator: c.Operator}
		switch c.Operator {
		case store.In, store.NotIn:
			items, _ := store.ToInterfaceSlice(c.Value)
			for _, item := range items {
				v, err := store.EncodeValue(item)
				if err != nil {
					return nil, fmt.Errorf("failed to encode %s value: %w", c.Field, err)
				}
				cc.values = append(cc.values, v)
			}
		case store.Exists:
			cc.exists = c.Value.(bool)
		case store.Like:
			re, err := regexp.Compile("(?i)" + c.Value.(string))
			if err != nil {
				return nil, fmt.Errorf("invalid pattern for %s: %w", c.Field, err)
			}
			cc.pattern = re
		default:
			v, err := store.EncodeValue(c.Value)
			if err != nil {
				return nil, fmt.Errorf("failed to encode %s value: %w", c.Field, err)
			}
			cc.value = v
		}
		conditions = append(conditions, cc)
	}
	return conditions, nil
}

func matches(doc bson.Raw, conditions []compiledCondition) bool {
	for _, c := range conditions {
		if !c.match(doc) {
			return false
		}
	}
	return true
}

func (c compiledCondition) match(doc bson.Raw) bool {
	actual, err := doc.LookupErr(c.path...)
	found := err == nil

	switch c.operator {
	case store.Exists:
		return found == c.exists
	case store.Eq:
		return equalsAny(actual, found, []bson.RawValue{c.value})
	case store.NotEq:
		return !equalsAny(actual, found, []bson.RawValue{c.value})
	case store.In:
		return equalsAny(actual, found, c.values)
	case store.NotIn:
		return !equalsAny(actual, found, c.values)
	case store.Like:
		if !found {
			return false
		}
		s, ok := actual.StringValueOK()
		return ok && c.pattern.MatchString(s)
	case store.Gt, store.Gte, store.Lt, store.Lte:
		if !found {
			return false
		}
		return anyElement(actual, func(v bson.RawValue) bool {
			cmp, ok := compareSameKind(v, c.value)
			if !ok {
				return false
			}
			switch c.operator {
			case store.Gt:
				return cmp > 0
			case store.Gte:
				return cmp >= 0
			case store.Lt:
				return cmp < 0
			default:
				return cmp <= 0
			}
		})
	}
	return false
}

// equalsAny сравнивает значение поля с кандидатами. Отсутствующее поле равно null,
// массив совпадает, если совпадает он сам или любой его элемент.
func equalsAny(actual bson.RawValue, found bool, candidates []bson.RawValue) bool {
	for _, candidate := range candidates {
		if !found {
			if candidate.Type == bsontype.Null {
				return true
			}
			continue
		}
		if valuesEqual(actual, candidate) {
			return true
		}
		if actual.Type == bsontype.Array && anyElement(actual, func(v bson.RawValue) bool { return valuesEqual(v, candidate) }) {
			return true
		}
	}
	return false
}

func anyElement(v bson.RawValue, fn func(bson.RawValue) bool) bool {
	if v.Type != bsontype.Array {
		return fn(v)
	}
	values, err := v.Array().Values()
	if err != nil {
		return false
	}
	for _, item := range values {
		if fn(item) {
			return true
		}
	}
	return false
}

func valuesEqual(a, b bson.RawValue) bool {
	if cmp, ok := compareSameKind(a, b); ok {
		return cmp == 0
	}
	return false
}

// typeRank порядок сравнения разных BSON типов
func typeRank(t bsontype.Type) int {
	switch t {
	case bsontype.Null, bsontype.Undefined:
		return 1
	case bsontype.Int32, bsontype.Int64, bsontype.Double, bsontype.Decimal128:
		return 2
	case bsontype.String, bsontype.Symbol:
		return 3
	case bsontype.EmbeddedDocument:
		return 4
	case bsontype.Array:
		return 5
	case bsontype.Binary:
		return 6
	case bsontype.ObjectID:
		return 7
	case bsontype.Boolean:
		return 8
	case bsontype.DateTime:
		return 9
	case bsontype.Timestamp:
		return 10
	default:
		return 11
	}
}

func isNumber(t bsontype.Type) bool {
	return t == bsontype.Int32 || t == bsontype.Int64 || t == bsontype.Double
}

func numberOf(v bson.RawValue) float64 {
	switch v.Type {
	case bsontype.Int32:
		return float64(v.Int32())
	case bsontype.Int64:
		return float64(v.Int64())
	default:
		return v.Double()
	}
}

// compareSameKind сравнивает значения одного класса типов. ok=false, если типы несравнимы.
func compareSameKind(a, b bson.RawValue) (int, bool) {
	if isNumber(a.Type) && isNumber(b.Type) {
		x, y := numberOf(a), numberOf(b)
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
	if a.Type != b.Type {
		return 0, false
	}

	switch a.Type {
	case bsontype.String:
		return strings.Compare(a.StringValue(), b.StringValue()), true
	case bsontype.Boolean:
		x, y := a.Boolean(), b.Boolean()
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	case bsontype.DateTime:
		return compareInt64(a.DateTime(), b.DateTime()), true
	case bsontype.Binary:
		sa, da := a.Binary()
		sb, db := b.Binary()
		if sa != sb {
			return compareInt64(int64(sa), int64(sb)), true
		}
		if len(da) != len(db) {
			return compareInt64(int64(len(da)), int64(len(db))), true
		}
		return bytes.Compare(da, db), true
	case bsontype.ObjectID:
		x, y := a.ObjectID(), b.ObjectID()
		return bytes.Compare(x[:], y[:]), true
	case bsontype.Null, bsontype.Undefined:
		return 0, true
	default:
		return bytes.Compare(a.Value, b.Value), true
	}
}

func compareInt64(x, y int64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// compareForSort полный порядок для сортировки: отсутствующее поле меньше любого значения
func compareForSort(a bson.RawValue, aFound bool, b bson.RawValue, bFound bool) int {
	rank := func(v bson.RawValue, found bool) int {
		if !found {
			return 0
		}
		return typeRank(v.Type)
	}
	ra, rb := rank(a, aFound), rank(b, bFound)
	if ra != rb {
		return compareInt64(int64(ra), int64(rb))
	}
	if ra == 0 {
		return 0
	}
	cmp, _ := compareSameKind(a, b)
	return cmp
}

func sortDocuments(docs []bson.Raw, fields []store.SortField) {
	if len(fields) == 0 {
		return
	}
	paths := make([][]string, len(fields))
	for i, f := range fields {
		paths[i] = strings.Split(f.Field, ".")
	}

	sort.SliceStable(docs, func(i, j int) bool {
		for k, f := range fields {
			a, errA := docs[i].LookupErr(paths[k]...)
			b, errB := docs[j].LookupErr(paths[k]...)
			cmp := compareForSort(a, errA == nil, b, errB == nil)
			if cmp == 0 {
				continue
			}
			if f.Order == store.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}
