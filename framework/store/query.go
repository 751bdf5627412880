package store

import (
	"fmt"
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
)

// QueryOperator оператор фильтрации
type QueryOperator string

const (
	Eq     QueryOperator = "="
	NotEq  QueryOperator = "!="
	Gt     QueryOperator = ">"
	Gte    QueryOperator = ">="
	Lt     QueryOperator = "<"
	Lte    QueryOperator = "<="
	In     QueryOperator = "IN"
	NotIn  QueryOperator = "NOT IN"
	Exists QueryOperator = "EXISTS"
	Like   QueryOperator = "LIKE"
)

// SortOrder порядок сортировки
type SortOrder string

const (
	Asc  SortOrder = "ASC"
	Desc SortOrder = "DESC"
)

// Condition условие запроса. Все условия запроса объединяются через AND.
type Condition struct {
	Field    string
	Operator QueryOperator
	Value    interface{}
}

// SortField поле сортировки
type SortField struct {
	Field string
	Order SortOrder
}

// Query запрос к коллекции. Нулевое значение означает "все документы".
type Query struct {
	Conditions []Condition
	Sort       []SortField
	Limit      int64
	Skip       int64
}

// All запрос всех документов
func All() Query {
	return Query{}
}

// ByIDs запрос документов с идентификаторами из ids
func ByIDs(ids interface{}) Query {
	return Query{Conditions: []Condition{{Field: IDField, Operator: In, Value: ids}}}
}

// Validate проверяет корректность запроса
func (q Query) Validate() error {
	for _, c := range q.Conditions {
		if c.Field == "" {
			return fmt.Errorf("condition field cannot be empty")
		}
		switch c.Operator {
		case Eq, NotEq, Gt, Gte, Lt, Lte:
		case In, NotIn:
			if _, err := ToInterfaceSlice(c.Value); err != nil {
				return fmt.Errorf("operator %s on %s: %w", c.Operator, c.Field, err)
			}
		case Exists:
			if _, ok := c.Value.(bool); !ok {
				return fmt.Errorf("operator %s on %s requires bool value", c.Operator, c.Field)
			}
		case Like:
			if _, ok := c.Value.(string); !ok {
				return fmt.Errorf("operator %s on %s requires string pattern", c.Operator, c.Field)
			}
		default:
			return fmt.Errorf("unknown operator: %s", c.Operator)
		}
	}
	for _, s := range q.Sort {
		if s.Field == "" {
			return fmt.Errorf("sort field cannot be empty")
		}
	}
	if q.Limit < 0 || q.Skip < 0 {
		return fmt.Errorf("limit and skip cannot be negative")
	}
	return nil
}

// Filter строит MongoDB фильтр для условий запроса
func (q Query) Filter() (bson.D, error) {
	filter := bson.D{}
	for _, c := range q.Conditions {
		var expr interface{}
		switch c.Operator {
		case Eq:
			expr = bson.D{{Key: "$eq", Value: c.Value}}
		case NotEq:
			expr = bson.D{{Key: "$ne", Value: c.Value}}
		case Gt:
			expr = bson.D{{Key: "$gt", Value: c.Value}}
		case Gte:
			expr = bson.D{{Key: "$gte", Value: c.Value}}
		case Lt:
			expr = bson.D{{Key: "$lt", Value: c.Value}}
		case Lte:
			expr = bson.D{{Key: "$lte", Value: c.Value}}
		case In, NotIn:
			values, err := ToInterfaceSlice(c.Value)
			if err != nil {
				return nil, err
			}
			op := "$in"
			if c.Operator == NotIn {
				op = "$nin"
			}
			expr = bson.D{{Key: op, Value: values}}
		case Exists:
			expr = bson.D{{Key: "$exists", Value: c.Value}}
		case Like:
			expr = bson.D{{Key: "$regex", Value: c.Value}, {Key: "$options", Value: "i"}}
		default:
			return nil, fmt.Errorf("unknown operator: %s", c.Operator)
		}
		filter = append(filter, bson.E{Key: c.Field, Value: expr})
	}
	return filter, nil
}

// SortDocument строит документ сортировки MongoDB
func (q Query) SortDocument() bson.D {
	sort := bson.D{}
	for _, s := range q.Sort {
		direction := 1
		if s.Order == Desc {
			direction = -1
		}
		sort = append(sort, bson.E{Key: s.Field, Value: direction})
	}
	return sort
}

// ToInterfaceSlice конвертирует срез произвольного типа в []interface{}
func ToInterfaceSlice(value interface{}) ([]interface{}, error) {
	if value == nil {
		return nil, fmt.Errorf("value cannot be nil")
	}

	if slice, ok := value.([]interface{}); ok {
		return slice, nil
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("value must be a slice, got %T", value)
	}

	result := make([]interface{}, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		result[i] = rv.Index(i).Interface()
	}

	return result, nil
}
