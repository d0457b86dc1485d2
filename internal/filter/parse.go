package filter

import (
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// errOpaque marks query documents using operators outside the algebra.
var errOpaque = errors.New("operator outside the filter algebra")

// Decode parses a native query document written in extended JSON. Documents
// made of the operators ToBSON produces come back as the corresponding
// filter; anything else is kept as an opaque Native filter.
func Decode(ext string) (Filter, error) {
	var doc bson.D
	if err := bson.UnmarshalExtJSON([]byte(ext), false, &doc); err != nil {
		return nil, fmt.Errorf("decoding native filter: %w", err)
	}
	f, err := FromBSON(doc)
	if errors.Is(err, errOpaque) {
		return Native{Doc: doc}, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// FromBSON converts a query document back into a filter.
func FromBSON(doc bson.D) (Filter, error) {
	if len(doc) == 1 && (doc[0].Key == "$and" || doc[0].Key == "$or") {
		arr, ok := doc[0].Value.(bson.A)
		if !ok {
			return nil, fmt.Errorf("%s expects an array", doc[0].Key)
		}
		children := make([]Filter, 0, len(arr))
		for _, x := range arr {
			d, ok := x.(bson.D)
			if !ok {
				return nil, fmt.Errorf("%s member is not a document", doc[0].Key)
			}
			c, err := FromBSON(d)
			if err != nil {
				return nil, err
			}
			children = append(children, c)
		}
		if doc[0].Key == "$and" {
			return And{Children: children}, nil
		}
		return Or{Children: children}, nil
	}
	keyed := Keyed{Fields: make([]Field, 0, len(doc))}
	for _, e := range doc {
		if strings.HasPrefix(e.Key, "$") {
			return nil, fmt.Errorf("%w: %s", errOpaque, e.Key)
		}
		f, err := fieldFromBSON(e.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", e.Key, err)
		}
		keyed.Fields = append(keyed.Fields, Field{Key: e.Key, Filter: f})
	}
	return keyed, nil
}

func fieldFromBSON(v any) (Filter, error) {
	op, ok := v.(bson.D)
	if !ok || len(op) == 0 || !strings.HasPrefix(op[0].Key, "$") {
		s, err := scalarValue(v)
		if err != nil {
			return nil, err
		}
		return Equals{Value: s}, nil
	}
	ops := make(map[string]any, len(op))
	for _, e := range op {
		ops[e.Key] = e.Value
	}
	switch {
	case len(ops) == 1 && ops["$eq"] != nil:
		s, err := scalarValue(ops["$eq"])
		if err != nil {
			return nil, err
		}
		return Equals{Value: s}, nil
	case len(ops) == 1 && ops["$exists"] == true:
		return Exists{}, nil
	case len(ops) == 2 && ops["$exists"] == true && isNotContainer(ops["$not"]):
		return Exists{NonContainer: true}, nil
	case len(ops) == 1 && ops["$all"] != nil:
		arr, ok := ops["$all"].(bson.A)
		if !ok {
			return nil, fmt.Errorf("$all expects an array")
		}
		values := make([]any, 0, len(arr))
		for _, x := range arr {
			s, err := scalarValue(x)
			if err != nil {
				return nil, err
			}
			values = append(values, s)
		}
		return All{Values: values}, nil
	case len(ops) == 2 && ops["$gte"] != nil && ops["$lte"] != nil:
		lo, lok := integer(ops["$gte"])
		hi, hok := integer(ops["$lte"])
		if !lok || !hok {
			return nil, fmt.Errorf("%w: non-integral range", errOpaque)
		}
		return Range{Min: lo, Max: hi}, nil
	case len(ops) == 1 && ops["$elemMatch"] != nil:
		inner, ok := ops["$elemMatch"].(bson.D)
		if !ok {
			return nil, fmt.Errorf("$elemMatch expects a document")
		}
		if len(inner) == 1 && inner[0].Key == "$not" && isNotContainer(inner[0].Value) {
			return ElemMatch{Inner: Exists{NonContainer: true}}, nil
		}
		if len(inner) > 0 && strings.HasPrefix(inner[0].Key, "$") && inner[0].Key != "$and" && inner[0].Key != "$or" {
			f, err := fieldFromBSON(inner)
			if err != nil {
				return nil, err
			}
			return ElemMatch{Inner: f}, nil
		}
		f, err := FromBSON(inner)
		if err != nil {
			return nil, err
		}
		return ElemMatch{Inner: f}, nil
	default:
		return nil, fmt.Errorf("%w: %s", errOpaque, op[0].Key)
	}
}

func isNotContainer(v any) bool {
	d, ok := v.(bson.D)
	if !ok || len(d) != 1 || d[0].Key != "$type" {
		return false
	}
	arr, ok := d[0].Value.(bson.A)
	if !ok || len(arr) != 2 {
		return false
	}
	return (arr[0] == "array" && arr[1] == "object") || (arr[0] == "object" && arr[1] == "array")
}

func scalarValue(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case float64:
		return x, nil
	default:
		return nil, fmt.Errorf("%w: value %T", errOpaque, v)
	}
}

func integer(v any) (int64, bool) {
	switch x := v.(type) {
	case int32:
		return int64(x), true
	case int64:
		return x, true
	default:
		return 0, false
	}
}
