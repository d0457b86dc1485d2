// Package record decodes backing-store documents into a closed set of value
// kinds: scalars, arrays, documents, nulls and object identifiers.
package record

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// Value is one of Scalar, Array, Document, Null or ID.
type Value interface {
	isValue()
	String() string
}

// Scalar holds a string, int64, float64, bool or time.Time.
type Scalar struct {
	V any
}

// Array is an ordered list of values.
type Array []Value

// Field is one member of a Document.
type Field struct {
	Key   string
	Value Value
}

// Document is an ordered list of fields.
type Document []Field

// Null is the null value.
type Null struct{}

// ID is an object identifier, kept as its hexadecimal form.
type ID string

func (Scalar) isValue()   {}
func (Array) isValue()    {}
func (Document) isValue() {}
func (Null) isValue()     {}
func (ID) isValue()       {}

func (s Scalar) String() string {
	switch v := s.V.(type) {
	case string:
		return strconv.Quote(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return strconv.Quote(v.UTC().Format(time.RFC3339Nano))
	default:
		return strconv.Quote(fmt.Sprint(v))
	}
}

func (a Array) String() string {
	parts := make([]string, len(a))
	for i, v := range a {
		parts[i] = v.String()
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func (d Document) String() string {
	parts := make([]string, len(d))
	for i, f := range d {
		parts[i] = strconv.Quote(f.Key) + ":" + f.Value.String()
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func (Null) String() string { return "null" }

func (id ID) String() string { return `{"$oid":"` + string(id) + `"}` }

// Get returns the value of the first field named key.
func (d Document) Get(key string) (Value, bool) {
	for _, f := range d {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// FromBSON converts one raw BSON value.
func FromBSON(rv bson.RawValue) (Value, error) {
	switch rv.Type {
	case bsontype.Null, bsontype.Undefined:
		return Null{}, nil
	case bsontype.String:
		return Scalar{V: rv.StringValue()}, nil
	case bsontype.Symbol:
		return Scalar{V: rv.Symbol()}, nil
	case bsontype.Int32:
		return Scalar{V: int64(rv.Int32())}, nil
	case bsontype.Int64:
		return Scalar{V: rv.Int64()}, nil
	case bsontype.Double:
		return Scalar{V: rv.Double()}, nil
	case bsontype.Decimal128:
		return Scalar{V: rv.Decimal128().String()}, nil
	case bsontype.Boolean:
		return Scalar{V: rv.Boolean()}, nil
	case bsontype.DateTime:
		return Scalar{V: time.UnixMilli(rv.DateTime()).UTC()}, nil
	case bsontype.ObjectID:
		return ID(rv.ObjectID().Hex()), nil
	case bsontype.Array:
		values, err := rv.Array().Values()
		if err != nil {
			return nil, fmt.Errorf("decoding array: %w", err)
		}
		arr := make(Array, 0, len(values))
		for _, v := range values {
			x, err := FromBSON(v)
			if err != nil {
				return nil, err
			}
			arr = append(arr, x)
		}
		return arr, nil
	case bsontype.EmbeddedDocument:
		return FromDocument(rv.Document())
	default:
		return Scalar{V: rv.String()}, nil
	}
}

// FromDocument converts a raw BSON document.
func FromDocument(raw bson.Raw) (Document, error) {
	elems, err := raw.Elements()
	if err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	doc := make(Document, 0, len(elems))
	for _, e := range elems {
		v, err := FromBSON(e.Value())
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", e.Key(), err)
		}
		doc = append(doc, Field{Key: e.Key(), Value: v})
	}
	return doc, nil
}

// FromExtJSON decodes a document written in extended JSON.
func FromExtJSON(data []byte) (Document, error) {
	var raw bson.Raw
	if err := bson.UnmarshalExtJSON(data, false, &raw); err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}
	return FromDocument(raw)
}

// RecordID returns the integral identifier stored in field.
func RecordID(doc Document, field string) (int64, bool) {
	v, ok := doc.Get(field)
	if !ok {
		return 0, false
	}
	s, ok := v.(Scalar)
	if !ok {
		return 0, false
	}
	switch n := s.V.(type) {
	case int64:
		return n, true
	case float64:
		if n == math.Trunc(n) {
			return int64(n), true
		}
	}
	return 0, false
}
