package filter

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// containerTypes lists the BSON type aliases a non-container leaf must not
// have.
var containerTypes = bson.A{"array", "object"}

// ToBSON renders a document-level filter as a MongoDB query document.
func ToBSON(f Filter) (bson.D, error) {
	switch v := f.(type) {
	case Keyed:
		doc := make(bson.D, 0, len(v.Fields))
		for _, field := range v.Fields {
			if !IsFieldLevel(field.Filter) {
				// Nested documents are addressed with dotted paths.
				sub, err := ToBSON(Prefix(field.Key, field.Filter))
				if err != nil {
					return nil, err
				}
				doc = append(doc, sub...)
				continue
			}
			op, err := operator(field.Filter)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", field.Key, err)
			}
			doc = append(doc, bson.E{Key: field.Key, Value: op})
		}
		return doc, nil
	case And:
		arr, err := documents(v.Children)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: "$and", Value: arr}}, nil
	case Or:
		arr, err := documents(v.Children)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: "$or", Value: arr}}, nil
	case Native:
		return v.Doc, nil
	case nil:
		return nil, fmt.Errorf("nil filter")
	default:
		return nil, fmt.Errorf("field-level filter %T used as a document", f)
	}
}

func documents(filters []Filter) (bson.A, error) {
	arr := make(bson.A, 0, len(filters))
	for _, c := range filters {
		d, err := ToBSON(c)
		if err != nil {
			return nil, err
		}
		arr = append(arr, d)
	}
	return arr, nil
}

// operator renders a field-level filter as the operator document placed
// under a field name.
func operator(f Filter) (bson.D, error) {
	switch v := f.(type) {
	case Equals:
		return bson.D{{Key: "$eq", Value: v.Value}}, nil
	case Exists:
		if v.NonContainer {
			return bson.D{
				{Key: "$exists", Value: true},
				{Key: "$not", Value: bson.D{{Key: "$type", Value: containerTypes}}},
			}, nil
		}
		return bson.D{{Key: "$exists", Value: true}}, nil
	case All:
		values := make(bson.A, len(v.Values))
		copy(values, v.Values)
		return bson.D{{Key: "$all", Value: values}}, nil
	case Range:
		if v.Min == v.Max {
			return bson.D{{Key: "$eq", Value: v.Min}}, nil
		}
		return bson.D{{Key: "$gte", Value: v.Min}, {Key: "$lte", Value: v.Max}}, nil
	case ElemMatch:
		inner, err := elemMatchInner(v.Inner)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: "$elemMatch", Value: inner}}, nil
	default:
		return nil, fmt.Errorf("document-level filter %T used as a field constraint", f)
	}
}

func elemMatchInner(f Filter) (bson.D, error) {
	if !IsFieldLevel(f) {
		return ToBSON(f)
	}
	if ex, ok := f.(Exists); ok && ex.NonContainer {
		// Array elements always exist; only their type is constrained.
		return bson.D{{Key: "$not", Value: bson.D{{Key: "$type", Value: containerTypes}}}}, nil
	}
	return operator(f)
}

// JSON renders f as relaxed extended JSON, for logs and diagnostic files.
// Field-level filters are rendered as their operator document.
func JSON(f Filter) string {
	var (
		doc bson.D
		err error
	)
	if IsFieldLevel(f) {
		doc, err = operator(f)
	} else {
		doc, err = ToBSON(f)
	}
	if err != nil {
		return fmt.Sprintf("<invalid filter: %v>", err)
	}
	out, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return fmt.Sprintf("<unencodable filter: %v>", err)
	}
	return string(out)
}

// Native is a query document using operators the algebra does not model. It
// is passed to the store unchanged.
type Native struct {
	Doc bson.D
}

func (Native) isFilter() {}
