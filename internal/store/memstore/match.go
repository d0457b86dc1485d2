package memstore

import (
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/record"
)

// Match reports whether doc satisfies f, following the MongoDB query
// semantics for dotted paths and arrays.
func Match(doc record.Document, f filter.Filter) (bool, error) {
	switch v := f.(type) {
	case filter.Keyed:
		for _, field := range v.Fields {
			ok, err := matchField(doc, field.Key, field.Filter)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case filter.And:
		for _, c := range v.Children {
			ok, err := Match(doc, c)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case filter.Or:
		for _, c := range v.Children {
			ok, err := Match(doc, c)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("memstore cannot evaluate %T at document level", f)
	}
}

func matchField(doc record.Document, key string, f filter.Filter) (bool, error) {
	if !filter.IsFieldLevel(f) {
		return Match(doc, filter.Prefix(key, f))
	}
	candidates := resolve(doc, strings.Split(key, "."))
	return matchCandidates(candidates, f)
}

// resolve collects the values reached by path. Arrays met on the way are
// traversed element by element.
func resolve(v record.Value, path []string) []record.Value {
	if len(path) == 0 {
		return []record.Value{v}
	}
	switch x := v.(type) {
	case record.Document:
		child, ok := x.Get(path[0])
		if !ok {
			return nil
		}
		return resolve(child, path[1:])
	case record.Array:
		var out []record.Value
		for _, elem := range x {
			if _, isDoc := elem.(record.Document); isDoc {
				out = append(out, resolve(elem, path)...)
			}
		}
		return out
	default:
		return nil
	}
}

func matchCandidates(candidates []record.Value, f filter.Filter) (bool, error) {
	switch v := f.(type) {
	case filter.Exists:
		if len(candidates) == 0 {
			return false, nil
		}
		if !v.NonContainer {
			return true, nil
		}
		for _, c := range candidates {
			if isContainer(c) {
				return false, nil
			}
		}
		return true, nil
	case filter.Equals:
		return anyCandidate(candidates, func(c record.Value) bool { return equalsOrContains(c, v.Value) }), nil
	case filter.All:
		for _, want := range v.Values {
			if !anyCandidate(candidates, func(c record.Value) bool { return equalsOrContains(c, want) }) {
				return false, nil
			}
		}
		return len(v.Values) > 0, nil
	case filter.Range:
		return anyCandidate(candidates, func(c record.Value) bool { return inRangeOrContains(c, v) }), nil
	case filter.ElemMatch:
		for _, c := range candidates {
			arr, ok := c.(record.Array)
			if !ok {
				continue
			}
			for _, elem := range arr {
				ok, err := matchElement(elem, v.Inner)
				if err != nil {
					return false, err
				}
				if ok {
					return true, nil
				}
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("memstore cannot evaluate %T on a field", f)
	}
}

// matchElement evaluates the inner filter of an ElemMatch on one element.
func matchElement(elem record.Value, f filter.Filter) (bool, error) {
	if !filter.IsFieldLevel(f) {
		doc, ok := elem.(record.Document)
		if !ok {
			return false, nil
		}
		return Match(doc, f)
	}
	switch v := f.(type) {
	case filter.Exists:
		return !v.NonContainer || !isContainer(elem), nil
	case filter.Equals:
		return scalarEqual(elem, v.Value), nil
	case filter.Range:
		return inRange(elem, v), nil
	default:
		return matchCandidates([]record.Value{elem}, f)
	}
}

func anyCandidate(candidates []record.Value, pred func(record.Value) bool) bool {
	for _, c := range candidates {
		if pred(c) {
			return true
		}
	}
	return false
}

func isContainer(v record.Value) bool {
	switch v.(type) {
	case record.Array, record.Document:
		return true
	default:
		return false
	}
}

func equalsOrContains(v record.Value, want any) bool {
	if arr, ok := v.(record.Array); ok {
		for _, elem := range arr {
			if scalarEqual(elem, want) {
				return true
			}
		}
		return false
	}
	return scalarEqual(v, want)
}

func inRangeOrContains(v record.Value, r filter.Range) bool {
	if arr, ok := v.(record.Array); ok {
		for _, elem := range arr {
			if inRange(elem, r) {
				return true
			}
		}
		return false
	}
	return inRange(v, r)
}

func scalarEqual(v record.Value, want any) bool {
	s, ok := v.(record.Scalar)
	if !ok {
		return false
	}
	if ws, isString := want.(string); isString {
		got, isString := s.V.(string)
		return isString && got == ws
	}
	a, aok := number(s.V)
	b, bok := number(want)
	return aok && bok && a == b
}

func inRange(v record.Value, r filter.Range) bool {
	s, ok := v.(record.Scalar)
	if !ok {
		return false
	}
	n, ok := number(s.V)
	return ok && n >= float64(r.Min) && n <= float64(r.Max)
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}
