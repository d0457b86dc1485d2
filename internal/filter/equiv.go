package filter

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Canonical renders f in a normal form where the order of conjuncts,
// disjuncts, keyed fields and All values does not matter. Two filters with
// the same canonical form select the same documents.
func Canonical(f Filter) string {
	switch v := f.(type) {
	case Equals:
		return "eq(" + scalar(v.Value) + ")"
	case Exists:
		if v.NonContainer {
			return "exists(leaf)"
		}
		return "exists"
	case All:
		values := make([]string, 0, len(v.Values))
		for _, x := range v.Values {
			values = append(values, scalar(x))
		}
		slices.Sort(values)
		values = slices.Compact(values)
		return "all(" + strings.Join(values, ",") + ")"
	case Range:
		if v.Min == v.Max {
			return "eq(" + strconv.FormatInt(v.Min, 10) + ")"
		}
		return fmt.Sprintf("range(%d,%d)", v.Min, v.Max)
	case ElemMatch:
		return "elem(" + Canonical(v.Inner) + ")"
	case Keyed:
		parts := make([]string, 0, len(v.Fields))
		for _, field := range v.Fields {
			parts = append(parts, canonicalFields(field.Key, field.Filter)...)
		}
		return joinSorted("and", parts)
	case And:
		parts := make([]string, 0, len(v.Children))
		for _, c := range v.Children {
			parts = append(parts, conjuncts(c)...)
		}
		return joinSorted("and", parts)
	case Or:
		parts := make([]string, 0, len(v.Children))
		for _, c := range v.Children {
			parts = append(parts, Canonical(c))
		}
		return joinSorted("or", parts)
	case Native:
		return "native(" + JSON(v) + ")"
	case nil:
		return "nil"
	default:
		return fmt.Sprintf("%T", f)
	}
}

// Equivalent reports whether a and b have the same canonical form.
func Equivalent(a, b Filter) bool {
	return Canonical(a) == Canonical(b)
}

// conjuncts returns the canonical members of f seen as a conjunction, so that
// {a:1,b:2} and And({a:1},{b:2}) normalise identically.
func conjuncts(f Filter) []string {
	switch v := f.(type) {
	case Keyed:
		var parts []string
		for _, field := range v.Fields {
			parts = append(parts, canonicalFields(field.Key, field.Filter)...)
		}
		return parts
	case And:
		var parts []string
		for _, c := range v.Children {
			parts = append(parts, conjuncts(c)...)
		}
		return parts
	default:
		return []string{Canonical(f)}
	}
}

func canonicalFields(key string, f Filter) []string {
	if IsFieldLevel(f) {
		return []string{strconv.Quote(key) + ":" + Canonical(f)}
	}
	return conjuncts(Prefix(key, f))
}

func joinSorted(op string, parts []string) string {
	slices.Sort(parts)
	parts = slices.Compact(parts)
	if len(parts) == 1 {
		return parts[0]
	}
	return op + "(" + strings.Join(parts, ";") + ")"
}

func scalar(v any) string {
	switch x := v.(type) {
	case string:
		return strconv.Quote(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64) + "f"
	default:
		return fmt.Sprintf("%v", x)
	}
}
