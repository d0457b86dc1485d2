// Package filter is the native filter algebra produced by the compiler. A
// Filter is either field-level (it constrains the value found at a field:
// Equals, Exists, All, Range, ElemMatch) or document-level (it constrains a
// document: Keyed, And, Or). Filters are immutable; combining them builds new
// values.
package filter

// Filter is implemented by every node of the algebra.
type Filter interface {
	isFilter()
}

// Equals requires the field to equal Value. Value is a string, an int64 or
// a float64.
type Equals struct {
	Value any
}

// Exists requires the field to be present. With NonContainer the value must
// also be neither an object nor an array.
type Exists struct {
	NonContainer bool
}

// All requires a repeated field to hold every one of Values.
type All struct {
	Values []any
}

// Range requires a numeric field to lie in [Min, Max].
type Range struct {
	Min int64
	Max int64
}

// ElemMatch requires at least one element of an array field to satisfy
// Inner.
type ElemMatch struct {
	Inner Filter
}

// Field is one labeled member of a Keyed filter. Key may be a dotted path.
type Field struct {
	Key    string
	Filter Filter
}

// Keyed is a conjunction of per-field constraints on one document.
type Keyed struct {
	Fields []Field
}

// And is a conjunction of document-level filters.
type And struct {
	Children []Filter
}

// Or is a disjunction of document-level filters.
type Or struct {
	Children []Filter
}

func (Equals) isFilter()    {}
func (Exists) isFilter()    {}
func (All) isFilter()       {}
func (Range) isFilter()     {}
func (ElemMatch) isFilter() {}
func (Keyed) isFilter()     {}
func (And) isFilter()       {}
func (Or) isFilter()        {}

// IsFieldLevel reports whether f constrains a field value rather than a
// document.
func IsFieldLevel(f Filter) bool {
	switch f.(type) {
	case Equals, Exists, All, Range, ElemMatch:
		return true
	default:
		return false
	}
}

// Key builds a single-field Keyed filter.
func Key(key string, f Filter) Keyed {
	return Keyed{Fields: []Field{{Key: key, Filter: f}}}
}

// Prefix namespaces f under label. Field-level filters become the value of
// label; Keyed fields are re-addressed with dotted paths, and the members of
// a conjunction are prefixed one by one.
func Prefix(label string, f Filter) Filter {
	switch v := f.(type) {
	case Keyed:
		fields := make([]Field, len(v.Fields))
		for i, field := range v.Fields {
			fields[i] = Field{Key: label + "." + field.Key, Filter: field.Filter}
		}
		return Keyed{Fields: fields}
	case And:
		children := make([]Filter, len(v.Children))
		for i, c := range v.Children {
			children[i] = Prefix(label, c)
		}
		return And{Children: children}
	case Or:
		children := make([]Filter, len(v.Children))
		for i, c := range v.Children {
			children[i] = Prefix(label, c)
		}
		return Or{Children: children}
	default:
		return Key(label, f)
	}
}

// Disjunction combines document-level filters with Or. A single filter is
// returned unchanged.
func Disjunction(filters []Filter) Filter {
	if len(filters) == 1 {
		return filters[0]
	}
	children := make([]Filter, len(filters))
	copy(children, filters)
	return Or{Children: children}
}

// Conjunction combines document-level filters with And, flattening nested
// conjunctions. A single filter is returned unchanged.
func Conjunction(filters []Filter) Filter {
	children := make([]Filter, 0, len(filters))
	for _, f := range filters {
		if and, ok := f.(And); ok {
			children = append(children, and.Children...)
			continue
		}
		children = append(children, f)
	}
	if len(children) == 1 {
		return children[0]
	}
	return And{Children: children}
}
