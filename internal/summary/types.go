// Package summary resolves the structural type of pattern positions from a
// schema summary. Navigators answer, one labeled step at a time, whether the
// field reached is a scalar, an object or an array.
package summary

import (
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/tree-query/pkg/errors"
)

// NodeType is the structural type of a field.
type NodeType uint8

const (
	Scalar NodeType = 1 << iota
	Object
	Array
	// Multiple marks a position the summary could not resolve; it is treated
	// as a repeated position.
	Multiple
)

var typeNames = map[NodeType]string{
	Scalar:   "scalar",
	Object:   "object",
	Array:    "array",
	Multiple: "multiple",
}

func (t NodeType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("NodeType(%d)", uint8(t))
}

// ParseNodeType reads a type name as written in summary files.
func ParseNodeType(s string) (NodeType, error) {
	for t, name := range typeNames {
		if strings.EqualFold(s, name) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown node type %q", s)
}

// TypeSet is a set of NodeType.
type TypeSet uint8

// DefaultTypes is used where no summary information exists: every position
// may repeat.
const DefaultTypes = TypeSet(Array)

// Types builds a TypeSet.
func Types(types ...NodeType) TypeSet {
	var s TypeSet
	for _, t := range types {
		s |= TypeSet(t)
	}
	return s
}

func (s TypeSet) Has(t NodeType) bool {
	return s&TypeSet(t) != 0
}

func (s TypeSet) IsEmpty() bool {
	return s == 0
}

// IsArray reports whether the position must be matched as a repeated one.
func (s TypeSet) IsArray() bool {
	return s.Has(Array) || s.Has(Multiple)
}

// Validate rejects a label typed both as an object and as an array.
func (s TypeSet) Validate(label string) error {
	if s.Has(Object) && s.Has(Array) {
		return apperrors.Newf(apperrors.ErrAmbiguousType, apperrors.StageCompile,
			"label %q resolves to both object and array", label)
	}
	return nil
}

func (s TypeSet) String() string {
	names := make([]string, 0, 4)
	for t, name := range typeNames {
		if s.Has(t) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return "{" + strings.Join(names, ",") + "}"
}
