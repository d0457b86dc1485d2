// Package partition describes logical partitions: named restrictions of a
// collection to the records under a path prefix and, optionally, to ranges
// of record identifiers.
package partition

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/tree"
)

// Partition is a logical partition. The zero value is the null partition.
type Partition struct {
	Name string
	// Prefix is the dotted path every record of the partition has.
	Prefix []string
	// Intervals restricts the record identifiers. Empty means unrestricted.
	Intervals tree.Ranges
}

// Null returns the null partition, which restricts nothing.
func Null() Partition {
	return Partition{}
}

// IsNull reports whether p is the null partition.
func (p Partition) IsNull() bool {
	return p.Name == "" && len(p.Prefix) == 0 && len(p.Intervals) == 0
}

// HasIntervals reports whether p restricts record identifiers.
func (p Partition) HasIntervals() bool {
	return len(p.Intervals) > 0
}

// PrefixPattern returns the pattern selecting the records under the prefix,
// or nil when the prefix is empty.
func (p Partition) PrefixPattern() *tree.Pattern {
	if len(p.Prefix) == 0 {
		return nil
	}
	node := tree.Exists(false)
	for i := len(p.Prefix) - 1; i >= 0; i-- {
		node = tree.Object(tree.E(p.Prefix[i], node))
	}
	return tree.New(node)
}

func (p Partition) String() string {
	if p.IsNull() {
		return "<null>"
	}
	s := p.Name + " " + prefixString(p.Prefix)
	if p.HasIntervals() {
		s += " " + formatIntervals(p.Intervals)
	}
	return s
}

func prefixString(prefix []string) string {
	if len(prefix) == 0 {
		return "."
	}
	return strings.Join(prefix, ".")
}

func formatIntervals(rs tree.Ranges) string {
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = r.String()
	}
	return strings.Join(parts, "|")
}

var separators = regexp.MustCompile(`[\s,;]+`)

// Parse decodes "name prefix [intervals]". The prefix is a dotted path, "."
// for none. Intervals are "min..max" or single identifiers joined by "|".
func Parse(s string) (Partition, error) {
	fields := separators.Split(strings.TrimSpace(s), -1)
	if len(fields) < 2 || fields[0] == "" {
		return Partition{}, fmt.Errorf("partition %q: need at least a name and a prefix", s)
	}
	p := Partition{Name: fields[0]}
	if fields[1] != "." {
		p.Prefix = strings.Split(fields[1], ".")
		if slices.Contains(p.Prefix, "") {
			return Partition{}, fmt.Errorf("partition %q: empty label in prefix %q", s, fields[1])
		}
	}
	if len(fields) > 2 {
		rs, err := ParseIntervals(fields[2])
		if err != nil {
			return Partition{}, fmt.Errorf("partition %q: %w", s, err)
		}
		p.Intervals = rs
	}
	if len(fields) > 3 {
		return Partition{}, fmt.Errorf("partition %q: unexpected %q", s, fields[3])
	}
	return p, nil
}

// ParseIntervals decodes "a..b|c" into ranges.
func ParseIntervals(s string) (tree.Ranges, error) {
	var rs tree.Ranges
	for _, part := range strings.Split(s, "|") {
		lo, hi, isRange := strings.Cut(part, "..")
		first, err := strconv.ParseInt(lo, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("interval %q: %w", part, err)
		}
		last := first
		if isRange {
			if last, err = strconv.ParseInt(hi, 10, 64); err != nil {
				return nil, fmt.Errorf("interval %q: %w", part, err)
			}
		}
		if last < first {
			return nil, fmt.Errorf("interval %q: max below min", part)
		}
		rs = Add(rs, tree.Range{Min: first, Max: last})
	}
	return rs, nil
}

// Add inserts r into rs, keeping the ranges sorted and merging the ones that
// overlap or touch.
func Add(rs tree.Ranges, r tree.Range) tree.Ranges {
	out := make(tree.Ranges, 0, len(rs)+1)
	out = append(out, rs...)
	out = append(out, r)
	slices.SortFunc(out, func(a, b tree.Range) int {
		switch {
		case a.Min < b.Min:
			return -1
		case a.Min > b.Min:
			return 1
		}
		return 0
	})
	merged := out[:1]
	for _, cur := range out[1:] {
		last := &merged[len(merged)-1]
		if cur.Min <= last.Max+1 {
			last.Max = max(last.Max, cur.Max)
			continue
		}
		merged = append(merged, cur)
	}
	return merged
}
