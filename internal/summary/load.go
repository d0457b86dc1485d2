package summary

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Summary file kinds.
const (
	KindKey     = "key"
	KindKeyType = "key-type"
	KindPath    = "path"
)

// typeList accepts either a single type name or a list of them.
type typeList []string

func (l *typeList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = typeList{node.Value}
		return nil
	case yaml.SequenceNode:
		var names []string
		if err := node.Decode(&names); err != nil {
			return err
		}
		*l = names
		return nil
	default:
		return fmt.Errorf("line %d: types must be a name or a list of names", node.Line)
	}
}

func (l typeList) toSet() (TypeSet, error) {
	var s TypeSet
	for _, name := range l {
		t, err := ParseNodeType(name)
		if err != nil {
			return 0, err
		}
		s |= TypeSet(t)
	}
	return s, nil
}

// pathEntry is one node of a path summary file:
//
//	tag:
//	  types: [array]
//	a:
//	  types: object
//	  children:
//	    b: {types: scalar}
type pathEntry struct {
	Types    typeList              `yaml:"types"`
	Children map[string]*pathEntry `yaml:"children"`
}

// Load reads a summary file and returns a navigator factory. An empty path
// yields constant navigators answering DefaultTypes.
func Load(path, kind string) (Factory, error) {
	if path == "" {
		return func() Navigator { return Constant(DefaultTypes) }, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading summary %s: %w", path, err)
	}
	factory, size, err := Parse(data, kind)
	if err != nil {
		return nil, fmt.Errorf("summary %s: %w", path, err)
	}
	slog.Default().With("component", "summary").Info("summary loaded",
		"path", path,
		"kind", kind,
		"entries", size,
	)
	return factory, nil
}

// Parse decodes summary content of the given kind. It also returns the
// number of entries read.
func Parse(data []byte, kind string) (Factory, int, error) {
	switch kind {
	case KindKey:
		var labels []string
		if err := yaml.Unmarshal(data, &labels); err != nil {
			return nil, 0, fmt.Errorf("parsing key summary: %w", err)
		}
		m := make(map[string]TypeSet, len(labels))
		for _, l := range labels {
			m[l] = 0
		}
		s := NewLabelSummary(m)
		return s.Navigator, s.Len(), nil
	case KindKeyType:
		var raw map[string]typeList
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, 0, fmt.Errorf("parsing key-type summary: %w", err)
		}
		m := make(map[string]TypeSet, len(raw))
		for label, names := range raw {
			set, err := names.toSet()
			if err != nil {
				return nil, 0, fmt.Errorf("label %q: %w", label, err)
			}
			m[label] = set
		}
		s := NewLabelSummary(m)
		return s.Navigator, s.Len(), nil
	case KindPath:
		var raw map[string]*pathEntry
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, 0, fmt.Errorf("parsing path summary: %w", err)
		}
		root := &PathNode{Types: Types(Object)}
		size, err := buildPath(root, raw)
		if err != nil {
			return nil, 0, err
		}
		s := NewPathSummary(root)
		return s.Navigator, size, nil
	default:
		return nil, 0, fmt.Errorf("unknown summary kind %q", kind)
	}
}

func buildPath(parent *PathNode, entries map[string]*pathEntry) (int, error) {
	count := 0
	for label, entry := range entries {
		child := parent.Child(label)
		count++
		if entry == nil {
			continue
		}
		set, err := entry.Types.toSet()
		if err != nil {
			return 0, fmt.Errorf("label %q: %w", label, err)
		}
		child.Types = set
		n, err := buildPath(child, entry.Children)
		if err != nil {
			return 0, err
		}
		count += n
	}
	return count, nil
}
