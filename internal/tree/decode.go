package tree

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
)

// Parse decodes one pattern from its JSON-like notation:
//
//	{"tag": "x", "tag": "y", "a": {"b": null, "c": {}}, "n": [1, 2]}
//
// Object keys are labels. A repeated key or an array value produces several
// children under the same label. Strings and numbers are terminal valued
// leaves, null is a terminal existence leaf and {} a non-terminal one.
func Parse(s string) (*Pattern, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	root, err := decodeRoot(dec)
	if err != nil {
		return nil, fmt.Errorf("parsing pattern %q: %w", s, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("parsing pattern %q: trailing data", s)
	}
	return New(root), nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) *Pattern {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Decode lazily reads one pattern per non-blank line of r. Lines starting
// with '#' are skipped. The sequence stops at the first error.
func Decode(r io.Reader) iter.Seq2[*Pattern, error] {
	return func(yield func(*Pattern, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 || line[0] == '#' {
				continue
			}
			p, err := Parse(string(line))
			if err != nil {
				yield(nil, fmt.Errorf("line %d: %w", lineNo, err))
				return
			}
			if !yield(p, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(nil, fmt.Errorf("reading patterns: %w", err))
		}
	}
}

func decodeRoot(dec *json.Decoder) (*Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("pattern root must be an object")
	}
	return decodeObject(dec)
}

// decodeObject reads the members of an object whose '{' was consumed.
func decodeObject(dec *json.Decoder) (*Node, error) {
	n := &Node{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		label, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected label, got %v", tok)
		}
		children, err := decodeMember(dec)
		if err != nil {
			return nil, fmt.Errorf("label %q: %w", label, err)
		}
		for _, c := range children {
			n.Edges = append(n.Edges, Edge{Label: label, Child: c})
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return n, nil
}

// decodeMember reads a member value; arrays expand into several children.
func decodeMember(dec *json.Decoder) ([]*Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); ok && d == '[' {
		var children []*Node
		for dec.More() {
			elem, err := dec.Token()
			if err != nil {
				return nil, err
			}
			if d, ok := elem.(json.Delim); ok && d == '[' {
				return nil, errors.New("nested arrays are not supported")
			}
			child, err := decodeValue(dec, elem)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return children, nil
	}
	child, err := decodeValue(dec, tok)
	if err != nil {
		return nil, err
	}
	return []*Node{child}, nil
}

func decodeValue(dec *json.Decoder, tok json.Token) (*Node, error) {
	switch v := tok.(type) {
	case json.Delim:
		if v != '{' {
			return nil, fmt.Errorf("unexpected delimiter %v", v)
		}
		return decodeObject(dec)
	case string:
		return Leaf(String(v)), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %s: %w", v, err)
		}
		return Leaf(Number(f)), nil
	case nil:
		return Exists(true), nil
	case bool:
		return nil, errors.New("boolean values are not supported")
	default:
		return nil, fmt.Errorf("unexpected token %v", tok)
	}
}
