package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// ChildrenKey is the attribute that holds a node's children.
const ChildrenKey = "split"

// Attr is one scalar attribute of a result node.
type Attr struct {
	Name  string
	Value Value
}

// ResultNode is a node of the nested result tree returned by the query
// service. Branch is set when the node carried a children sequence, even an
// empty one; such a node only contributes its attributes to the path below it.
type ResultNode struct {
	Attrs    []Attr
	Children []*ResultNode
	Branch   bool
}

// Set adds or replaces a scalar attribute, keeping first-seen order.
func (n *ResultNode) Set(name string, v Value) {
	for i := range n.Attrs {
		if n.Attrs[i].Name == name {
			n.Attrs[i].Value = v
			return
		}
	}
	n.Attrs = append(n.Attrs, Attr{Name: name, Value: v})
}

// DecodeResponse reads a query service envelope and returns its "result" tree.
func DecodeResponse(r io.Reader) (*ResultNode, error) {
	dec := json.NewDecoder(r)
	var env map[string]json.RawMessage
	if err := dec.Decode(&env); err != nil {
		return nil, &MalformedTreeError{Reason: fmt.Sprintf("decode response: %v", err)}
	}
	raw := bytes.TrimSpace(env["result"])
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, &MalformedTreeError{Reason: "no 'result' found in response"}
	}
	if raw[0] != '{' {
		return nil, &MalformedTreeError{Reason: "'result' is not an object"}
	}
	root, err := DecodeTree(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	if len(root.Attrs) == 0 && !root.Branch {
		return nil, &MalformedTreeError{Reason: "'result' is empty"}
	}
	return root, nil
}

// DecodeTree reads a single result node. Nested objects and arrays other than
// the children sequence are skipped.
func DecodeTree(r io.Reader) (*ResultNode, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, &MalformedTreeError{Reason: fmt.Sprintf("decode tree: %v", err)}
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, &MalformedTreeError{Reason: "root is not an object"}
	}
	return decodeObject(dec, "result")
}

func decodeObject(dec *json.Decoder, path string) (*ResultNode, error) {
	n := &ResultNode{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, malformedAt(path, err)
		}
		key, _ := tok.(string)
		if key == ChildrenKey {
			children, err := decodeChildren(dec, path+"."+ChildrenKey)
			if err != nil {
				return nil, err
			}
			n.Branch = true
			n.Children = children
			continue
		}
		v, scalar, err := decodeScalar(dec)
		if err != nil {
			return nil, malformedAt(path+"."+key, err)
		}
		if scalar {
			n.Set(key, v)
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, malformedAt(path, err)
	}
	return n, nil
}

func decodeChildren(dec *json.Decoder, path string) ([]*ResultNode, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, malformedAt(path, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, &MalformedTreeError{Reason: fmt.Sprintf("%s is not an array", path)}
	}
	var out []*ResultNode
	for i := 0; dec.More(); i++ {
		at := fmt.Sprintf("%s[%d]", path, i)
		tok, err := dec.Token()
		if err != nil {
			return nil, malformedAt(at, err)
		}
		if d, ok := tok.(json.Delim); !ok || d != '{' {
			return nil, &MalformedTreeError{Reason: fmt.Sprintf("%s is not an object", at)}
		}
		child, err := decodeObject(dec, at)
		if err != nil {
			return nil, err
		}
		out = append(out, child)
	}
	if _, err := dec.Token(); err != nil {
		return nil, malformedAt(path, err)
	}
	return out, nil
}

// decodeScalar reads the next value. Containers are consumed and reported as
// non-scalar.
func decodeScalar(dec *json.Decoder) (Value, bool, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, false, err
	}
	switch t := tok.(type) {
	case json.Delim:
		return Value{}, false, skipContainer(dec)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return String(t.String()), true, nil
		}
		return Number(f), true, nil
	case string:
		return String(t), true, nil
	case bool:
		return String(strconv.FormatBool(t)), true, nil
	case nil:
		return Absent(), true, nil
	}
	return Value{}, false, fmt.Errorf("unexpected token %v", tok)
}

func skipContainer(dec *json.Decoder) error {
	for depth := 1; depth > 0; {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}

func malformedAt(path string, err error) error {
	var mte *MalformedTreeError
	if errors.As(err, &mte) {
		return err
	}
	return &MalformedTreeError{Reason: fmt.Sprintf("%s: %v", path, err)}
}

// Flatten converts a result tree into one row per leaf. Each row carries the
// scalar attributes of every ancestor; deeper nodes override shallower ones
// and the leaf's own attributes override the path. Column names are trimmed
// and missing cells are zero-filled.
func Flatten(root *ResultNode) (*Table, error) {
	if root == nil {
		return nil, &MalformedTreeError{Reason: "root is not an object"}
	}
	var rows []Row
	var walk func(n *ResultNode, path []Attr)
	walk = func(n *ResultNode, path []Attr) {
		if !n.Branch {
			r := NewRow()
			for _, a := range path {
				r.Set(a.Name, a.Value)
			}
			for _, a := range n.Attrs {
				r.Set(a.Name, a.Value)
			}
			rows = append(rows, r)
			return
		}
		// a fresh slice per level so siblings never share the accumulator
		next := make([]Attr, 0, len(path)+len(n.Attrs))
		next = append(next, path...)
		next = append(next, n.Attrs...)
		for _, c := range n.Children {
			if c != nil {
				walk(c, next)
			}
		}
	}
	walk(root, nil)
	if len(rows) == 0 {
		return nil, &MalformedTreeError{Reason: "no data extracted from response"}
	}
	t := NewTable(rows)
	t.TrimColumnNames()
	t.FillAbsent()
	return t, nil
}

// ParseResponse decodes a query service response and flattens its result.
func ParseResponse(r io.Reader) (*Table, error) {
	root, err := DecodeResponse(r)
	if err != nil {
		return nil, err
	}
	return Flatten(root)
}
