// Package jsontree provides an order-preserving, tagged-variant model of a
// JSON document.
//
// encoding/json decodes objects into map[string]any, which loses key order.
// Traversal order is observable in extraction results (candidates are ranked
// by weight, then by the order they were collected), so documents are decoded
// token by token into Node values that keep object fields in document order.
package jsontree

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Kind is the tag of a Node.
type Kind uint8

const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Field is one key/value pair of an object node.
type Field struct {
	Key   string
	Value *Node
}

// Node is one value of a JSON document.
//
// Only the members matching Kind are meaningful. A nil *Node means "absent".
type Node struct {
	Kind   Kind
	Bool   bool
	Num    json.Number
	Str    string
	Items  []*Node
	Fields []Field
}

// NewString returns a string node.
func NewString(s string) *Node { return &Node{Kind: String, Str: s} }

// NewNumber returns a number node. n must be a valid JSON number literal.
func NewNumber(n string) *Node { return &Node{Kind: Number, Num: json.Number(n)} }

// NewBool returns a bool node.
func NewBool(b bool) *Node { return &Node{Kind: Bool, Bool: b} }

// NewNull returns a null node.
func NewNull() *Node { return &Node{Kind: Null} }

// NewArray returns an array node holding items.
func NewArray(items ...*Node) *Node { return &Node{Kind: Array, Items: items} }

// NewObject returns an object node holding fields in the given order.
func NewObject(fields ...Field) *Node { return &Node{Kind: Object, Fields: fields} }

// IsPresent reports whether n holds a value (not absent, not null).
func (n *Node) IsPresent() bool {
	return n != nil && n.Kind != Null
}

// IsContainer reports whether n is an object or an array.
func (n *Node) IsContainer() bool {
	return n != nil && (n.Kind == Object || n.Kind == Array)
}

// Get returns the value of the first field named key, or nil.
func (n *Node) Get(key string) *Node {
	if n == nil || n.Kind != Object {
		return nil
	}
	for _, f := range n.Fields {
		if f.Key == key {
			return f.Value
		}
	}
	return nil
}

// Len returns the number of children of a container node.
func (n *Node) Len() int {
	if n == nil {
		return 0
	}
	switch n.Kind {
	case Array:
		return len(n.Items)
	case Object:
		return len(n.Fields)
	default:
		return 0
	}
}

// Children calls fn for every direct child in document order. Object children
// are keyed by field name, array children by their decimal index.
func (n *Node) Children(fn func(key string, child *Node)) {
	if n == nil {
		return
	}
	switch n.Kind {
	case Object:
		for _, f := range n.Fields {
			fn(f.Key, f.Value)
		}
	case Array:
		for i, it := range n.Items {
			fn(strconv.Itoa(i), it)
		}
	}
}

// MarshalJSON writes n as compact JSON, keeping object keys in document order.
func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := n.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (n *Node) writeJSON(buf *bytes.Buffer) error {
	if n == nil {
		buf.WriteString("null")
		return nil
	}

	switch n.Kind {
	case Null:
		buf.WriteString("null")
	case Bool:
		buf.WriteString(strconv.FormatBool(n.Bool))
	case Number:
		if n.Num == "" {
			buf.WriteString("0")
		} else {
			buf.WriteString(n.Num.String())
		}
	case String:
		b, err := json.Marshal(n.Str)
		if err != nil {
			return err
		}
		buf.Write(b)
	case Array:
		buf.WriteByte('[')
		for i, it := range n.Items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := it.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case Object:
		buf.WriteByte('{')
		for i, f := range n.Fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(f.Key)
			if err != nil {
				return err
			}
			buf.Write(k)
			buf.WriteByte(':')
			if err := f.Value.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

// UnmarshalJSON decodes b into n, keeping object key order.
func (n *Node) UnmarshalJSON(b []byte) error {
	out, err := DecodeBytes(b)
	if err != nil {
		return err
	}
	*n = *out
	return nil
}
