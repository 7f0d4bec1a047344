package jsontree

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxNesting bounds how deeply arrays and objects may nest.
const MaxNesting = 10000

// ErrTooDeep is returned for documents nested deeper than MaxNesting.
var ErrTooDeep = errors.New("json: exceeded max nesting depth")

// Decode reads exactly one JSON value from r.
//
// Numbers are kept as json.Number (dec.UseNumber) so integer ranks and ids
// survive without float rounding. Trailing non-whitespace input is an error.
func Decode(r io.Reader) (*Node, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("json: empty document")
		}
		return nil, fmt.Errorf("json: read first token: %w", err)
	}

	n, err := materialize(dec, tok, 0)
	if err != nil {
		return nil, err
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, fmt.Errorf("json: unexpected trailing data")
		}
		return nil, fmt.Errorf("json: read trailing data: %w", err)
	}
	return n, nil
}

// DecodeBytes is Decode over an in-memory document.
func DecodeBytes(b []byte) (*Node, error) {
	return Decode(bytes.NewReader(b))
}

// MustDecode decodes s and panics on error. Intended for tests and fixtures.
func MustDecode(s string) *Node {
	n, err := DecodeBytes([]byte(s))
	if err != nil {
		panic(err)
	}
	return n
}

// materialize builds a Node for the current JSON value, given its first token
// has already been read. depth counts the enclosing containers.
func materialize(dec *json.Decoder, tok json.Token, depth int) (*Node, error) {
	switch t := tok.(type) {
	case json.Delim:
		if depth >= MaxNesting {
			return nil, ErrTooDeep
		}
		switch t {
		case '{':
			n := &Node{Kind: Object}
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, fmt.Errorf("json: read object key: %w", err)
				}
				k, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("json: object key not a string (got %T)", kt)
				}
				vt, err := dec.Token()
				if err != nil {
					return nil, fmt.Errorf("json: read value of %q: %w", k, err)
				}
				v, err := materialize(dec, vt, depth+1)
				if err != nil {
					return nil, err
				}
				n.Fields = append(n.Fields, Field{Key: k, Value: v})
			}
			if err := expectDelim(dec, '}'); err != nil {
				return nil, err
			}
			return n, nil

		case '[':
			n := &Node{Kind: Array}
			for dec.More() {
				vt, err := dec.Token()
				if err != nil {
					return nil, fmt.Errorf("json: read array element: %w", err)
				}
				v, err := materialize(dec, vt, depth+1)
				if err != nil {
					return nil, err
				}
				n.Items = append(n.Items, v)
			}
			if err := expectDelim(dec, ']'); err != nil {
				return nil, err
			}
			return n, nil

		default:
			return nil, fmt.Errorf("json: unexpected delimiter %q", t)
		}

	case nil:
		return NewNull(), nil
	case bool:
		return NewBool(t), nil
	case json.Number:
		return &Node{Kind: Number, Num: t}, nil
	case string:
		return NewString(t), nil
	case float64:
		// Only reachable if UseNumber was not set on dec.
		return &Node{Kind: Number, Num: json.Number(fmt.Sprint(t))}, nil
	default:
		return nil, fmt.Errorf("json: unsupported token %T", tok)
	}
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	end, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: read %q: %w", want, err)
	}
	if end != want {
		return fmt.Errorf("json: expected %q, got %v", want, end)
	}
	return nil
}
