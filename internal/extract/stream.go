package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// flexString accepts a JSON string, number or null. Numbers keep their
// literal text so decimal parsing sees exactly what the document holds. Any
// other value is kept in Bad instead of failing the enclosing record, so one
// malformed cell only costs its own node.
type flexString struct {
	Value string
	Valid bool
	Bad   string
}

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*f = flexString{}
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			*f = flexString{Bad: string(b)}
			return nil
		}
		*f = flexString{Value: s, Valid: true}
	case len(b) > 0 && (b[0] == '-' || (b[0] >= '0' && b[0] <= '9')):
		*f = flexString{Value: string(b), Valid: true}
	default:
		*f = flexString{Bad: string(b)}
	}
	return nil
}

// malformed reports whether the document held a value of the wrong kind.
func (f flexString) malformed() bool { return f.Bad != "" }

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("%w: expected %q, got %v", ErrUnsupportedShape, want, tok)
	}
	return nil
}

// nextKey reads an object key. Call only while dec.More() is true inside an object.
func nextKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("%w: expected object key, got %v", ErrUnsupportedShape, tok)
	}
	return key, nil
}

// peekDelim reports whether the next value starts with want, consuming the
// delimiter when it does. Scalars are consumed and reported as false.
func peekDelim(dec *json.Decoder, want json.Delim) (bool, error) {
	tok, err := dec.Token()
	if err != nil {
		return false, err
	}
	d, ok := tok.(json.Delim)
	if !ok {
		return false, nil
	}
	if d == want {
		return true, nil
	}
	// Some other container: drain it so the caller stays in sync.
	return false, skipRest(dec, 1)
}

// skipValue discards the next value without materializing it.
func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); ok && (d == '{' || d == '[') {
		return skipRest(dec, 1)
	}
	return nil
}

func skipRest(dec *json.Decoder, depth int) error {
	for depth > 0 {
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

// decodeRecord reads the next value and decodes it into v. A read failure
// leaves the stream unusable and is returned as fatal; a value that reads
// fine but does not fit v is returned as malformed and streaming can go on.
func decodeRecord(dec *json.Decoder, v any) (fatal, malformed error) {
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return err, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, err
	}
	return nil, nil
}
