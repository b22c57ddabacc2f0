package deroswap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// KeyValue is one string keyed contract variable.
type KeyValue struct {
	Key   string
	Value json.RawMessage
}

// StringKeys holds a contract's string keyed variables in the order the daemon sent them.
type StringKeys []KeyValue

// UnmarshalJSON decodes a JSON object keeping its key order.
func (s *StringKeys) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*s = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("stringkeys: expected object, got %v", tok)
	}

	out := StringKeys{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("stringkeys: expected string key, got %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("stringkeys: value of %q: %w", key, err)
		}
		out = append(out, KeyValue{Key: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*s = out
	return nil
}

// MarshalJSON encodes the variables as a JSON object in order.
func (s StringKeys) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, kv := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(kv.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if len(kv.Value) == 0 {
			buf.WriteString("null")
		} else {
			buf.Write(kv.Value)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Get returns the raw value of key.
func (s StringKeys) Get(key string) (json.RawMessage, bool) {
	for _, kv := range s {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return nil, false
}

// Uint64 returns the numeric value of key.
func (s StringKeys) Uint64(key string) (uint64, error) {
	raw, ok := s.Get(key)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMissingKey, key)
	}
	return decodeUint64(raw)
}

// StringValue returns the string value of key.
func (s StringKeys) StringValue(key string) (string, error) {
	raw, ok := s.Get(key)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrMissingKey, key)
	}
	return decodeString(raw)
}

// decodeUint64 accepts a JSON number or a numeric string.
func decodeUint64(raw json.RawMessage) (uint64, error) {
	var n uint64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return 0, fmt.Errorf("%w: %s is not a number", ErrInvalidValue, raw)
	}
	n, err := strconv.ParseUint(str, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, str)
	}
	return n, nil
}

func decodeString(raw json.RawMessage) (string, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return "", fmt.Errorf("%w: %s is not a string", ErrInvalidValue, raw)
	}
	return str, nil
}
