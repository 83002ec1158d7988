package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/simrec/simrec/internal/schema"
)

// encodeValue converts a caller value into the driver value stored for the
// given field type. Arrays become JSON text, timestamps RFC 3339 text.
func encodeValue(ft schema.FieldType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch ft {
	case schema.FieldInt, schema.FieldFK:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		}
	case schema.FieldFloat:
		switch n := v.(type) {
		case float32:
			return float64(n), nil
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		}
	case schema.FieldText:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case schema.FieldBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case schema.FieldDateTime:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.RFC3339Nano), nil
		}
	case schema.FieldArray:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode array: %w", err)
		}
		return string(data), nil
	}
	return nil, fmt.Errorf("value %v (%T) is not representable as %s", v, v, ft)
}

// decodeValue converts a scanned driver value back into the caller-facing
// representation for the given field type. NULL cells decode to nil.
func decodeValue(ft schema.FieldType, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch ft {
	case schema.FieldInt, schema.FieldFK:
		if n, ok := raw.(int64); ok {
			return n, nil
		}
	case schema.FieldFloat:
		switch n := raw.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		}
	case schema.FieldText:
		switch s := raw.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
	case schema.FieldBool:
		switch b := raw.(type) {
		case bool:
			return b, nil
		case int64:
			return b != 0, nil
		}
	case schema.FieldDateTime:
		switch t := raw.(type) {
		case string:
			return time.Parse(time.RFC3339Nano, t)
		case time.Time:
			return t, nil
		}
	case schema.FieldArray:
		var data []byte
		switch b := raw.(type) {
		case []byte:
			data = b
		case string:
			data = []byte(b)
		}
		if data != nil {
			return decodeArray(data)
		}
	}
	return nil, fmt.Errorf("cannot decode %T as %s", raw, ft)
}

// decodeArray parses stored JSON back into the tightest slice type it fits:
// [][]float64, []float64, []string, then a generic []any. JSON carries no
// integer type, so numeric arrays always read back as float64 slices even
// when they were written as []int or [][]int.
func decodeArray(data []byte) (any, error) {
	var nested [][]float64
	if err := json.Unmarshal(data, &nested); err == nil {
		return nested, nil
	}
	var flat []float64
	if err := json.Unmarshal(data, &flat); err == nil {
		return flat, nil
	}
	var texts []string
	if err := json.Unmarshal(data, &texts); err == nil {
		return texts, nil
	}
	var generic []any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("decode array: %w", err)
	}
	return generic, nil
}

// encodeDefault serializes a declared default for the catalog.
func encodeDefault(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	if t, ok := v.(time.Time); ok {
		v = t.UTC().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode default: %w", err)
	}
	return string(data), nil
}

// decodeDefault parses a catalog default back into its typed value.
func decodeDefault(ft schema.FieldType, s string) (any, error) {
	switch ft {
	case schema.FieldInt:
		var n int64
		if err := json.Unmarshal([]byte(s), &n); err != nil {
			return nil, err
		}
		return int(n), nil
	case schema.FieldFloat:
		var f float64
		if err := json.Unmarshal([]byte(s), &f); err != nil {
			return nil, err
		}
		return f, nil
	case schema.FieldText:
		var t string
		if err := json.Unmarshal([]byte(s), &t); err != nil {
			return nil, err
		}
		return t, nil
	case schema.FieldBool:
		var b bool
		if err := json.Unmarshal([]byte(s), &b); err != nil {
			return nil, err
		}
		return b, nil
	case schema.FieldDateTime:
		var t string
		if err := json.Unmarshal([]byte(s), &t); err != nil {
			return nil, err
		}
		return time.Parse(time.RFC3339Nano, t)
	default:
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}
