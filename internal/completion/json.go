package completion

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrMalformedResponse wraps any model answer that is not the expected JSON.
var ErrMalformedResponse = errors.New("malformed model response")

// CleanJSON strips Markdown fences and any prose around the JSON payload.
// It keeps the outermost array, or the outermost object when the payload
// starts with '{'.
func CleanJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		idx := strings.Index(s, "\n")
		if idx == -1 {
			return s
		}
		s = strings.TrimSpace(s[idx+1:])
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = strings.TrimSpace(s[:idx])
	}

	open, closing := "[", "]"
	objStart := strings.Index(s, "{")
	arrStart := strings.Index(s, "[")
	if objStart != -1 && (arrStart == -1 || objStart < arrStart) {
		open, closing = "{", "}"
	}

	if start := strings.Index(s, open); start != -1 {
		if end := strings.LastIndex(s, closing); end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}

// DecodeArray parses a model answer that must be a JSON array of objects.
// A top-level object holding a single array field is unwrapped.
func DecodeArray(raw string) ([]map[string]interface{}, error) {
	clean := CleanJSON(raw)

	var parsed interface{}
	if err := json.Unmarshal([]byte(clean), &parsed); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %v", ErrMalformedResponse, err)
	}

	if obj, ok := parsed.(map[string]interface{}); ok {
		for _, v := range obj {
			if arr, ok := v.([]interface{}); ok {
				parsed = arr
				break
			}
		}
	}

	items, ok := parsed.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: top level is %T, want array", ErrMalformedResponse, parsed)
	}

	out := make([]map[string]interface{}, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: element %d is %T, want object", ErrMalformedResponse, i, item)
		}
		out = append(out, m)
	}
	return out, nil
}

// DecodeObject parses a model answer that must be a single JSON object.
func DecodeObject(raw string) (map[string]interface{}, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(CleanJSON(raw)), &obj); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %v", ErrMalformedResponse, err)
	}
	return obj, nil
}

// GetString reads a string field. Missing required fields are an error.
func GetString(m map[string]interface{}, key string, required bool) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("missing required field %q", key)
		}
		return "", nil
	}
	switch val := v.(type) {
	case string:
		if required && strings.TrimSpace(val) == "" {
			return "", fmt.Errorf("required field %q is empty", key)
		}
		return strings.TrimSpace(val), nil
	default:
		return "", fmt.Errorf("field %q has type %T, want string", key, v)
	}
}

// GetOptionalFloat64 reads a number field, returning nil when absent or null.
func GetOptionalFloat64(m map[string]interface{}, key string) (*float64, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch val := v.(type) {
	case float64:
		f := val
		return &f, nil
	case string:
		if strings.TrimSpace(val) == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		return &f, nil
	default:
		return nil, fmt.Errorf("field %q has type %T, want number or null", key, v)
	}
}

// GetDecimal reads a money field. Models sometimes quote numbers, so
// numeric strings such as "-50.00" or "$1,200.00" are accepted.
func GetDecimal(m map[string]interface{}, key string) (decimal.Decimal, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return decimal.Zero, fmt.Errorf("missing required field %q", key)
	}
	switch val := v.(type) {
	case float64:
		return decimal.NewFromFloat(val), nil
	case string:
		s := strings.NewReplacer("$", "", ",", "", " ", "").Replace(val)
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("field %q: %w", key, err)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("field %q has type %T, want number", key, v)
	}
}
