package inventory

import (
	"encoding/json"
	"fmt"
)

// Attributes is an open map of scalar values attached to a movement.
type Attributes map[string]any

// Validate rejects nested values; only strings, numbers, booleans and null
// are accepted.
func (a Attributes) Validate() error {
	for k, v := range a {
		if k == "" {
			return validationf("attribute key must not be empty")
		}
		switch v.(type) {
		case nil, string, bool, float64, float32, int, int32, int64, json.Number:
		default:
			return validationf("attribute %q must be a scalar, got %T", k, v)
		}
	}
	return nil
}

func (a Attributes) marshal() ([]byte, error) {
	if len(a) == 0 {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(map[string]any(a))
	if err != nil {
		return nil, fmt.Errorf("inventory: encode attributes: %w", err)
	}
	return raw, nil
}

func unmarshalAttributes(raw []byte) (Attributes, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("inventory: decode attributes: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return Attributes(out), nil
}
