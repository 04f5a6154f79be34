package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// Event is one event emitted by a transaction. ParsedJSON is left opaque here; the inference
// package decodes the fields it recognizes.
type Event struct {
	Type       string         `json:"type"`
	ParsedJSON map[string]any `json:"parsedJson"`
}

// Receipt is the confirmed outcome of a transaction.
type Receipt struct {
	Digest string  `json:"digest"`
	Events []Event `json:"events"`
}

// Submitter signs a transaction, hands it to the ledger and waits for the receipt. It blocks
// until the receipt is available, the submission fails, or ctx ends.
type Submitter interface {
	SignAndExecute(ctx context.Context, tx *Transaction) (*Receipt, error)
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, tx *Transaction) (*Receipt, error)

func (f SubmitterFunc) SignAndExecute(ctx context.Context, tx *Transaction) (*Receipt, error) {
	return f(ctx, tx)
}

// Uint64Field reads a u64 from an event payload. The node serializes u64 as a decimal string,
// but numbers are accepted too.
func Uint64Field(fields map[string]any, key string) (uint64, bool, error) {
	raw, ok := fields[key]
	if !ok || raw == nil {
		return 0, false, nil
	}
	v, err := ToUint64(raw)
	if err != nil {
		return 0, true, fmt.Errorf("field %s: %w", key, err)
	}
	return v, true, nil
}

// Uint64SliceField reads a vector<u64> from an event payload.
func Uint64SliceField(fields map[string]any, key string) ([]uint64, bool, error) {
	raw, ok := fields[key]
	if !ok || raw == nil {
		return nil, false, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, true, fmt.Errorf("field %s: expected array, got %T", key, raw)
	}
	out := make([]uint64, len(items))
	for i, item := range items {
		v, err := ToUint64(item)
		if err != nil {
			return nil, true, fmt.Errorf("field %s[%d]: %w", key, i, err)
		}
		out[i] = v
	}
	return out, true, nil
}

// ToUint64 converts the JSON representations a node may use for u64 values.
func ToUint64(raw any) (uint64, error) {
	switch v := raw.(type) {
	case string:
		return strconv.ParseUint(v, 10, 64)
	case float64:
		if v < 0 || v != float64(uint64(v)) {
			return 0, fmt.Errorf("not an unsigned integer: %v", v)
		}
		return uint64(v), nil
	case json.Number:
		return strconv.ParseUint(v.String(), 10, 64)
	case int:
		if v < 0 {
			return 0, fmt.Errorf("negative value: %d", v)
		}
		return uint64(v), nil
	case int64:
		if v < 0 {
			return 0, fmt.Errorf("negative value: %d", v)
		}
		return uint64(v), nil
	case uint64:
		return v, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", raw)
	}
}
