package db

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Record is a row in its JSON object form, keyed by column name
type Record map[string]any

// ToRecord converts a JSON-tagged struct (or map) into a Record.
// Numbers are kept as json.Number so integer columns survive the round trip.
func ToRecord(row any) (Record, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("failed to encode row: %w", err)
	}

	var rec Record
	if err := decodeNumbers(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode row: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("row must encode to a JSON object")
	}
	return rec, nil
}

// ToRecords converts a slice of rows into Records
func ToRecords(rows any) ([]Record, error) {
	data, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rows: %w", err)
	}

	var recs []Record
	if err := decodeNumbers(data, &recs); err != nil {
		return nil, fmt.Errorf("failed to decode rows: %w", err)
	}
	return recs, nil
}

// Decode copies src into dest through JSON. A nil dest is a no-op.
func Decode(src any, dest any) error {
	if dest == nil {
		return nil
	}
	data, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return DecodeJSON(data, dest)
}

// DecodeJSON unmarshals a raw result into dest. A nil dest is a no-op.
func DecodeJSON(data []byte, dest any) error {
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

// Columns returns the union of keys across records in first-seen order
func Columns(recs ...Record) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, rec := range recs {
		for _, key := range sortedKeys(rec) {
			if !seen[key] {
				seen[key] = true
				cols = append(cols, key)
			}
		}
	}
	return cols
}

func decodeNumbers(data []byte, dest any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(dest)
}

// normalize puts a filter value into the same shape as a stored Record value
func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := decodeNumbers(data, &out); err != nil {
		return v
	}
	return out
}
