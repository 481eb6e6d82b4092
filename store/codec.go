package store

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/s2"

	"github.com/IvanBrykalov/swipedeck/record"
)

// encodeRecord produces the compact representation of an idle entry.
func encodeRecord(r record.Record) ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("store: encode %q: %w", r.ID, err)
	}
	return s2.EncodeBetter(nil, raw), nil
}

// decodeRecord reverses encodeRecord.
func decodeRecord(b []byte) (record.Record, error) {
	raw, err := s2.Decode(nil, b)
	if err != nil {
		return record.Record{}, fmt.Errorf("store: decompress: %w", err)
	}
	var r record.Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return record.Record{}, fmt.Errorf("store: decode: %w", err)
	}
	return r, nil
}
