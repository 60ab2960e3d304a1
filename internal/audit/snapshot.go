package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jmerrifield20/anchorkit/internal/store"
	"github.com/klauspost/compress/zstd"
)

// Export serialises the whole chain as zstd-compressed JSON lines, one entry
// per line in id order.
func Export(r store.Reader) ([]byte, error) {
	n, err := Len(r)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for id := uint64(1); id <= n; id++ {
		e, err := Get(r, id)
		if err != nil {
			return nil, err
		}
		if err := enc.Encode(e); err != nil {
			return nil, fmt.Errorf("encode entry %d: %w", id, err)
		}
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder: %w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(buf.Bytes(), nil), nil
}

// Decode parses a snapshot produced by Export and verifies that the entries
// form an unbroken chain from GenesisHash.
func Decode(snapshot []byte) ([]*Entry, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	defer decoder.Close()

	raw, err := decoder.DecodeAll(snapshot, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}

	var entries []*Entry
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64<<10), 16<<20)
	prev := GenesisHash
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("decode entry %d: %w", len(entries)+1, err)
		}
		if e.ID != uint64(len(entries))+1 {
			return nil, fmt.Errorf("snapshot out of order: entry %d at position %d", e.ID, len(entries)+1)
		}
		if err := e.check(prev); err != nil {
			return nil, err
		}
		prev = e.Hash
		entries = append(entries, &e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	return entries, nil
}
