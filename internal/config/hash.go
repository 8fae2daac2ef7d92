package config

import (
	"encoding/json"
	"hash/fnv"
)

// hashBytes is FNV-1a over b; empty input hashes to 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// canonicalHashJSON hashes raw JSON after a decode/encode round trip, so
// whitespace and key ordering don't affect the result. Invalid JSON falls
// back to hashing the raw bytes.
func canonicalHashJSON(raw json.RawMessage) uint64 {
	if len(raw) == 0 {
		return 0
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return hashBytes(raw)
	}
	canon, err := json.Marshal(v)
	if err != nil {
		return hashBytes(raw)
	}
	return hashBytes(canon)
}
