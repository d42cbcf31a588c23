package config

import "hash/fnv"

// hashBytes returns a content hash used to skip no-op reloads.
// Empty input hashes to 0 so "no file" never matches real content.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
