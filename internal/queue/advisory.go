package queue

import (
	"hash/fnv"
)

// advisoryKey returns a stable int64 advisory lock key for the given domain
// and ID. The domain prefix keeps lock spaces of unrelated users apart.
//
// Domains in use:
//   - "jobs": PushUniq, keyed by task kind
func advisoryKey(domain, id string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(domain + ":" + id))
	return int64(h.Sum64()) //nolint:gosec // G115: full-range reinterpretation is intended
}

// kindLockKey is the advisory lock serializing PushUniq calls for one kind.
func kindLockKey(kind string) int64 {
	return advisoryKey("jobs", kind)
}
