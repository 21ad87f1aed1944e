package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Context labels for scoped keys.
const (
	LabelInterests = "interests"
	LabelSlots     = "slots"
)

// Key is the cache key for stores whose verdict depends only on the message.
func Key(link string) string {
	return link
}

// ScopedKey is the cache key for stores whose verdict also depends on the
// current preference context. Changing the preferences changes the digest,
// so stale verdicts fall out of scope without an eviction step.
func ScopedKey(link, label string, context []string) string {
	return link + "|" + label + ":" + ContextDigest(context)
}

// ContextDigest hashes a normalized preference list to a fixed 16 character
// hex digest. Case, padding and ordering differences in the input collapse
// to the same digest.
func ContextDigest(values []string) string {
	normalized := make([]string, 0, len(values))
	for _, v := range values {
		normalized = append(normalized, strings.ToLower(strings.TrimSpace(v)))
	}
	sort.Strings(normalized)

	sum := sha256.Sum256([]byte(strings.Join(normalized, "\n")))
	return hex.EncodeToString(sum[:])[:16]
}
