// Package fusion combines ranked result lists from several memory providers
// into one ranked list. Results are opaque provider-specific objects; identity
// is decided by normalized primary text, never by semantic similarity.
package fusion

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// contentFields is the priority list of known "memory content" field names
// across provider result shapes. Probed in order; first non-empty string wins.
var contentFields = []string{"memory", "content", "text", "chunk", "summary", "episode"}

// Deduplicator extracts comparable text from heterogeneous provider results
// and hashes it for identity.
type Deduplicator struct {
	fields []string
}

// NewDeduplicator creates a deduplicator with the default field priority.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{fields: contentFields}
}

// ExtractContent returns the primary text of a provider result. Unknown
// shapes fall back to their full JSON serialization so that two structurally
// identical objects still compare equal.
func (d *Deduplicator) ExtractContent(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any:
		for _, f := range d.fields {
			if s, ok := v[f].(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(raw)
}

// normalize lowercases, trims, and collapses runs of whitespace.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}

// djb2 is the classic multiplicative rolling hash.
func djb2(s string) uint64 {
	var h uint64 = 5381
	for i := 0; i < len(s); i++ {
		h = h*33 + uint64(s[i])
	}
	return h
}

// Key returns the compact identity key for a result. Two results share a key
// iff their normalized primary text is byte-identical.
func (d *Deduplicator) Key(result any) string {
	return strconv.FormatUint(djb2(normalize(d.ExtractContent(result))), 16)
}

// Dedup drops later occurrences of already-seen content, preserving the order
// of first occurrences. Idempotent: Dedup(Dedup(x)) == Dedup(x).
func (d *Deduplicator) Dedup(results []any) []any {
	seen := make(map[string]bool, len(results))
	out := make([]any, 0, len(results))
	for _, r := range results {
		k := d.Key(r)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}
