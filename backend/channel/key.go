// Package channel derives conversation identifiers from participant sets.
//
// Both sides of a conversation must arrive at the same key no matter who
// opens it first, so the key depends only on the set of member ids.
package channel

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// Kind separates one-to-one conversations from group ones.
type Kind string

const (
	DM    Kind = "dm"
	Group Kind = "group"
)

// MaxKeyLength is the longest channel id the chat provider accepts.
const MaxKeyLength = 64

const separator = "_"

// KindFor picks dm for exactly two distinct members and group otherwise.
func KindFor(ids []string) Kind {
	if len(normalize(ids)) == 2 {
		return DM
	}
	return Group
}

// ForMembers is Key with the kind taken from the member count.
func ForMembers(ids []string) string {
	return Key(KindFor(ids), ids)
}

// Key sorts the distinct ids, joins them with "_", prefixes the kind and cuts
// the result to MaxKeyLength. Cutting is a plain prefix, so two long member
// sets sharing a prefix can end up on the same key.
func Key(kind Kind, ids []string) string {
	full := untruncated(kind, ids)
	if len(full) <= MaxKeyLength {
		return full
	}

	cut := MaxKeyLength
	for cut > 0 && !utf8.RuneStart(full[cut]) {
		cut--
	}
	return full[:cut]
}

// Members is the canonical member list a key is built from.
func Members(ids []string) []string {
	return normalize(ids)
}

// Truncated reports whether Key had to cut the key for these members.
func Truncated(kind Kind, ids []string) bool {
	return len(untruncated(kind, ids)) > MaxKeyLength
}

// KindOf reads the kind back from a key.
func KindOf(key string) (Kind, bool) {
	switch {
	case strings.HasPrefix(key, string(DM)+separator):
		return DM, true
	case strings.HasPrefix(key, string(Group)+separator):
		return Group, true
	}
	return "", false
}

func untruncated(kind Kind, ids []string) string {
	return string(kind) + separator + strings.Join(normalize(ids), separator)
}

// normalize returns a sorted copy of ids without blanks or duplicates.
func normalize(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
