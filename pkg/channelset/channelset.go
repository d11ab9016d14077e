// Package channelset provides pure set algebra over subscription topic
// identifiers: canonical list construction, cheap equality, and the
// add/remove delta between two points in time.
package channelset

import "sort"

// Diff decomposes the difference between two topic sets. No ordering is
// guaranteed within Added or Removed.
type Diff struct {
	Added   []string
	Removed []string
}

// BuildChannelList returns the topics deduplicated and lexicographically
// sorted, so two lists covering the same set compare equal positionally.
// Empty topic strings are dropped.
func BuildChannelList(topics []string) []string {
	seen := make(map[string]struct{}, len(topics))
	list := make([]string, 0, len(topics))
	for _, topic := range topics {
		if topic == "" {
			continue
		}
		if _, duplicate := seen[topic]; duplicate {
			continue
		}
		seen[topic] = struct{}{}
		list = append(list, topic)
	}
	sort.Strings(list)
	return list
}

// Equal reports positional equality of two lists.
func Equal(first []string, second []string) bool {
	if len(first) != len(second) {
		return false
	}
	for index := range first {
		if first[index] != second[index] {
			return false
		}
	}
	return true
}

// DiffChannelSets returns topics present in next but not previous as Added,
// and topics present in previous but not next as Removed.
func DiffChannelSets(previous []string, next []string) Diff {
	previousSet := make(map[string]struct{}, len(previous))
	for _, topic := range previous {
		previousSet[topic] = struct{}{}
	}
	nextSet := make(map[string]struct{}, len(next))
	for _, topic := range next {
		nextSet[topic] = struct{}{}
	}
	diff := Diff{Added: []string{}, Removed: []string{}}
	for _, topic := range next {
		if _, existed := previousSet[topic]; !existed {
			diff.Added = append(diff.Added, topic)
		}
	}
	for _, topic := range previous {
		if _, remains := nextSet[topic]; !remains {
			diff.Removed = append(diff.Removed, topic)
		}
	}
	return diff
}
