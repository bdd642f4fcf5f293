package warmer

import (
	"sort"
	"strings"

	"chatwarmer/internal/storage"
)

// sortRing orders accounts by address, forming the canonical recipient ring.
func sortRing(accounts []storage.Account) []storage.Account {
	ring := append([]storage.Account(nil), accounts...)
	sort.Slice(ring, func(i, j int) bool { return ring[i].Address < ring[j].Address })
	return ring
}

// nextRecipient returns the account after the sender in the ring, wrapping to
// the first. The sender never receives its own message; a ring of fewer than
// two accounts has no valid assignment.
func nextRecipient(ring []storage.Account, senderID string) (storage.Account, bool) {
	if len(ring) < 2 {
		return storage.Account{}, false
	}
	for i, a := range ring {
		if a.ID == senderID {
			return ring[(i+1)%len(ring)], true
		}
	}
	return storage.Account{}, false
}

// pickGroup chooses one of up to two configured group names with a fresh
// unweighted coin flip. Returns "" when no group is configured.
func pickGroup(primary, secondary string, intn func(n int) int) string {
	primary = strings.TrimSpace(primary)
	secondary = strings.TrimSpace(secondary)
	switch {
	case primary == "" && secondary == "":
		return ""
	case secondary == "":
		return primary
	case primary == "":
		return secondary
	}
	if intn(2) == 0 {
		return primary
	}
	return secondary
}
