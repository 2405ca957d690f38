// Package access owns the allow-lists and owner identity, and keeps the
// in-memory state synchronized with a durable document through an injected
// persister.
package access

import "sort"

// State is the full access-control state: the single owner principal plus the
// user and group allow-lists. The owner is loaded at startup and never
// mutated; owner membership in Users is neither required nor implied.
type State struct {
	OwnerID   string
	OwnerName string
	Users     map[string]struct{}
	Groups    map[string]struct{}
}

// NewState builds a State from the owner identity and initial allow-lists.
// Duplicate ids collapse into the sets.
func NewState(ownerID, ownerName string, userIDs, groupIDs []string) State {
	s := State{
		OwnerID:   ownerID,
		OwnerName: ownerName,
		Users:     make(map[string]struct{}, len(userIDs)),
		Groups:    make(map[string]struct{}, len(groupIDs)),
	}

	for _, id := range userIDs {
		if id != "" {
			s.Users[id] = struct{}{}
		}
	}
	for _, id := range groupIDs {
		if id != "" {
			s.Groups[id] = struct{}{}
		}
	}

	return s
}

// Clone returns a deep copy so persisters and callers can never alias the
// store's live maps.
func (s State) Clone() State {
	cp := State{
		OwnerID:   s.OwnerID,
		OwnerName: s.OwnerName,
		Users:     make(map[string]struct{}, len(s.Users)),
		Groups:    make(map[string]struct{}, len(s.Groups)),
	}

	for id := range s.Users {
		cp.Users[id] = struct{}{}
	}
	for id := range s.Groups {
		cp.Groups[id] = struct{}{}
	}

	return cp
}

// UserIDs returns the allowed user ids sorted for deterministic output.
func (s State) UserIDs() []string {
	return sortedKeys(s.Users)
}

// GroupIDs returns the allowed group ids sorted for deterministic output.
func (s State) GroupIDs() []string {
	return sortedKeys(s.Groups)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
