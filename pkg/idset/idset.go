// Package idset provides a small unordered set of integer ids, used
// throughout the scheduler to identify cores, NUMA nodes and cache
// domains without pulling in a container-runtime cpuset library.
package idset

import (
	"sort"
	"strconv"
)

// Unknown represents an unset/invalid id.
const Unknown ID = -1

// ID is an integer id used to identify cores, NUMA nodes, caches, etc.
type ID int

// Set is an unordered collection of ids.
type Set map[ID]struct{}

// New creates a Set out of the given ids.
func New(ids ...ID) Set {
	s := make(Set, len(ids))
	s.Add(ids...)
	return s
}

// NewFromInts creates a Set out of the given plain ints.
func NewFromInts(ids ...int) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[ID(id)] = struct{}{}
	}
	return s
}

// Clone returns a copy of the set.
func (s Set) Clone() Set {
	return New(s.Members()...)
}

// Add inserts ids into the set.
func (s Set) Add(ids ...ID) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}

// Del removes ids from the set.
func (s Set) Del(ids ...ID) {
	for _, id := range ids {
		delete(s, id)
	}
}

// Size returns the number of ids in the set.
func (s Set) Size() int {
	return len(s)
}

// Has returns true if all given ids are present in the set.
func (s Set) Has(ids ...ID) bool {
	for _, id := range ids {
		if _, ok := s[id]; !ok {
			return false
		}
	}
	return true
}

// Members returns the ids in the set in unspecified order.
func (s Set) Members() []ID {
	ids := make([]ID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	return ids
}

// SortedMembers returns the ids in the set in ascending order.
func (s Set) SortedMembers() []ID {
	ids := s.Members()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Intersects reports whether the two sets share at least one id.
func (s Set) Intersects(other Set) bool {
	small, big := s, other
	if len(big) < len(small) {
		small, big = big, small
	}
	for id := range small {
		if big.Has(id) {
			return true
		}
	}
	return false
}

// String renders the set as a comma-separated, sorted list.
func (s Set) String() string {
	return s.StringWithSeparator(",")
}

// StringWithSeparator renders the set as a sorted list using sep.
func (s Set) StringWithSeparator(sep string) string {
	if len(s) == 0 {
		return ""
	}
	out, t := "", ""
	for _, id := range s.SortedMembers() {
		out += t + strconv.Itoa(int(id))
		t = sep
	}
	return out
}
