package gatt

import (
	"sort"

	"github.com/srg/gattc/internal/att"
)

// serviceTable is the authoritative ordered mapping from service start
// handle to the owning RemoteService. Entries are kept sorted by start
// handle; the peer guarantees that handle ranges of distinct services never
// overlap, which makes "which service owns handle H" a binary search.
//
// The table structure itself is exclusively owned by the manager; it is not
// safe for concurrent use on its own.
type serviceTable struct {
	entries []*RemoteService // ascending by StartHandle
}

// insert adds svc keeping the sort order. Returns false if an entry with
// the same start handle already exists; the caller discards the duplicate.
func (t *serviceTable) insert(svc *RemoteService) bool {
	i := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].StartHandle() >= svc.StartHandle()
	})
	if i < len(t.entries) && t.entries[i].StartHandle() == svc.StartHandle() {
		return false
	}
	t.entries = append(t.entries, nil)
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = svc
	return true
}

// find returns the entry whose start handle equals h exactly.
func (t *serviceTable) find(h att.Handle) (*RemoteService, bool) {
	i := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].StartHandle() >= h
	})
	if i < len(t.entries) && t.entries[i].StartHandle() == h {
		return t.entries[i], true
	}
	return nil, false
}

// containing returns the service whose handle range covers h: the entry
// with the greatest start handle <= h, if its end handle is still >= h.
// Handles falling in a gap between services resolve to nothing.
func (t *serviceTable) containing(h att.Handle) (*RemoteService, bool) {
	// First entry with start handle > h, then step back one.
	i := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].StartHandle() > h
	})
	if i == 0 {
		return nil, false
	}
	svc := t.entries[i-1]
	if svc.EndHandle() >= h {
		return svc, true
	}
	return nil, false
}

// all returns a snapshot of the entries in ascending handle order.
func (t *serviceTable) all() []*RemoteService {
	out := make([]*RemoteService, len(t.entries))
	copy(out, t.entries)
	return out
}

// detach atomically empties the table and hands the former entries to the
// caller, which is responsible for shutting them down.
func (t *serviceTable) detach() []*RemoteService {
	detached := t.entries
	t.entries = nil
	return detached
}

func (t *serviceTable) len() int {
	return len(t.entries)
}
