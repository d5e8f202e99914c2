// Package storage - list-key secondary indices.
//
// A list key holds the comma-joined primary keys of a category's members.
// Insertion appends; removal rewrites the member slot as an empty string.
// The schedulers treat an index with no non-empty slot as "clear" and use
// that predicate to decide self-termination.
package storage

import "strings"

// IndexAppend adds id to the list stored under listKey. Appending an id
// that is already a member is a no-op, so retry queues never hold
// duplicates.
func (s *DB) IndexAppend(listKey, id string) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	raw, err := s.Get(listKey)
	if err != nil && err != ErrNotFound {
		return err
	}
	old := string(raw)
	for _, slot := range strings.Split(old, ",") {
		if slot == id {
			return nil
		}
	}
	list := strings.Join([]string{old, id}, ",")
	return s.Put(listKey, []byte(list))
}

// IndexRemove clears id's slot in the list stored under listKey. The slot
// is left in place as an empty string; member count is preserved.
func (s *DB) IndexRemove(listKey, id string) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	raw, err := s.Get(listKey)
	if err != nil {
		if err == ErrNotFound {
			return nil
		}
		return err
	}
	slots := strings.Split(string(raw), ",")
	for i, slot := range slots {
		if slot == id {
			slots[i] = ""
		}
	}
	return s.Put(listKey, []byte(strings.Join(slots, ",")))
}

// IndexMembers returns the non-empty member ids of the list stored under
// listKey. A missing index yields an empty slice.
func (s *DB) IndexMembers(listKey string) ([]string, error) {
	raw, err := s.Get(listKey)
	if err != nil {
		if err == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	var members []string
	for _, slot := range strings.Split(string(raw), ",") {
		if slot != "" {
			members = append(members, slot)
		}
	}
	return members, nil
}

// IndexIsClear reports whether the list stored under listKey has no
// non-empty slot. A missing index is clear.
func (s *DB) IndexIsClear(listKey string) (bool, error) {
	members, err := s.IndexMembers(listKey)
	if err != nil {
		return false, err
	}
	return len(members) == 0, nil
}
