package music

// IDListChunk is the growth step of an IDList's backing array
const IDListChunk = 10

// IDList is the ordered set of music identifiers owned by a user
type IDList struct {
	ids []int64
}

// NewIDList creates a list holding ids in order, skipping duplicates
func NewIDList(ids ...int64) *IDList {
	l := &IDList{}
	for _, id := range ids {
		l.Append(id)
	}
	return l
}

// Len returns the number of identifiers
func (l *IDList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.ids)
}

// IDs returns a copy of the identifiers
func (l *IDList) IDs() []int64 {
	if l == nil {
		return nil
	}
	out := make([]int64, len(l.ids))
	copy(out, l.ids)
	return out
}

// Search returns the position of id, or -1 when absent
func (l *IDList) Search(id int64) int {
	if l == nil {
		return -1
	}
	for i, v := range l.ids {
		if v == id {
			return i
		}
	}
	return -1
}

// Contains reports whether id is in the list
func (l *IDList) Contains(id int64) bool {
	return l.Search(id) >= 0
}

// Append adds id at the end. It returns false when id is already present.
func (l *IDList) Append(id int64) bool {
	if l.Contains(id) {
		return false
	}
	if len(l.ids) == cap(l.ids) {
		grown := make([]int64, len(l.ids), cap(l.ids)+IDListChunk)
		copy(grown, l.ids)
		l.ids = grown
	}
	l.ids = append(l.ids, id)
	return true
}

// Remove drops id from the list, keeping the order of the others.
// It returns false when id was not present.
func (l *IDList) Remove(id int64) bool {
	pos := l.Search(id)
	if pos < 0 {
		return false
	}
	kept := make([]int64, 0, cap(l.ids))
	kept = append(kept, l.ids[:pos]...)
	kept = append(kept, l.ids[pos+1:]...)
	l.ids = kept
	return true
}
