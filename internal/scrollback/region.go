package scrollback

import (
	"fmt"
	"sort"

	"github.com/ptyhub/termd/internal/ident"
)

// RegionType enumerates the kinds of region.
type RegionType int

const (
	RegionJob RegionType = iota
	RegionCommand
	RegionPrompt
	RegionOutput
	RegionUser
	RegionImage
	RegionContent
	RegionLink
	RegionSemantic
	RegionSearch
	RegionSelection
)

// Region is a rectangular interval [startRow,startCol) .. [endRow,endCol)
// with a type and an attribute map.
type Region struct {
	ID                 ident.ID
	Type               RegionType
	StartRow, StartCol int
	EndRow, EndCol     int
	Attrs              map[string]string
	Deleted            bool
}

type startKey struct {
	row, col int
	id       ident.ID
}

type endKey struct {
	row, col int
	id       ident.ID
}

// Store maintains a region arena plus three index structures kept in
// lock-step: a hash by id, an ordered set by (startRow,startCol,id),
// and an ordered set by (endRow,endCol,id). Index entries hold only the
// sort key and id — never a pointer — per the "Pointer graphs" design note.
type Store struct {
	arena map[ident.ID]*Region
	byStart []startKey
	byEnd   []endKey
}

// NewStore creates an empty region store.
func NewStore() *Store {
	return &Store{arena: make(map[ident.ID]*Region)}
}

// Get performs a point lookup by id.
func (s *Store) Get(id ident.ID) (*Region, bool) {
	r, ok := s.arena[id]
	return r, ok
}

// Len returns the number of live regions, used by the invariant check in
// tests.
func (s *Store) Len() int {
	return len(s.arena)
}

// SetRegion creates, mutates, or deletes a region depending on attrs and
// the Deleted flag on the passed-in region. A region with
// startRow > endRow is rejected. When
// creating a User-type region, any existing User region it overlaps is
// deleted first.
func (s *Store) SetRegion(r Region, attrs map[string]string) error {
	if r.StartRow > r.EndRow {
		return fmt.Errorf("scrollback: region %s has startRow %d > endRow %d", r.ID, r.StartRow, r.EndRow)
	}

	if r.Deleted {
		s.deleteRegion(r.ID)
		return nil
	}

	if r.Type == RegionUser {
		for _, other := range s.overlapping(r) {
			if other.Type == RegionUser && !other.ID.Equal(r.ID) {
				s.deleteRegion(other.ID)
			}
		}
	}

	r.Attrs = attrs
	if _, exists := s.arena[r.ID]; exists {
		s.deleteIndexEntries(r.ID)
	}
	s.arena[r.ID] = &r
	s.insertIndexEntries(r)
	return nil
}

func (s *Store) insertIndexEntries(r Region) {
	s.byStart = append(s.byStart, startKey{r.StartRow, r.StartCol, r.ID})
	sort.Slice(s.byStart, func(i, j int) bool { return lessStart(s.byStart[i], s.byStart[j]) })

	s.byEnd = append(s.byEnd, endKey{r.EndRow, r.EndCol, r.ID})
	sort.Slice(s.byEnd, func(i, j int) bool { return lessEnd(s.byEnd[i], s.byEnd[j]) })
}

func (s *Store) deleteIndexEntries(id ident.ID) {
	for i, k := range s.byStart {
		if k.id.Equal(id) {
			s.byStart = append(s.byStart[:i], s.byStart[i+1:]...)
			break
		}
	}
	for i, k := range s.byEnd {
		if k.id.Equal(id) {
			s.byEnd = append(s.byEnd[:i], s.byEnd[i+1:]...)
			break
		}
	}
}

func (s *Store) deleteRegion(id ident.ID) {
	if _, ok := s.arena[id]; !ok {
		return
	}
	delete(s.arena, id)
	s.deleteIndexEntries(id)
}

func lessStart(a, b startKey) bool {
	if a.row != b.row {
		return a.row < b.row
	}
	if a.col != b.col {
		return a.col < b.col
	}
	return a.id.String() < b.id.String()
}

func lessEnd(a, b endKey) bool {
	if a.row != b.row {
		return a.row < b.row
	}
	if a.col != b.col {
		return a.col < b.col
	}
	return a.id.String() < b.id.String()
}

func (s *Store) overlapping(r Region) []*Region {
	var out []*Region
	for _, other := range s.arena {
		if other.StartRow <= r.EndRow && r.StartRow <= other.EndRow {
			out = append(out, other)
		}
	}
	return out
}

// FirstAtOrAfterRow returns the first region (by the byStart index) whose
// StartRow is >= row.
func (s *Store) FirstAtOrAfterRow(row int) (*Region, bool) {
	idx := sort.Search(len(s.byStart), func(i int) bool { return s.byStart[i].row >= row })
	if idx == len(s.byStart) {
		return nil, false
	}
	return s.arena[s.byStart[idx].id], true
}

// ContainingRow returns every region whose EndRow is >= row and StartRow
// <= row — i.e. regions that contain the given row.
func (s *Store) ContainingRow(row int) []*Region {
	var out []*Region
	idx := sort.Search(len(s.byEnd), func(i int) bool { return s.byEnd[i].row >= row })
	for i := idx; i < len(s.byEnd); i++ {
		r := s.arena[s.byEnd[i].id]
		if r.StartRow <= row {
			out = append(out, r)
		}
	}
	return out
}

// DeleteBelowRow removes every region whose EndRow is strictly less than
// row — called when the scrollback's origin advances past them.
func (s *Store) DeleteBelowRow(row int) {
	var toDelete []ident.ID
	for id, r := range s.arena {
		if r.EndRow < row {
			toDelete = append(toDelete, id)
		}
	}
	for _, id := range toDelete {
		s.deleteRegion(id)
	}
}

// Clear discards every region.
func (s *Store) Clear() {
	s.arena = make(map[ident.ID]*Region)
	s.byStart = nil
	s.byEnd = nil
}

// ConsistentIndices reports whether every region present in the arena is
// also present in both ordered indices and vice versa — used by tests to
// check the all-three-indices invariant.
func (s *Store) ConsistentIndices() bool {
	if len(s.arena) != len(s.byStart) || len(s.arena) != len(s.byEnd) {
		return false
	}
	for id := range s.arena {
		foundStart, foundEnd := false, false
		for _, k := range s.byStart {
			if k.id.Equal(id) {
				foundStart = true
				break
			}
		}
		for _, k := range s.byEnd {
			if k.id.Equal(id) {
				foundEnd = true
				break
			}
		}
		if !foundStart || !foundEnd {
			return false
		}
	}
	return true
}
