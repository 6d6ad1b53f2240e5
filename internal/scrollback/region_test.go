package scrollback

import (
	"testing"

	"github.com/ptyhub/termd/internal/ident"
)

func TestSetRegionRejectsInvertedRows(t *testing.T) {
	s := NewStore()
	r := Region{ID: ident.New(), StartRow: 5, EndRow: 2}
	if err := s.SetRegion(r, nil); err == nil {
		t.Fatal("expected rejection for startRow > endRow")
	}
}

func TestSetRegionMaintainsAllThreeIndices(t *testing.T) {
	s := NewStore()
	r := Region{ID: ident.New(), Type: RegionOutput, StartRow: 1, StartCol: 0, EndRow: 3, EndCol: 5}
	if err := s.SetRegion(r, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.ConsistentIndices() {
		t.Fatal("expected all three indices to stay consistent after insert")
	}

	s.SetRegion(Region{ID: r.ID, Deleted: true}, nil)
	if s.Len() != 0 || !s.ConsistentIndices() {
		t.Fatal("expected region to be fully removed from all indices after deletion")
	}
}

func TestOverlappingUserRegionIsReplaced(t *testing.T) {
	s := NewStore()
	first := Region{ID: ident.New(), Type: RegionUser, StartRow: 0, EndRow: 2}
	s.SetRegion(first, nil)

	second := Region{ID: ident.New(), Type: RegionUser, StartRow: 1, EndRow: 3}
	s.SetRegion(second, nil)

	if _, ok := s.Get(first.ID); ok {
		t.Fatal("expected overlapping prior user region to be deleted")
	}
	if _, ok := s.Get(second.ID); !ok {
		t.Fatal("expected new user region to be present")
	}
}

func TestDeleteBelowRowRemovesOnlyFullyStaleRegions(t *testing.T) {
	s := NewStore()
	stale := Region{ID: ident.New(), StartRow: 0, EndRow: 2}
	surviving := Region{ID: ident.New(), StartRow: 2, EndRow: 5}
	s.SetRegion(stale, nil)
	s.SetRegion(surviving, nil)

	s.DeleteBelowRow(4)

	if _, ok := s.Get(stale.ID); ok {
		t.Fatal("expected region ending before new origin to be deleted")
	}
	if _, ok := s.Get(surviving.ID); !ok {
		t.Fatal("expected region still reachable from new origin to survive")
	}
	if !s.ConsistentIndices() {
		t.Fatal("expected indices to remain consistent after eviction")
	}
}

func TestFirstAtOrAfterRowAndContainingRow(t *testing.T) {
	s := NewStore()
	s.SetRegion(Region{ID: ident.New(), StartRow: 5, EndRow: 10}, nil)
	s.SetRegion(Region{ID: ident.New(), StartRow: 1, EndRow: 3}, nil)

	first, ok := s.FirstAtOrAfterRow(4)
	if !ok || first.StartRow != 5 {
		t.Fatalf("expected first region at or after row 4 to start at row 5, got %+v ok=%v", first, ok)
	}

	containing := s.ContainingRow(2)
	if len(containing) != 1 || containing[0].StartRow != 1 {
		t.Fatalf("expected row 2 to be contained by the 1..3 region, got %+v", containing)
	}
}

// scrollback eviction end-to-end.
func TestScrollbackEvictionScenario(t *testing.T) {
	store := NewStore()
	buf := NewBuffer(4, func(from, count int) { // caporder=4 -> capacity 16
		store.DeleteBelowRow(from + count)
	})

	// A region ending at row 2 (before the new origin of 4) must be deleted.
	store.SetRegion(Region{ID: ident.New(), StartRow: 0, EndRow: 2}, nil)

	buf.ChangeLength(20)

	if buf.Origin() != 4 {
		t.Fatalf("expected origin 4, got %d", buf.Origin())
	}
	if buf.Size() != 16 {
		t.Fatalf("expected size 16, got %d", buf.Size())
	}
	if store.Len() != 0 {
		t.Fatalf("expected region ending before new origin to be evicted from all indices, store has %d regions", store.Len())
	}
}
