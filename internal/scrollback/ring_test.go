package scrollback

import "testing"

func TestBufferSetRowAndGrow(t *testing.T) {
	b := NewBuffer(4, nil) // capacity 16
	b.ChangeLength(1)
	if err := b.SetRow(0, Row{Text: "hello"}, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	row, ok := b.Row(0)
	if !ok || row.Text != "hello" {
		t.Fatalf("got %+v, %v", row, ok)
	}
}

func TestBufferRejectsInvalidUTF8(t *testing.T) {
	b := NewBuffer(4, nil)
	b.ChangeLength(1)
	if err := b.SetRow(0, Row{Text: "\xff\xfe"}, true); err == nil {
		t.Fatal("expected error for invalid UTF-8")
	}
}

func TestBufferRejectsOverlappingRanges(t *testing.T) {
	b := NewBuffer(4, nil)
	b.ChangeLength(1)
	bad := Row{Text: "abcdef", Ranges: []CellRange{{Start: 0, End: 3}, {Start: 2, End: 5}}}
	if err := b.SetRow(0, bad, true); err == nil {
		t.Fatal("expected error for overlapping ranges")
	}
}

func TestChangeLengthEvictsAndSlidesOrigin(t *testing.T) {
	var evictedFrom, evictedCount int
	b := NewBuffer(4, func(from, count int) { // capacity 16
		evictedFrom, evictedCount = from, count
	})

	b.ChangeLength(20) // push 20 rows worth of length: should evict 4
	if b.Origin() != 4 {
		t.Fatalf("expected origin 4 after eviction, got %d", b.Origin())
	}
	if b.Size() != 16 {
		t.Fatalf("expected size 16, got %d", b.Size())
	}
	if evictedCount != 4 || evictedFrom != 0 {
		t.Fatalf("expected eviction of 4 rows from 0, got from=%d count=%d", evictedFrom, evictedCount)
	}
}

func TestChangeCapacityIsIdempotentWhenAppliedTwice(t *testing.T) {
	b := NewBuffer(4, nil)
	b.ChangeLength(10)
	for i := 0; i < 10; i++ {
		b.SetRow(i, Row{Text: "x"}, true)
	}

	b.ChangeCapacity(5)
	snap1 := snapshotBuffer(b)

	b.ChangeCapacity(5)
	snap2 := snapshotBuffer(b)

	if snap1 != snap2 {
		t.Fatalf("applying changeCapacity twice should be idempotent: %v != %v", snap1, snap2)
	}
}

func snapshotBuffer(b *Buffer) [3]int {
	return [3]int{b.Caporder(), b.Origin(), b.Size()}
}

func TestChangeLengthShrinkDropsOutOfRangeSelection(t *testing.T) {
	b := NewBuffer(4, nil)
	b.ChangeLength(10)
	b.SetSelection(Selection{Active: true, StartRow: 0, EndRow: 8})

	b.ChangeLength(4)
	if b.Selection().Active {
		t.Fatal("expected selection referring past new end to be cleared")
	}
}
