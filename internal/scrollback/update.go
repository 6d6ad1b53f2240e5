package scrollback

// MaxContinuation bounds how far EndUpdate extends its recompute window
// across rows carrying the Continuation flag.
const MaxContinuation = 32

// EndUpdate recomputes text-link and OSC-8 style regions within
// [startRow,endRow], extending the window by up to MaxContinuation rows on
// each side: downward while the first row is a Continuation row, upward
// while the row after the last one is. It
// reports whether any region changed so callers can notify watchers.
//
// linker is the external-collaborator hook that decides which spans of a
// row's text should become Link regions; it is intentionally injected
// because link detection is a text-processing concern outside the scope of
// the buffer/region store itself.
func EndUpdate(buf *Buffer, store *Store, startRow, endRow int, linker func(text string) []CellRange) bool {
	lo := extendLower(buf, startRow)
	hi := extendUpper(buf, endRow)

	changed := false
	for row := lo; row <= hi; row++ {
		r, ok := buf.Row(row)
		if !ok {
			continue
		}
		newLinks := linker(r.Text)
		if regionsDifferFromLinks(store, row, newLinks) {
			changed = true
		}
		replaceLinkRegionsForRow(store, row, newLinks)
	}
	return changed
}

func extendLower(buf *Buffer, row int) int {
	for i := 0; i < MaxContinuation; i++ {
		r, ok := buf.Row(row)
		if !ok || !r.Continuation || row <= buf.Origin() {
			break
		}
		row--
	}
	return row
}

func extendUpper(buf *Buffer, row int) int {
	last := buf.Origin() + buf.Size() - 1
	for i := 0; i < MaxContinuation; i++ {
		if row >= last {
			break
		}
		next, ok := buf.Row(row + 1)
		if !ok || !next.Continuation {
			break
		}
		row++
	}
	return row
}

func regionsDifferFromLinks(store *Store, row int, links []CellRange) bool {
	existing := linkRegionsForRow(store, row)
	if len(existing) != len(links) {
		return true
	}
	for i, l := range links {
		e := existing[i]
		if e.StartCol != l.Start || e.EndCol != l.End {
			return true
		}
	}
	return false
}

func linkRegionsForRow(store *Store, row int) []*Region {
	var out []*Region
	for _, r := range store.ContainingRow(row) {
		if r.Type == RegionLink && r.StartRow == row && r.EndRow == row {
			out = append(out, r)
		}
	}
	return out
}

func replaceLinkRegionsForRow(store *Store, row int, links []CellRange) {
	for _, r := range linkRegionsForRow(store, row) {
		store.SetRegion(Region{ID: r.ID, Deleted: true}, nil)
	}
	for _, l := range links {
		id := newDeterministicLinkID(row, l.Start)
		store.SetRegion(Region{
			ID:       id,
			Type:     RegionLink,
			StartRow: row,
			StartCol: l.Start,
			EndRow:   row,
			EndCol:   l.End,
		}, map[string]string{"content.link": l.Link})
	}
}
