package scrollback

import (
	"crypto/md5"
	"fmt"

	"github.com/ptyhub/termd/internal/ident"
)

// newDeterministicLinkID derives a stable region id for a link found at a
// given row/column so that recomputing links on an unchanged row does not
// spuriously churn region ids between EndUpdate passes.
func newDeterministicLinkID(row, col int) ident.ID {
	sum := md5.Sum([]byte(fmt.Sprintf("link:%d:%d", row, col)))
	id, err := ident.FromBytes(sum[:16])
	if err != nil {
		// Unreachable: sum[:16] is always exactly 16 bytes.
		return ident.New()
	}
	return id
}
