package annotation

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGen issues globally unique annotation ids for one author. Ids are
// `{authorId}-{n}` with a per-author monotonic counter, so two authors can
// never collide and one author's ids stay unique across rapid tool commits.
// It is shared between the UI callback and the session goroutine, so the
// counter is atomic.
type IDGen struct {
	authorID string
	val      atomic.Uint64
}

// NewIDGen creates a generator for the given author. An empty authorID falls
// back to a random per-session identity so ids stay globally unique.
func NewIDGen(authorID string) *IDGen {
	if authorID == "" {
		authorID = uuid.NewString()
	}
	return &IDGen{authorID: authorID}
}

// Next returns the next annotation id (counter monotonically increasing from 1).
func (g *IDGen) Next() string {
	return fmt.Sprintf("%s-%d", g.authorID, g.val.Add(1))
}
