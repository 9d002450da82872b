package client

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/fenggwsx/SlashBoard/internal/protocol"
)

// threadBoard is the client's local view of the board, fed by query
// results and watch events.
type threadBoard struct {
	messages map[uint64]protocol.MessageRecord
	removed  map[uint64]struct{}
}

func newThreadBoard() *threadBoard {
	return &threadBoard{
		messages: make(map[uint64]protocol.MessageRecord),
		removed:  make(map[uint64]struct{}),
	}
}

func (t *threadBoard) upsert(rec protocol.MessageRecord) {
	if _, gone := t.removed[rec.ID]; gone {
		return
	}
	t.messages[rec.ID] = rec
}

func (t *threadBoard) remove(id uint64) {
	t.removed[id] = struct{}{}
	delete(t.messages, id)
}

func (t *threadBoard) get(id uint64) (protocol.MessageRecord, bool) {
	rec, ok := t.messages[id]
	return rec, ok
}

func (t *threadBoard) len() int {
	return len(t.messages)
}

// render lays the known messages out as reply trees. Replies whose parent
// is unknown or removed start their own tree.
func (t *threadBoard) render(self string) []string {
	children := make(map[uint64][]uint64)
	var roots []uint64
	for id, rec := range t.messages {
		if rec.ParentID != nil {
			if _, ok := t.messages[*rec.ParentID]; ok {
				children[*rec.ParentID] = append(children[*rec.ParentID], id)
				continue
			}
		}
		roots = append(roots, id)
	}
	slices.SortFunc(roots, cmp.Compare[uint64])

	lines := make([]string, 0, len(t.messages))
	var walk func(id uint64, depth int)
	walk = func(id uint64, depth int) {
		lines = append(lines, formatRecord(t.messages[id], depth, self))
		kids := children[id]
		slices.SortFunc(kids, cmp.Compare[uint64])
		for _, child := range kids {
			walk(child, depth+1)
		}
	}
	for _, id := range roots {
		walk(id, 0)
	}
	return lines
}

func formatRecord(rec protocol.MessageRecord, depth int, self string) string {
	var b strings.Builder
	if depth > 0 {
		b.WriteString(strings.Repeat("  ", depth-1))
		b.WriteString("└ ")
	} else if rec.ParentID != nil {
		fmt.Fprintf(&b, "↳ #%d ", *rec.ParentID)
	}
	fmt.Fprintf(&b, "[#%d] [%s] %s: %s", rec.ID, formatTimestamp(rec.CreatedAt), displayAuthor(rec.Author, self), rec.Content)
	if rec.UpdatedAt != nil {
		b.WriteString(" (edited)")
	}
	if rec.Likes > 0 {
		fmt.Fprintf(&b, " +%d", rec.Likes)
	}
	return b.String()
}

func formatTimestamp(ns uint64) string {
	if ns == 0 {
		return "--:--:--"
	}
	return time.Unix(0, int64(ns)).Local().Format("15:04:05")
}

func displayAuthor(author, self string) string {
	if self != "" && author == self {
		return "you"
	}
	if len(author) > 8 {
		return author[:8]
	}
	if author == "" {
		return "unknown"
	}
	return author
}
