package realm

import "time"

// Announcement is one realm notice. Expired entries are dropped on
// read and on mutation.
type Announcement struct {
	ID      uint32    `msgpack:"id"`
	Title   string    `msgpack:"title"`
	Body    string    `msgpack:"body"`
	Expires time.Time `msgpack:"expires,omitempty"`
}

func (a Announcement) live(now time.Time) bool {
	return a.Expires.IsZero() || a.Expires.After(now)
}

type board struct {
	entries []Announcement
}

// add replaces any entry with the same id, pruning expired entries.
func (b *board) add(a Announcement, now time.Time) {
	kept := b.entries[:0]
	for _, e := range b.entries {
		if e.ID != a.ID && e.live(now) {
			kept = append(kept, e)
		}
	}
	b.entries = append(kept, a)
}

// clear removes one entry, or all when id is zero.
func (b *board) clear(id uint32, now time.Time) {
	kept := b.entries[:0]
	for _, e := range b.entries {
		if id != 0 && e.ID != id && e.live(now) {
			kept = append(kept, e)
		}
	}
	b.entries = kept
}

// list returns the live entries.
func (b *board) list(now time.Time) []Announcement {
	var out []Announcement
	for _, e := range b.entries {
		if e.live(now) {
			out = append(out, e)
		}
	}
	return out
}
