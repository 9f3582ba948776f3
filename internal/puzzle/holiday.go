package puzzle

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// holiday flips its output on holiday boundaries. The calendar is a
// fixed-date list ("MM-DD") plus Easter when the list names "easter".
type holiday struct {
	inert
	dates  map[string]struct{}
	easter bool
	last   bool
}

func newHoliday(d Def, now time.Time, state []byte) (Piece, error) {
	h := &holiday{dates: map[string]struct{}{}}
	for _, entry := range d.Holidays {
		if entry == "easter" {
			h.easter = true
			continue
		}
		h.dates[entry] = struct{}{}
	}
	if state != nil {
		if err := msgpack.Unmarshal(state, &h.last); err != nil {
			return nil, err
		}
	} else {
		h.last = h.isHoliday(now)
	}
	return h, nil
}

func (h *holiday) isHoliday(t time.Time) bool {
	t = t.UTC()
	if _, ok := h.dates[t.Format("01-02")]; ok {
		return true
	}
	if h.easter {
		m, d := easterDate(t.Year())
		if int(t.Month()) == m && t.Day() == d {
			return true
		}
	}
	return false
}

// easterDate computes Gregorian Easter Sunday with the anonymous
// computus, returning month and day.
func easterDate(year int) (int, int) {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return month, day
}

func (h *holiday) Tick(now time.Time) []SimpleEvent {
	current := h.isHoliday(now)
	if current == h.last {
		return nil
	}
	h.last = current
	return []SimpleEvent{{Event: EventChanged, Value: BoolValue(current)}}
}

func (h *holiday) Next(now time.Time) (time.Time, bool) {
	midnight := now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	return midnight, true
}

func (h *holiday) State() (any, error) { return h.last, nil }
