package puzzle

import (
	"errors"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// clock derives its tick from wall time instead of counting, so a
// stopped server resumes at the right value.
type clock struct {
	inert
	period uint32
	shift  uint32
	max    uint32
	last   time.Time
}

type clockState struct {
	Period uint32 `msgpack:"period"`
	Shift  uint32 `msgpack:"shift"`
}

func newClock(d Def, now time.Time, state []byte) (Piece, error) {
	if d.Period == 0 || d.Max == 0 {
		return nil, errors.New("clock requires a non-zero period and max")
	}
	c := &clock{period: d.Period, max: d.Max, last: now}
	if d.Shift != nil {
		c.shift = *d.Shift
	} else {
		c.shift = uint32(now.Unix() % int64(d.Period))
	}
	if state != nil {
		var saved clockState
		if err := msgpack.Unmarshal(state, &saved); err != nil {
			return nil, err
		}
		if saved.Period != 0 {
			c.period = saved.Period
		}
		c.shift = saved.Shift
	}
	return c, nil
}

func (c *clock) tickAt(t time.Time) uint32 {
	return uint32((t.Unix()-int64(c.shift))/int64(c.period)) % c.max
}

func (c *clock) Tick(now time.Time) []SimpleEvent {
	current, last := c.tickAt(now), c.tickAt(c.last)
	if current == last {
		return nil
	}
	c.last = now
	return []SimpleEvent{{Event: EventChanged, Value: NumValue(current)}}
}

func (c *clock) Next(time.Time) (time.Time, bool) {
	return c.last.Add(time.Duration(c.period) * time.Second), true
}

func (c *clock) State() (any, error) {
	return clockState{Period: c.period, Shift: c.shift}, nil
}
