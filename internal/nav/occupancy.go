package nav

import "sort"

// AreaChange reports a player crossing an area boundary as their
// committed-path head advances.
type AreaChange struct {
	Area    string
	Player  Player
	Entered bool
}

// Occupancy tracks player positions on a manifold and derives area
// membership changes. It belongs to the realm loop and is not safe
// for concurrent use.
type Occupancy struct {
	m        *Manifold
	position map[Player]PointID
}

func NewOccupancy(m *Manifold) *Occupancy {
	return &Occupancy{m: m, position: map[Player]PointID{}}
}

// Position reports a player's current point.
func (o *Occupancy) Position(p Player) (PointID, bool) {
	id, ok := o.position[p]
	return id, ok
}

// Move places a player at a point and returns the area boundary
// crossings the move caused, leaves before enters.
func (o *Occupancy) Move(p Player, to PointID) []AreaChange {
	var before []string
	if prev, ok := o.position[p]; ok {
		before = o.m.AreasAt(prev)
	}
	after := o.m.AreasAt(to)
	o.position[p] = to
	return diffAreas(p, before, after)
}

// Remove drops a player from the manifold, leaving all their areas.
func (o *Occupancy) Remove(p Player) []AreaChange {
	prev, ok := o.position[p]
	if !ok {
		return nil
	}
	delete(o.position, p)
	return diffAreas(p, o.m.AreasAt(prev), nil)
}

// Occupants returns the players inside an area, ascending.
func (o *Occupancy) Occupants(area string) []Player {
	members := map[PointID]struct{}{}
	for _, pt := range o.m.areas[area] {
		members[pt] = struct{}{}
	}
	var out []Player
	for p, at := range o.position {
		if _, ok := members[at]; ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func diffAreas(p Player, before, after []string) []AreaChange {
	in := func(list []string, area string) bool {
		for _, a := range list {
			if a == area {
				return true
			}
		}
		return false
	}
	var changes []AreaChange
	for _, a := range before {
		if !in(after, a) {
			changes = append(changes, AreaChange{Area: a, Player: p, Entered: false})
		}
	}
	for _, a := range after {
		if !in(before, a) {
			changes = append(changes, AreaChange{Area: a, Player: p, Entered: true})
		}
	}
	return changes
}
