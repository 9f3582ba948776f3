package nav

import (
	"container/heap"
	"time"
)

// GateState reports whether a named gate is currently open.
type GateState func(gate string) bool

// Step is one edge traversal in a planned path.
type Step struct {
	Edge     string
	From, To PointID
	Duration time.Duration
	// Gated marks a step over a gated edge that was closed at plan
	// time.
	Gated bool
}

// PathPlan is the outcome of planning: a committed prefix free of
// closed gates, plus an optional pending suffix whose first step
// crosses a closed gate. The suffix is re-planned whenever gate
// outputs change.
type PathPlan struct {
	Committed []Step
	Pending   []Step
}

// Found reports whether any route exists.
func (p PathPlan) Found() bool { return len(p.Committed) > 0 || len(p.Pending) > 0 }

// Destination is the last point the plan reaches.
func (p PathPlan) Destination(from PointID) PointID {
	if len(p.Pending) > 0 {
		return p.Pending[len(p.Pending)-1].To
	}
	if len(p.Committed) > 0 {
		return p.Committed[len(p.Committed)-1].To
	}
	return from
}

type frontierItem struct {
	point PointID
	dist  uint64
	// via is the edge that reached this point; ties on dist break by
	// lexicographic edge id, keeping plans deterministic.
	via   string
	index int
}

type frontier []*frontierItem

func (f frontier) Len() int { return len(f) }
func (f frontier) Less(i, j int) bool {
	if f[i].dist != f[j].dist {
		return f[i].dist < f[j].dist
	}
	if f[i].via != f[j].via {
		return f[i].via < f[j].via
	}
	return f[i].point < f[j].point
}
func (f frontier) Swap(i, j int) {
	f[i], f[j] = f[j], f[i]
	f[i].index = i
	f[j].index = j
}
func (f *frontier) Push(x any) {
	item := x.(*frontierItem)
	item.index = len(*f)
	*f = append(*f, item)
}
func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*f = old[:n-1]
	return item
}

// PlanPath finds the cheapest route from one point to another.
// Closed gated edges cost BoundaryPenalty extra, so walks around a
// shut door win unless the detour is long; the route splits into the
// committed prefix at the first closed gate.
func (m *Manifold) PlanPath(from, to PointID, gates GateState) PathPlan {
	if _, ok := m.points[from]; !ok {
		return PathPlan{}
	}
	if _, ok := m.points[to]; !ok {
		return PathPlan{}
	}
	if from == to {
		return PathPlan{}
	}

	type arrival struct {
		prev PointID
		edge string
	}
	dist := map[PointID]uint64{from: 0}
	settled := map[PointID]bool{}
	came := map[PointID]arrival{}

	pq := &frontier{}
	heap.Init(pq)
	heap.Push(pq, &frontierItem{point: from})

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(*frontierItem)
		if settled[cur.point] {
			continue
		}
		settled[cur.point] = true
		if cur.point == to {
			break
		}
		for _, edgeID := range m.adj[cur.point] {
			e := m.edges[edgeID]
			next := e.B
			if next == cur.point {
				next = e.A
			}
			if settled[next] {
				continue
			}
			cost := uint64(e.Cost)
			if e.Gate != "" && (gates == nil || !gates(e.Gate)) {
				cost += BoundaryPenalty
			}
			cand := cur.dist + cost
			if best, seen := dist[next]; !seen || cand < best ||
				(cand == best && edgeID < came[next].edge) {
				dist[next] = cand
				came[next] = arrival{prev: cur.point, edge: edgeID}
				heap.Push(pq, &frontierItem{point: next, dist: cand, via: edgeID})
			}
		}
	}

	if !settled[to] {
		return PathPlan{}
	}

	var steps []Step
	for at := to; at != from; {
		a := came[at]
		e := m.edges[a.edge]
		steps = append(steps, Step{
			Edge:     a.edge,
			From:     a.prev,
			To:       at,
			Duration: e.Duration,
			Gated:    e.Gate != "" && (gates == nil || !gates(e.Gate)),
		})
		at = a.prev
	}
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}

	split := len(steps)
	for i, s := range steps {
		if s.Gated {
			split = i
			break
		}
	}
	return PathPlan{Committed: steps[:split], Pending: steps[split:]}
}
