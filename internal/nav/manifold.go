// Package nav holds the walk manifold: the immutable graph of
// walkable points and edges extracted from a realm template, path
// planning over it, and area occupancy tracking.
package nav

import (
	"fmt"
	"sort"
	"time"
)

// Cost to cross a puzzle-gated edge whose gate is closed. If a walk
// this many steps avoids the gate, it is preferred.
const BoundaryPenalty = 100

// Edge costs: straight step and diagonal (roughly 10*sqrt(2)).
const (
	CostStraight = 10
	CostDiagonal = 14
)

// Traversal times used to timestamp committed paths.
const (
	StepTime = 500 * time.Millisecond
	WarpTime = 800 * time.Millisecond
)

// PointID names one walkable point.
type PointID uint32

// Player identifies a realm occupant to the manifold.
type Player uint64

// Edge connects two points, optionally gated by a puzzle output.
type Edge struct {
	ID   string
	A, B PointID
	// Cost defaults to CostStraight when zero.
	Cost uint32
	// Gate is the gate id controlling this edge, empty when ungated.
	Gate string
	// Duration defaults to StepTime when zero.
	Duration  time.Duration
	Animation string
}

// Point is one walkable location. It may sit inside named areas and
// may host an interactive piece.
type Point struct {
	ID    PointID
	Areas []string
	// Piece is the interactive piece at this point, when HasPiece.
	Piece            uint32
	HasPiece         bool
	InteractDuration time.Duration
}

// Manifold is the immutable walk graph. Build it once per realm load;
// all methods are safe for concurrent readers.
type Manifold struct {
	points map[PointID]Point
	edges  map[string]Edge
	// adjacency lists are sorted by edge id for deterministic planning
	adj          map[PointID][]string
	areas        map[string][]PointID
	spawns       map[string]PointID
	defaultSpawn PointID
}

// Config describes a manifold as decoded from a realm template.
type Config struct {
	Points       []Point
	Edges        []Edge
	Spawns       map[string]PointID
	DefaultSpawn PointID
}

// New validates the graph and builds the manifold.
func New(cfg Config) (*Manifold, error) {
	m := &Manifold{
		points: make(map[PointID]Point, len(cfg.Points)),
		edges:  make(map[string]Edge, len(cfg.Edges)),
		adj:    map[PointID][]string{},
		areas:  map[string][]PointID{},
		spawns: map[string]PointID{},
	}
	for _, p := range cfg.Points {
		if _, dup := m.points[p.ID]; dup {
			return nil, fmt.Errorf("duplicate point %d", p.ID)
		}
		m.points[p.ID] = p
		for _, area := range p.Areas {
			m.areas[area] = append(m.areas[area], p.ID)
		}
	}
	for _, e := range cfg.Edges {
		if e.ID == "" {
			return nil, fmt.Errorf("edge between %d and %d has no id", e.A, e.B)
		}
		if _, dup := m.edges[e.ID]; dup {
			return nil, fmt.Errorf("duplicate edge id %q", e.ID)
		}
		if _, ok := m.points[e.A]; !ok {
			return nil, fmt.Errorf("edge %q references unknown point %d", e.ID, e.A)
		}
		if _, ok := m.points[e.B]; !ok {
			return nil, fmt.Errorf("edge %q references unknown point %d", e.ID, e.B)
		}
		if e.Cost == 0 {
			e.Cost = CostStraight
		}
		if e.Duration == 0 {
			e.Duration = StepTime
		}
		m.edges[e.ID] = e
		m.adj[e.A] = append(m.adj[e.A], e.ID)
		m.adj[e.B] = append(m.adj[e.B], e.ID)
	}
	for _, ids := range m.adj {
		sort.Strings(ids)
	}
	for area := range m.areas {
		ids := m.areas[area]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	if _, ok := m.points[cfg.DefaultSpawn]; !ok {
		return nil, fmt.Errorf("default spawn names unknown point %d", cfg.DefaultSpawn)
	}
	m.defaultSpawn = cfg.DefaultSpawn
	for name, id := range cfg.Spawns {
		if _, ok := m.points[id]; !ok {
			return nil, fmt.Errorf("spawn %q names unknown point %d", name, id)
		}
		m.spawns[name] = id
	}
	return m, nil
}

// Point looks up one point.
func (m *Manifold) Point(id PointID) (Point, bool) {
	p, ok := m.points[id]
	return p, ok
}

// Edge looks up one edge.
func (m *Manifold) Edge(id string) (Edge, bool) {
	e, ok := m.edges[id]
	return e, ok
}

// Gates returns the sorted set of gate ids referenced by edges.
func (m *Manifold) Gates() []string {
	seen := map[string]struct{}{}
	for _, e := range m.edges {
		if e.Gate != "" {
			seen[e.Gate] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Spawn resolves a named spawn point; the empty name resolves to the
// default spawn.
func (m *Manifold) Spawn(name string) (PointID, bool) {
	if name == "" {
		return m.defaultSpawn, true
	}
	id, ok := m.spawns[name]
	return id, ok
}

// AreaPoints returns the points inside a named area.
func (m *Manifold) AreaPoints(area string) []PointID {
	return append([]PointID(nil), m.areas[area]...)
}

// AreasAt returns the areas containing a point.
func (m *Manifold) AreasAt(id PointID) []string {
	return m.points[id].Areas
}
