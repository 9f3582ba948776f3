package asset

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"spadina.network/internal/nav"
	"spadina.network/internal/puzzle"
)

// Capabilities this server understands. Templates declaring anything
// beyond this set are refused at load.
var ServerCapabilities = []string{
	"core",
	"puzzle",
	"proximity",
	"train",
}

// TemplatePoint is a manifold point as encoded in a template.
type TemplatePoint struct {
	ID               uint32   `msgpack:"id"`
	Areas            []string `msgpack:"areas,omitempty"`
	Piece            uint32   `msgpack:"piece,omitempty"`
	HasPiece         bool     `msgpack:"has_piece,omitempty"`
	InteractDuration uint32   `msgpack:"interact_ms,omitempty"`
}

// TemplateEdge is a manifold edge as encoded in a template.
type TemplateEdge struct {
	ID        string `msgpack:"id"`
	A         uint32 `msgpack:"a"`
	B         uint32 `msgpack:"b"`
	Cost      uint32 `msgpack:"cost,omitempty"`
	Gate      string `msgpack:"gate,omitempty"`
	Duration  uint32 `msgpack:"duration_ms,omitempty"`
	Animation string `msgpack:"animation,omitempty"`
}

// SettingDefault is a typed owner-adjustable setting declared by the
// template.
type SettingDefault struct {
	Name string      `msgpack:"name"`
	Kind string      `msgpack:"kind"`
	Bool bool        `msgpack:"bool,omitempty"`
	Num  int64       `msgpack:"num,omitempty"`
	Real float64     `msgpack:"real,omitempty"`
	Text string      `msgpack:"text,omitempty"`
	Link puzzle.Link `msgpack:"link,omitempty"`
}

// Setting kinds.
const (
	SettingBool  = "bool"
	SettingNum   = "num"
	SettingReal  = "real"
	SettingText  = "text"
	SettingRealm = "realm"
)

// Template is a decoded realm-template asset.
type Template struct {
	Name         string                   `msgpack:"name"`
	Pieces       []puzzle.Def             `msgpack:"pieces"`
	Propagation  []puzzle.PropagationRule `msgpack:"propagation"`
	Consequences []puzzle.ConsequenceRule `msgpack:"consequences"`
	Points       []TemplatePoint          `msgpack:"points"`
	Edges        []TemplateEdge           `msgpack:"edges"`
	Spawns       map[string]uint32        `msgpack:"spawns,omitempty"`
	DefaultSpawn uint32                   `msgpack:"default_spawn"`
	Settings     []SettingDefault         `msgpack:"settings,omitempty"`
	// Children are assets this template references; all must resolve
	// before the realm loads.
	Children []ID `msgpack:"children,omitempty"`
}

// DecodeTemplate parses and validates a realm-template blob. The
// capability check and all structural validation happen here so a
// loaded template never fails at runtime.
func DecodeTemplate(data []byte) (*Template, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	if env.Kind != KindRealmTemplate {
		return nil, fmt.Errorf("asset is a %q, not a realm template", env.Kind)
	}
	if missing := unsupported(env.Capabilities); len(missing) > 0 {
		return nil, fmt.Errorf("template needs unsupported capabilities %v", missing)
	}
	var tpl Template
	if err := msgpack.Unmarshal(env.Payload, &tpl); err != nil {
		return nil, fmt.Errorf("decode realm template: %w", err)
	}
	if err := tpl.validate(); err != nil {
		return nil, err
	}
	return &tpl, nil
}

func unsupported(declared []string) []string {
	var missing []string
	for _, c := range declared {
		known := false
		for _, s := range ServerCapabilities {
			if c == s {
				known = true
				break
			}
		}
		if !known {
			missing = append(missing, c)
		}
	}
	return missing
}

func (t *Template) validate() error {
	pieces := map[uint32]puzzle.Def{}
	for _, d := range t.Pieces {
		if _, dup := pieces[d.ID]; dup {
			return fmt.Errorf("duplicate piece id %d", d.ID)
		}
		pieces[d.ID] = d
	}
	for _, r := range t.Propagation {
		if _, ok := pieces[r.Sender]; !ok {
			return fmt.Errorf("propagation rule names unknown sender %d", r.Sender)
		}
		if _, ok := pieces[r.Recipient]; !ok {
			return fmt.Errorf("propagation rule names unknown recipient %d", r.Recipient)
		}
		if !transformerKnown(r.Transformer.Kind) {
			return fmt.Errorf("propagation rule uses unknown transformer %q", r.Transformer.Kind)
		}
	}
	for _, c := range t.Consequences {
		if _, ok := pieces[c.Sender]; !ok {
			return fmt.Errorf("consequence rule names unknown sender %d", c.Sender)
		}
		switch c.Target {
		case puzzle.ConsequenceProperty, puzzle.ConsequenceGate, puzzle.ConsequenceDebut:
		default:
			return fmt.Errorf("consequence rule has unknown target %q", c.Target)
		}
	}
	for _, p := range t.Points {
		if p.HasPiece {
			if _, ok := pieces[p.Piece]; !ok {
				return fmt.Errorf("point %d hosts unknown piece %d", p.ID, p.Piece)
			}
		}
	}
	// The manifold constructor repeats its own checks; building one
	// here surfaces edge and spawn errors at template load.
	if _, err := t.Manifold(); err != nil {
		return err
	}
	for _, s := range t.Settings {
		switch s.Kind {
		case SettingBool, SettingNum, SettingReal, SettingText, SettingRealm:
		default:
			return fmt.Errorf("setting %q has unknown kind %q", s.Name, s.Kind)
		}
	}
	for _, child := range t.Children {
		if !child.Valid() {
			return fmt.Errorf("malformed child asset id %q", child)
		}
	}
	return nil
}

func transformerKnown(k puzzle.TransformerKind) bool {
	switch k {
	case puzzle.TransformUnchanged, puzzle.TransformEmptyToBool, puzzle.TransformEmptyToNum,
		puzzle.TransformEmptyToBoolList, puzzle.TransformEmptyToNumList,
		puzzle.TransformEmptyToGlobal, puzzle.TransformEmptyToOwner,
		puzzle.TransformEmptyToSetting, puzzle.TransformEmptyToSpawn,
		puzzle.TransformEmptyToTrainNext, puzzle.TransformEmptyToHome,
		puzzle.TransformBoolInvert, puzzle.TransformBoolToEmpty, puzzle.TransformBoolToNum,
		puzzle.TransformBoolToNumList, puzzle.TransformBoolToBoolList,
		puzzle.TransformNumToEmpty, puzzle.TransformNumToBool, puzzle.TransformNumToBoolList,
		puzzle.TransformAnyToEmpty:
		return true
	}
	return false
}

// Manifold builds the nav graph declared by the template.
func (t *Template) Manifold() (*nav.Manifold, error) {
	cfg := nav.Config{DefaultSpawn: nav.PointID(t.DefaultSpawn)}
	for _, p := range t.Points {
		cfg.Points = append(cfg.Points, nav.Point{
			ID:               nav.PointID(p.ID),
			Areas:            p.Areas,
			Piece:            p.Piece,
			HasPiece:         p.HasPiece,
			InteractDuration: time.Duration(p.InteractDuration) * time.Millisecond,
		})
	}
	for _, e := range t.Edges {
		cfg.Edges = append(cfg.Edges, nav.Edge{
			ID:        e.ID,
			A:         nav.PointID(e.A),
			B:         nav.PointID(e.B),
			Cost:      e.Cost,
			Gate:      e.Gate,
			Duration:  time.Duration(e.Duration) * time.Millisecond,
			Animation: e.Animation,
		})
	}
	if t.Spawns != nil {
		cfg.Spawns = map[string]nav.PointID{}
		for name, id := range t.Spawns {
			cfg.Spawns[name] = nav.PointID(id)
		}
	}
	return nav.New(cfg)
}

// EncodeTemplate wraps a template into its canonical asset blob.
func EncodeTemplate(tpl *Template, capabilities []string) ([]byte, ID, error) {
	if err := tpl.validate(); err != nil {
		return nil, "", err
	}
	payload, err := msgpack.Marshal(tpl)
	if err != nil {
		return nil, "", fmt.Errorf("encode realm template: %w", err)
	}
	return EncodeEnvelope(Envelope{
		Kind:         KindRealmTemplate,
		Capabilities: capabilities,
		Payload:      payload,
	})
}
