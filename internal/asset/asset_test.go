package asset

import (
	"errors"
	"strings"
	"testing"

	"spadina.network/internal/puzzle"
)

func TestIDValidity(t *testing.T) {
	id := ComputeID([]byte("hello"))
	if !id.Valid() {
		t.Fatalf("computed id %q invalid", id)
	}
	if err := id.Verify([]byte("hello")); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := id.Verify([]byte("goodbye")); !errors.Is(err, ErrMismatch) {
		t.Fatalf("Verify with wrong bytes = %v, want ErrMismatch", err)
	}

	bad := []ID{
		"",
		"abc",
		ID(strings.ToUpper(string(id))),
		ID(strings.Repeat("g", 64)),
	}
	for _, b := range bad {
		if b.Valid() {
			t.Errorf("id %q accepted", b)
		}
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	data, id, err := EncodeEnvelope(Envelope{
		Kind:         KindRealmTemplate,
		Capabilities: []string{"core"},
		Payload:      []byte{0xc0},
	})
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}
	if id != ComputeID(data) {
		t.Fatal("envelope id does not match bytes")
	}
	env, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env.Kind != KindRealmTemplate || len(env.Capabilities) != 1 {
		t.Fatalf("decoded envelope = %+v", env)
	}
}

func testTemplate() *Template {
	return &Template{
		Name: "foyer",
		Pieces: []puzzle.Def{
			{ID: 1, Kind: puzzle.KindButton},
			{ID: 2, Kind: puzzle.KindSink, ValueType: puzzle.ListBool},
		},
		Propagation: []puzzle.PropagationRule{
			{
				Sender: 1, Trigger: puzzle.EventChanged,
				Recipient: 2, Causes: puzzle.CmdSet,
				Transformer: puzzle.Transformer{Kind: puzzle.TransformEmptyToBool, Bool: true},
			},
		},
		Consequences: []puzzle.ConsequenceRule{
			{Sender: 2, Trigger: puzzle.EventChanged, Target: puzzle.ConsequenceGate, Name: "door"},
		},
		Points: []TemplatePoint{
			{ID: 0},
			{ID: 1, Piece: 1, HasPiece: true},
		},
		Edges: []TemplateEdge{
			{ID: "hall", A: 0, B: 1, Cost: 10},
		},
		DefaultSpawn: 0,
	}
}

func TestTemplateRoundTrip(t *testing.T) {
	blob, id, err := EncodeTemplate(testTemplate(), []string{"core", "puzzle"})
	if err != nil {
		t.Fatalf("EncodeTemplate: %v", err)
	}
	tpl, err := DecodeTemplate(blob)
	if err != nil {
		t.Fatalf("DecodeTemplate: %v", err)
	}
	if tpl.Name != "foyer" || len(tpl.Pieces) != 2 {
		t.Fatalf("decoded template = %+v", tpl)
	}
	if err := id.Verify(blob); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	m, err := tpl.Manifold()
	if err != nil {
		t.Fatalf("Manifold: %v", err)
	}
	if _, ok := m.Point(1); !ok {
		t.Fatal("manifold missing point 1")
	}
}

func TestTemplateRefusesUnknownCapability(t *testing.T) {
	blob, _, err := EncodeTemplate(testTemplate(), []string{"core", "teleportation"})
	if err != nil {
		t.Fatalf("EncodeTemplate: %v", err)
	}
	if _, err := DecodeTemplate(blob); err == nil {
		t.Fatal("template with unknown capability accepted")
	}
}

func TestTemplateValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Template)
	}{
		{"dangling propagation recipient", func(tpl *Template) {
			tpl.Propagation[0].Recipient = 99
		}},
		{"dangling consequence sender", func(tpl *Template) {
			tpl.Consequences[0].Sender = 99
		}},
		{"unknown transformer", func(tpl *Template) {
			tpl.Propagation[0].Transformer.Kind = "frobnicate"
		}},
		{"point hosts unknown piece", func(tpl *Template) {
			tpl.Points[1].Piece = 99
		}},
		{"edge to unknown point", func(tpl *Template) {
			tpl.Edges[0].B = 99
		}},
		{"duplicate piece id", func(tpl *Template) {
			tpl.Pieces[1].ID = 1
		}},
		{"malformed child id", func(tpl *Template) {
			tpl.Children = []ID{"not-a-digest"}
		}},
		{"bad setting kind", func(tpl *Template) {
			tpl.Settings = []SettingDefault{{Name: "door", Kind: "quaternion"}}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tpl := testTemplate()
			tc.mutate(tpl)
			if _, _, err := EncodeTemplate(tpl, nil); err == nil {
				t.Fatal("invalid template accepted")
			}
		})
	}
}

func TestDecodeTemplateRejectsWrongKind(t *testing.T) {
	blob, _, err := EncodeEnvelope(Envelope{Kind: "texture", Payload: []byte{0xc0}})
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}
	if _, err := DecodeTemplate(blob); err == nil {
		t.Fatal("non-template asset accepted")
	}
}
