package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/vmihailenco/msgpack/v5"
)

// jsonForm re-renders a message body as generic JSON so the msgpack
// field layout can be checked against a schema.
func jsonForm(t *testing.T, m any) any {
	t.Helper()
	b, err := msgpack.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	var v any
	if err := msgpack.Unmarshal(b, &v); err != nil {
		t.Fatal(err)
	}
	jb, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	var out any
	if err := json.Unmarshal(jb, &out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(src string) *jsonschema.Schema {
		t.Helper()
		s, err := jsonschema.CompileString("schema.json", src)
		if err != nil {
			t.Fatalf("compile: %v", err)
		}
		return s
	}

	locationChange := compile(`{
	  "type": "object",
	  "required": ["id", "target"],
	  "properties": {
	    "id": {"type": "integer", "minimum": 0},
	    "target": {
	      "type": "object",
	      "required": ["kind"],
	      "properties": {
	        "kind": {"type": "integer", "minimum": 0, "maximum": 3},
	        "owner": {"type": "string"},
	        "asset": {"type": "string"},
	        "server": {"type": "string"}
	      }
	    }
	  }
	}`)
	committedPath := compile(`{
	  "type": "object",
	  "required": ["player", "start", "steps"],
	  "properties": {
	    "player": {"type": "integer", "minimum": 0},
	    "start": {"type": "integer", "minimum": 0},
	    "pending_gate": {"type": "string"},
	    "steps": {
	      "type": "array",
	      "items": {
	        "type": "object",
	        "required": ["edge", "from", "to", "arrive"],
	        "properties": {
	          "edge": {"type": "string"},
	          "from": {"type": "integer", "minimum": 0},
	          "to": {"type": "integer", "minimum": 0},
	          "arrive": {"type": "string", "format": "date-time"}
	        }
	      }
	    }
	  }
	}`)
	chatDelivery := compile(`{
	  "type": "object",
	  "required": ["sender", "recipient", "body", "created"],
	  "properties": {
	    "sender": {"type": "string"},
	    "recipient": {"type": "string"},
	    "body": {"type": "string"},
	    "created": {"type": "string", "format": "date-time"}
	  }
	}`)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	samples := []struct {
		schema *jsonschema.Schema
		msg    any
	}{
		{locationChange, LocationChange{ID: 2, Target: Location{Kind: LocationRealm, Owner: "bob", Asset: "cc22", Server: "far.example"}}},
		{locationChange, LocationChange{ID: 3, Target: Location{Kind: LocationHome}}},
		{committedPath, CommittedPath{Player: 3, Start: 0, Steps: []TimedStep{{Edge: "hall", From: 0, To: 1, Arrive: at}}, PendingGate: "door"}},
		{chatDelivery, ChatDelivery{Sender: "alice@here.example", Recipient: "bob", Body: "hi", Created: at}},
	}
	for _, s := range samples {
		if err := s.schema.Validate(jsonForm(t, s.msg)); err != nil {
			t.Fatalf("%T: %v", s.msg, err)
		}
	}
}
