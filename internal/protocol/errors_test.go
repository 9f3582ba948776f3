package protocol

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{Transient("db deadlock"), KindTransient},
		{Permanent("access denied"), KindPermanent},
		{Corrupt("hash mismatch"), KindCorrupt},
		{Fatal("storage gone"), KindFatal},
		{errors.New("unclassified"), KindTransient},
	}
	for _, c := range cases {
		if got := KindOf(c.err); got != c.want {
			t.Errorf("KindOf(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("loading realm: %w", Corrupt("bad template"))
	if KindOf(err) != KindCorrupt {
		t.Fatalf("KindOf(wrapped) = %d", KindOf(err))
	}
	if err.Error() != "loading realm: bad template" {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestOutcomeFor(t *testing.T) {
	if o, r := OutcomeFor(nil); o != OutcomeSuccess || r != "" {
		t.Fatalf("nil = %d %q", o, r)
	}
	if o, r := OutcomeFor(Permanent("no such spawn point")); o != OutcomeNotAllowed || r != "no such spawn point" {
		t.Fatalf("permanent = %d %q", o, r)
	}
	// Internal verdicts must not leak server detail.
	for _, err := range []error{Transient("pool exhausted"), Corrupt("wedged"), Fatal("disk"), errors.New("plain")} {
		if o, r := OutcomeFor(err); o != OutcomeInternalError || r != "" {
			t.Fatalf("%v = %d %q", err, o, r)
		}
	}
}
