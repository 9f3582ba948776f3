package realm

import (
	"fmt"

	"spadina.network/internal/asset"
	"spadina.network/internal/puzzle"
)

// Setting is one typed owner-adjustable realm value.
type Setting struct {
	Kind string      `msgpack:"kind"`
	Bool bool        `msgpack:"bool,omitempty"`
	Num  int64       `msgpack:"num,omitempty"`
	Real float64     `msgpack:"real,omitempty"`
	Text string      `msgpack:"text,omitempty"`
	Link puzzle.Link `msgpack:"link,omitempty"`
}

func settingFromDefault(d asset.SettingDefault) Setting {
	return Setting{
		Kind: d.Kind,
		Bool: d.Bool,
		Num:  d.Num,
		Real: d.Real,
		Text: d.Text,
		Link: d.Link,
	}
}

// checkAssign verifies a replacement value keeps the declared type.
func (s Setting) checkAssign(v Setting) error {
	if v.Kind != s.Kind {
		return fmt.Errorf("setting is %s, not %s", s.Kind, v.Kind)
	}
	return nil
}
