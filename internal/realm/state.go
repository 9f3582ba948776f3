package realm

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Saver persists the realm's journalled state after each stable
// fixpoint.
type Saver interface {
	SaveRealmState(data []byte) error
}

// persistedState is the realm journal record. The immutable template
// plus this record reconstructs the realm bit-identically.
type persistedState struct {
	Pieces        map[uint32][]byte  `msgpack:"pieces"`
	Settings      map[string]Setting `msgpack:"settings"`
	Marks         map[string]uint8   `msgpack:"marks"`
	Announcements []Announcement     `msgpack:"announcements,omitempty"`
	Broken        bool               `msgpack:"broken,omitempty"`
}

func decodeState(data []byte) (*persistedState, error) {
	var st persistedState
	if err := msgpack.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode realm state: %w", err)
	}
	return &st, nil
}

// StoredAnnouncements extracts the live announcements from a journal
// record without loading the realm.
func StoredAnnouncements(data []byte, now time.Time) ([]Announcement, error) {
	st, err := decodeState(data)
	if err != nil {
		return nil, err
	}
	var out []Announcement
	for _, a := range st.Announcements {
		if a.Expires.IsZero() || a.Expires.After(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (st *persistedState) encode() ([]byte, error) {
	data, err := msgpack.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode realm state: %w", err)
	}
	return data, nil
}
