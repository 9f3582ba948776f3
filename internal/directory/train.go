package directory

import (
	"spadina.network/internal/access"
	"spadina.network/internal/puzzle"
	"spadina.network/internal/realm"
)

// Session is the directory's view of one connected player: enough to
// resolve relocations and debut updates back to a principal.
type Session interface {
	Principal() access.Principal
	// Relocated tells the session its player was sent out of a realm
	// along a link; the session performs the follow-up location change.
	Relocated(from Key, link puzzle.Link)
}

// Register binds a session to its roster key for relocation callbacks.
func (d *Directory) Register(key realm.PlayerKey, s Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[key] = s
}

// Unregister drops a session binding.
func (d *Directory) Unregister(key realm.PlayerKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, key)
}

func (d *Directory) session(key realm.PlayerKey) (Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[key]
	return s, ok
}

func (d *Directory) relocate(from Key, player realm.PlayerKey, link puzzle.Link) {
	s, ok := d.session(player)
	if !ok {
		return
	}
	s.Relocated(from, link)
}

func (d *Directory) debut(player realm.PlayerKey) {
	s, ok := d.session(player)
	if !ok {
		return
	}
	p := s.Principal()
	if p.Server != "" && p.Server != d.cfg.LocalServer {
		// Remote players debut on their own server.
		return
	}
	if err := d.cfg.Store.SetDebuted(p.Player); err != nil {
		d.log.Printf("[directory] debut %s: %v", p.Player, err)
	}
}

// nextTrainCar picks the next train realm for a player: the first car
// past their recorded index, honouring allowed_first for new riders.
// A rider who has consumed the whole train goes home.
func (d *Directory) nextTrainCar(p access.Principal) (Key, error) {
	rider := p.String()
	idx, err := d.cfg.Store.PlayerTrainIndex(rider)
	if err != nil {
		return Key{}, err
	}
	for i := idx + 1; i < len(d.cfg.Train); i++ {
		car := d.cfg.Train[i]
		if idx < 0 && !car.AllowedFirst {
			continue
		}
		if err := d.cfg.Store.SetPlayerTrainIndex(rider, i); err != nil {
			return Key{}, err
		}
		return Key{Owner: p.Player, Asset: car.Asset}, nil
	}
	return Key{Owner: p.Player, Asset: d.cfg.HomeAsset}, nil
}
