// Package directory maps (owner, asset) pairs to resident realm
// instances, creating, reloading, and evicting them on demand, and
// resolves location-change links including train-car sequencing and
// the debut restriction.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"spadina.network/internal/access"
	"spadina.network/internal/asset"
	"spadina.network/internal/puzzle"
	"spadina.network/internal/realm"
)

var (
	// ErrNotDebuted blocks players from leaving their home realm
	// before a puzzle debuts them.
	ErrNotDebuted = errors.New("player has not debuted")
	// ErrRemote marks a link whose realm lives on another server.
	ErrRemote = errors.New("realm is on a remote server")
)

// Key identifies one local realm.
type Key struct {
	Owner string
	Asset string
}

// Assets resolves template ids, recruiting peers on a local miss.
type Assets interface {
	Template(ctx context.Context, id asset.ID) (*asset.Template, error)
}

// Store is the persistence surface the directory needs.
type Store interface {
	// RealmRow returns the stored seed and journal state, creating the
	// row with the given seed when absent.
	RealmRow(owner, assetID string, seed int64) (state []byte, storedSeed int64, err error)
	SaveRealmState(owner, assetID string, data []byte) error
	RealmAccess(owner, assetID string) (access.List, error)
	PlayerDebuted(player string) (bool, error)
	// SetDebuted marks the player debuted and releases any train wait
	// in one transaction.
	SetDebuted(player string) error
	PlayerTrainIndex(player string) (int, error)
	SetPlayerTrainIndex(player string, index int) error
}

// TrainCar is one entry of the admin-configured realm train.
type TrainCar struct {
	Asset        string
	AllowedFirst bool
}

// Config assembles a directory.
type Config struct {
	LocalServer string
	HomeAsset   string
	Train       []TrainCar
	Assets      Assets
	Store       Store
	// ServerAccess supplies the server-wide visit list layered over
	// every realm ACL. Realms capture it at load time. Nil means an
	// open server.
	ServerAccess func() access.List
	Seed         func() int64
	IdleGrace    time.Duration
	EventBudget  int
	Log          *log.Logger
	Clock        func() time.Time
}

// Handle is a resident realm.
type Handle struct {
	Key   Key
	Realm *realm.Realm
	stop  context.CancelFunc
}

// Directory owns the resident-realm table. Safe for concurrent use.
type Directory struct {
	cfg Config
	log *log.Logger

	mu       sync.Mutex
	realms   map[Key]*Handle
	sessions map[realm.PlayerKey]Session
	next     realm.PlayerKey
}

func New(cfg Config) (*Directory, error) {
	if cfg.Assets == nil || cfg.Store == nil {
		return nil, errors.New("directory needs an asset resolver and a store")
	}
	if cfg.HomeAsset == "" {
		return nil, errors.New("directory needs a home template asset")
	}
	if cfg.Log == nil {
		cfg.Log = log.Default()
	}
	return &Directory{
		cfg:      cfg,
		log:      cfg.Log,
		realms:   map[Key]*Handle{},
		sessions: map[realm.PlayerKey]Session{},
	}, nil
}

func (d *Directory) now() time.Time {
	if d.cfg.Clock != nil {
		return d.cfg.Clock()
	}
	return time.Now()
}

// NextPlayerKey issues a roster key for a new session.
func (d *Directory) NextPlayerKey() realm.PlayerKey {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	return d.next
}

// Resident reports the currently loaded realms.
func (d *Directory) Resident() []Key {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]Key, 0, len(d.realms))
	for k := range d.realms {
		keys = append(keys, k)
	}
	return keys
}

// Resolve turns a link into the local realm key it targets. Remote
// targets return ErrRemote with the server name. The debut restriction
// confines un-debuted players to their home realm.
func (d *Directory) Resolve(p access.Principal, link puzzle.Link) (Key, string, error) {
	home := Key{Owner: p.Player, Asset: d.cfg.HomeAsset}
	switch link.Kind {
	case puzzle.LinkHome:
		if p.Server != "" && p.Server != d.cfg.LocalServer {
			return Key{}, p.Server, ErrRemote
		}
		return home, "", nil
	case puzzle.LinkOwner:
		return d.guardDebut(p, Key{Owner: p.Player, Asset: link.Asset}, home)
	case puzzle.LinkGlobal:
		if link.Server != "" && link.Server != d.cfg.LocalServer {
			if err := d.checkDebut(p); err != nil {
				return Key{}, "", err
			}
			return Key{}, link.Server, ErrRemote
		}
		return d.guardDebut(p, Key{Owner: link.Owner, Asset: link.Asset}, home)
	case puzzle.LinkTrainNext:
		key, err := d.nextTrainCar(p)
		if err != nil {
			return Key{}, "", err
		}
		return key, "", nil
	default:
		return Key{}, "", fmt.Errorf("unresolvable link kind %d", link.Kind)
	}
}

func (d *Directory) checkDebut(p access.Principal) error {
	if p.Server != "" && p.Server != d.cfg.LocalServer {
		// Remote players debuted on their own server.
		return nil
	}
	debuted, err := d.cfg.Store.PlayerDebuted(p.Player)
	if err != nil {
		return err
	}
	if !debuted {
		return ErrNotDebuted
	}
	return nil
}

func (d *Directory) guardDebut(p access.Principal, target, home Key) (Key, string, error) {
	if target == home {
		return target, "", nil
	}
	if err := d.checkDebut(p); err != nil {
		return Key{}, "", err
	}
	return target, "", nil
}

// Acquire returns the resident realm for a key, loading it first when
// needed. Creating two instances for one key is impossible: the table
// is the unique index.
func (d *Directory) Acquire(ctx context.Context, key Key) (*Handle, error) {
	d.mu.Lock()
	if h, ok := d.realms[key]; ok {
		d.mu.Unlock()
		return h, nil
	}
	d.mu.Unlock()

	h, err := d.load(ctx, key)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.realms[key]; ok {
		// Lost the load race; discard ours.
		h.stop()
		return existing, nil
	}
	d.realms[key] = h
	return h, nil
}

func (d *Directory) load(ctx context.Context, key Key) (*Handle, error) {
	if !asset.ID(key.Asset).Valid() {
		return nil, fmt.Errorf("realm %s/%s: malformed asset id", key.Owner, key.Asset)
	}
	tpl, err := d.cfg.Assets.Template(ctx, asset.ID(key.Asset))
	if err != nil {
		return nil, fmt.Errorf("realm %s/%s: %w", key.Owner, key.Asset, err)
	}

	seed := int64(1)
	if d.cfg.Seed != nil {
		seed = d.cfg.Seed()
	}
	state, storedSeed, err := d.cfg.Store.RealmRow(key.Owner, key.Asset, seed)
	if err != nil {
		return nil, fmt.Errorf("realm %s/%s: %w", key.Owner, key.Asset, err)
	}
	if state != nil {
		seed = storedSeed
	}
	acl, err := d.cfg.Store.RealmAccess(key.Owner, key.Asset)
	if err != nil {
		return nil, fmt.Errorf("realm %s/%s: %w", key.Owner, key.Asset, err)
	}

	serverACL := access.List{DefaultAllow: true}
	if d.cfg.ServerAccess != nil {
		serverACL = d.cfg.ServerAccess()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r, err := realm.New(realm.Config{
		Name:         tpl.Name,
		Owner:        key.Owner,
		LocalServer:  d.cfg.LocalServer,
		Seed:         seed,
		Template:     tpl,
		State:        state,
		AccessList:   acl,
		ServerAccess: serverACL,
		Saver:        realmSaver{store: d.cfg.Store, key: key},
		Relocate:     func(player realm.PlayerKey, link puzzle.Link) { d.relocate(key, player, link) },
		OnDebut:      func(player realm.PlayerKey) { d.debut(player) },
		OnIdle:       func() { d.evict(key) },
		IdleGrace:    d.cfg.IdleGrace,
		EventBudget:  d.cfg.EventBudget,
		Log:          d.log,
		Clock:        d.cfg.Clock,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	h := &Handle{Key: key, Realm: r, stop: cancel}
	go func() {
		if err := r.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			d.log.Printf("[directory] realm %s/%s exited: %v", key.Owner, key.Asset, err)
		}
		d.evict(key)
	}()
	return h, nil
}

// Shutdown stops every resident realm, flushing state.
func (d *Directory) Shutdown(ctx context.Context) {
	d.mu.Lock()
	handles := make([]*Handle, 0, len(d.realms))
	for _, h := range d.realms {
		handles = append(handles, h)
	}
	d.realms = map[Key]*Handle{}
	d.mu.Unlock()

	for _, h := range handles {
		done := make(chan struct{})
		if err := h.Realm.Submit(ctx, realm.Shutdown{Done: done}); err == nil {
			select {
			case <-done:
			case <-ctx.Done():
			}
		}
		h.stop()
	}
}

func (d *Directory) evict(key Key) {
	d.mu.Lock()
	h, ok := d.realms[key]
	if ok {
		delete(d.realms, key)
	}
	d.mu.Unlock()
	if ok {
		h.stop()
	}
}

type realmSaver struct {
	store Store
	key   Key
}

func (s realmSaver) SaveRealmState(data []byte) error {
	return s.store.SaveRealmState(s.key.Owner, s.key.Asset, data)
}
