package db

import (
	"database/sql"
	"errors"
	"time"

	"spadina.network/internal/access"
	"spadina.network/internal/protocol"
	"spadina.network/internal/realm"
)

// RealmRow returns the stored seed and journal state for a realm,
// creating the row with the given seed when absent.
func (d *DB) RealmRow(owner, assetID string, seed int64) ([]byte, int64, error) {
	var state []byte
	var storedSeed int64
	err := d.db.QueryRow(
		`SELECT state, seed FROM realms WHERE owner = ? AND asset = ?`,
		owner, assetID).Scan(&state, &storedSeed)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = d.db.Exec(
			`INSERT INTO realms (owner, asset, seed, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (owner, asset) DO NOTHING`,
			owner, assetID, seed, stamp(time.Now()))
		if err != nil {
			return nil, 0, err
		}
		// Re-read: a concurrent creator may have won with its own seed.
		err = d.db.QueryRow(
			`SELECT state, seed FROM realms WHERE owner = ? AND asset = ?`,
			owner, assetID).Scan(&state, &storedSeed)
	}
	if err != nil {
		return nil, 0, err
	}
	return state, storedSeed, nil
}

func (d *DB) SaveRealmState(owner, assetID string, data []byte) error {
	_, err := d.db.Exec(
		`UPDATE realms SET state = ?, updated_at = ? WHERE owner = ? AND asset = ?`,
		data, stamp(time.Now()), owner, assetID)
	return err
}

func (d *DB) RealmAccess(owner, assetID string) (access.List, error) {
	var blob []byte
	err := d.db.QueryRow(
		`SELECT acl FROM realms WHERE owner = ? AND asset = ?`,
		owner, assetID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && blob == nil) {
		// New realms inherit the owner's template list.
		return d.PlayerAccess(owner, access.TargetNewRealmAccess)
	}
	if err != nil {
		return access.List{}, err
	}
	return decodeList(blob)
}

func (d *DB) SetRealmAccess(owner, assetID string, list access.List) error {
	blob, err := encodeList(list)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(
		`INSERT INTO realms (owner, asset, seed, acl, updated_at) VALUES (?, ?, 0, ?, ?)
		 ON CONFLICT (owner, asset) DO UPDATE SET acl = excluded.acl, updated_at = excluded.updated_at`,
		owner, assetID, blob, stamp(time.Now()))
	return err
}

// RealmAnnouncements reads the live announcements out of a realm's
// journal record without loading the realm.
func (d *DB) RealmAnnouncements(owner, assetID string) ([]protocol.Announcement, error) {
	var state []byte
	err := d.db.QueryRow(
		`SELECT state FROM realms WHERE owner = ? AND asset = ?`,
		owner, assetID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && state == nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	anns, err := realm.StoredAnnouncements(state, time.Now())
	if err != nil {
		return nil, err
	}
	out := make([]protocol.Announcement, 0, len(anns))
	for _, a := range anns {
		out = append(out, protocol.Announcement{ID: a.ID, Title: a.Title, Body: a.Body, Expires: a.Expires})
	}
	return out, nil
}

// Realms lists every stored realm of one owner.
func (d *DB) Realms(owner string) ([]string, error) {
	rows, err := d.db.Query(
		`SELECT asset FROM realms WHERE owner = ? ORDER BY asset`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var assets []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}
