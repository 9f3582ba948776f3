package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"spadina.network/internal/access"
)

// EnsurePlayer creates the player row if it does not exist yet.
func (d *DB) EnsurePlayer(name string) error {
	_, err := d.db.Exec(
		`INSERT INTO players (name, created_at) VALUES (?, ?) ON CONFLICT (name) DO NOTHING`,
		name, stamp(time.Now()))
	return err
}

func (d *DB) PlayerDebuted(player string) (bool, error) {
	var debuted int
	err := d.db.QueryRow(`SELECT debuted FROM players WHERE name = ?`, player).Scan(&debuted)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return debuted != 0, nil
}

func (d *DB) SetDebuted(player string) error {
	_, err := d.db.Exec(
		`INSERT INTO players (name, debuted, created_at) VALUES (?, 1, ?)
		 ON CONFLICT (name) DO UPDATE SET debuted = 1`,
		player, stamp(time.Now()))
	return err
}

func (d *DB) PlayerTrainIndex(player string) (int, error) {
	var index int
	err := d.db.QueryRow(`SELECT train_index FROM players WHERE name = ?`, player).Scan(&index)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	if err != nil {
		return -1, err
	}
	return index, nil
}

func (d *DB) SetPlayerTrainIndex(player string, index int) error {
	_, err := d.db.Exec(
		`INSERT INTO players (name, train_index, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET train_index = excluded.train_index`,
		player, index, stamp(time.Now()))
	return err
}

func (d *DB) Avatar(player string) ([]byte, error) {
	var avatar []byte
	err := d.db.QueryRow(`SELECT avatar FROM players WHERE name = ?`, player).Scan(&avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return avatar, err
}

func (d *DB) SetAvatar(player string, avatar []byte) error {
	_, err := d.db.Exec(
		`INSERT INTO players (name, avatar, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET avatar = excluded.avatar`,
		player, avatar, stamp(time.Now()))
	return err
}

// PlayerAccess reads a player-scoped access list; player "" holds the
// server-scoped lists.
func (d *DB) PlayerAccess(player string, target access.Target) (access.List, error) {
	var blob []byte
	err := d.db.QueryRow(
		`SELECT list FROM acls WHERE player = ? AND target = ?`,
		player, string(target)).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return defaultList(target), nil
	}
	if err != nil {
		return access.List{}, err
	}
	return decodeList(blob)
}

func (d *DB) SetPlayerAccess(player string, target access.Target, list access.List) error {
	blob, err := encodeList(list)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(
		`INSERT INTO acls (player, target, list) VALUES (?, ?, ?)
		 ON CONFLICT (player, target) DO UPDATE SET list = excluded.list`,
		player, string(target), blob)
	return err
}

// ServerAccess reads a server-scoped list.
func (d *DB) ServerAccess(target access.Target) (access.List, error) {
	return d.PlayerAccess("", target)
}

// SetServerAccess writes a server-scoped list.
func (d *DB) SetServerAccess(target access.Target, list access.List) error {
	return d.SetPlayerAccess("", target, list)
}

func (d *DB) PublicKeys(player string) ([]string, error) {
	rows, err := d.db.Query(
		`SELECT name FROM public_keys WHERE player = ? ORDER BY name`, player)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (d *DB) AddPublicKey(player, name string, key []byte) error {
	_, err := d.db.Exec(
		`INSERT INTO public_keys (player, name, key, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (player, name) DO UPDATE SET key = excluded.key`,
		player, name, key, stamp(time.Now()))
	return err
}

func (d *DB) DeletePublicKey(player, name string) error {
	_, err := d.db.Exec(
		`DELETE FROM public_keys WHERE player = ? AND name = ?`, player, name)
	return err
}

// PublicKey fetches one registered key for signature checks.
func (d *DB) PublicKey(player, name string) ([]byte, error) {
	var key []byte
	err := d.db.QueryRow(
		`SELECT key FROM public_keys WHERE player = ? AND name = ?`,
		player, name).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no key %q for %s", name, player)
	}
	return key, err
}

// Credentials reports a player's password hash and OTP secrets. Either
// may be absent.
func (d *DB) Credentials(player string) (passwordHash []byte, otpSecrets []string, err error) {
	var secrets sql.NullString
	err = d.db.QueryRow(
		`SELECT password_hash, otp_secrets FROM credentials WHERE player = ?`,
		player).Scan(&passwordHash, &secrets)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if secrets.Valid && secrets.String != "" {
		otpSecrets = strings.Split(secrets.String, "\n")
	}
	return passwordHash, otpSecrets, nil
}

func (d *DB) SetPassword(player string, hash []byte) error {
	_, err := d.db.Exec(
		`INSERT INTO credentials (player, password_hash) VALUES (?, ?)
		 ON CONFLICT (player) DO UPDATE SET password_hash = excluded.password_hash`,
		player, hash)
	return err
}

func (d *DB) SetOTPSecrets(player string, secrets []string) error {
	_, err := d.db.Exec(
		`INSERT INTO credentials (player, otp_secrets) VALUES (?, ?)
		 ON CONFLICT (player) DO UPDATE SET otp_secrets = excluded.otp_secrets`,
		player, strings.Join(secrets, "\n"))
	return err
}
