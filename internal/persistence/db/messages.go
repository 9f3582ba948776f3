package db

import (
	"time"

	"spadina.network/internal/protocol"
	"spadina.network/internal/session"
)

// RecordDirectMessage stores one row of a player's conversation view.
func (d *DB) RecordDirectMessage(player, counterpart, body string, created time.Time, inbound bool) error {
	flag := 0
	if inbound {
		flag = 1
	}
	_, err := d.db.Exec(
		`INSERT INTO direct_messages (player, counterpart, inbound, body, created) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (player, counterpart, created, inbound) DO NOTHING`,
		player, counterpart, flag, body, stamp(created))
	return err
}

// SaveIncomingChat records a federated delivery; fresh is false when
// the (sender, recipient, created) triple was already stored, which is
// how redeliveries are absorbed.
func (d *DB) SaveIncomingChat(recipient, sender, body string, created time.Time) (bool, error) {
	res, err := d.db.Exec(
		`INSERT INTO direct_messages (player, counterpart, inbound, body, created) VALUES (?, ?, 1, ?, ?)
		 ON CONFLICT (player, counterpart, created, inbound) DO NOTHING`,
		recipient, sender, body, stamp(created))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DirectMessages reads one conversation window [from, to).
func (d *DB) DirectMessages(player, counterpart string, from, to time.Time) ([]protocol.DirectMessage, error) {
	rows, err := d.db.Query(
		`SELECT inbound, body, created FROM direct_messages
		 WHERE player = ? AND counterpart = ? AND created >= ? AND created < ?
		 ORDER BY created`,
		player, counterpart, stamp(from), stamp(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []protocol.DirectMessage
	for rows.Next() {
		var inbound int
		var body, created string
		if err := rows.Scan(&inbound, &body, &created); err != nil {
			return nil, err
		}
		at, err := unstamp(created)
		if err != nil {
			return nil, err
		}
		out = append(out, protocol.DirectMessage{Inbound: inbound != 0, Body: body, Created: at})
	}
	return out, rows.Err()
}

func (d *DB) MarkRead(player, counterpart string, at time.Time) error {
	_, err := d.db.Exec(
		`INSERT INTO last_read (player, counterpart, at) VALUES (?, ?, ?)
		 ON CONFLICT (player, counterpart) DO UPDATE SET at = excluded.at`,
		player, counterpart, stamp(at))
	return err
}

func (d *DB) Bookmarks(player string) ([]protocol.Bookmark, error) {
	rows, err := d.db.Query(
		`SELECT kind, value FROM bookmarks WHERE player = ? ORDER BY kind, value`, player)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []protocol.Bookmark
	for rows.Next() {
		var b protocol.Bookmark
		if err := rows.Scan(&b.Kind, &b.Value); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (d *DB) MutateBookmark(player string, add bool, b protocol.Bookmark) error {
	if add {
		_, err := d.db.Exec(
			`INSERT INTO bookmarks (player, kind, value) VALUES (?, ?, ?)
			 ON CONFLICT (player, kind, value) DO NOTHING`,
			player, b.Kind, b.Value)
		return err
	}
	_, err := d.db.Exec(
		`DELETE FROM bookmarks WHERE player = ? AND kind = ? AND value = ?`,
		player, b.Kind, b.Value)
	return err
}

func (d *DB) CalendarSubscriptions(player string) ([]session.SubscribedRealm, error) {
	rows, err := d.db.Query(
		`SELECT owner, asset, server FROM calendar_subscriptions
		 WHERE player = ? ORDER BY server, owner, asset`, player)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []session.SubscribedRealm
	for rows.Next() {
		var sub session.SubscribedRealm
		if err := rows.Scan(&sub.Owner, &sub.Asset, &sub.Server); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (d *DB) MutateCalendarSubscription(player string, add bool, sub session.SubscribedRealm) error {
	if add {
		_, err := d.db.Exec(
			`INSERT INTO calendar_subscriptions (player, owner, asset, server) VALUES (?, ?, ?, ?)
			 ON CONFLICT (player, owner, asset, server) DO NOTHING`,
			player, sub.Owner, sub.Asset, sub.Server)
		return err
	}
	_, err := d.db.Exec(
		`DELETE FROM calendar_subscriptions WHERE player = ? AND owner = ? AND asset = ? AND server = ?`,
		player, sub.Owner, sub.Asset, sub.Server)
	return err
}
