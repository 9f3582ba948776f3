package db

import (
	"time"

	"spadina.network/internal/protocol"
)

func (d *DB) BannedPeers() ([]protocol.Ban, error) {
	rows, err := d.db.Query(`SELECT server, reason FROM banned_peers ORDER BY server`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []protocol.Ban
	for rows.Next() {
		var b protocol.Ban
		if err := rows.Scan(&b.Server, &b.Reason); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (d *DB) SetPeerBan(server string, banned bool, reason string) error {
	if banned {
		_, err := d.db.Exec(
			`INSERT INTO banned_peers (server, reason, banned_at) VALUES (?, ?, ?)
			 ON CONFLICT (server) DO UPDATE SET reason = excluded.reason`,
			server, reason, stamp(time.Now()))
		return err
	}
	_, err := d.db.Exec(`DELETE FROM banned_peers WHERE server = ?`, server)
	return err
}
