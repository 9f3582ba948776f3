package db

import "database/sql"

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS players (
			name TEXT PRIMARY KEY,
			debuted INTEGER NOT NULL DEFAULT 0,
			train_index INTEGER NOT NULL DEFAULT -1,
			avatar BLOB,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS credentials (
			player TEXT PRIMARY KEY,
			password_hash BLOB,
			otp_secrets TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS acls (
			player TEXT NOT NULL,
			target TEXT NOT NULL,
			list BLOB NOT NULL,
			PRIMARY KEY (player, target)
		);`,
		`CREATE TABLE IF NOT EXISTS realms (
			owner TEXT NOT NULL,
			asset TEXT NOT NULL,
			seed INTEGER NOT NULL,
			state BLOB,
			acl BLOB,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (owner, asset)
		);`,
		`CREATE TABLE IF NOT EXISTS direct_messages (
			player TEXT NOT NULL,
			counterpart TEXT NOT NULL,
			inbound INTEGER NOT NULL,
			body TEXT NOT NULL,
			created TEXT NOT NULL,
			PRIMARY KEY (player, counterpart, created, inbound)
		);`,
		`CREATE TABLE IF NOT EXISTS last_read (
			player TEXT NOT NULL,
			counterpart TEXT NOT NULL,
			at TEXT NOT NULL,
			PRIMARY KEY (player, counterpart)
		);`,
		`CREATE TABLE IF NOT EXISTS bookmarks (
			player TEXT NOT NULL,
			kind TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (player, kind, value)
		);`,
		`CREATE TABLE IF NOT EXISTS calendar_subscriptions (
			player TEXT NOT NULL,
			owner TEXT NOT NULL,
			asset TEXT NOT NULL,
			server TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (player, owner, asset, server)
		);`,
		`CREATE TABLE IF NOT EXISTS public_keys (
			player TEXT NOT NULL,
			name TEXT NOT NULL,
			key BLOB NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (player, name)
		);`,
		`CREATE TABLE IF NOT EXISTS banned_peers (
			server TEXT PRIMARY KEY,
			reason TEXT NOT NULL DEFAULT '',
			banned_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS direct_messages_window
			ON direct_messages (player, counterpart, created);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}
