package database

// Bootstrap DDL, applied at startup. Statements are idempotent so repeated
// starts against the same database are harmless.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id SERIAL PRIMARY KEY,
		username TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		events_joined INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id SERIAL PRIMARY KEY,
		external_id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		owner_id INTEGER NOT NULL REFERENCES accounts (id),
		capacity INTEGER NOT NULL DEFAULT 0,
		visibility TEXT NOT NULL DEFAULT 'public',
		starts_at TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS participations (
		id SERIAL PRIMARY KEY,
		event_id INTEGER NOT NULL REFERENCES events (id),
		account_id INTEGER NOT NULL REFERENCES accounts (id),
		role TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (event_id, account_id)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id SERIAL PRIMARY KEY,
		event_id INTEGER NOT NULL REFERENCES events (id),
		account_id INTEGER NOT NULL REFERENCES accounts (id),
		content TEXT NOT NULL,
		from_organizer BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_participations_event ON participations (event_id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_event_created ON messages (event_id, created_at)`,
}

func (db *PgGamedayRepository) EnsureSchema() error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
