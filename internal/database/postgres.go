package database

import (
	"database/sql"
)

type PgGamedayRepository struct {
	conn *sql.DB
}

func NewPgGamedayRepository(dsn string) (*PgGamedayRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgGamedayRepository{conn: db}, nil
}

func (db *PgGamedayRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgGamedayRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
