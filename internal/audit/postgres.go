package audit

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Pool limits for the journal connection. Appends are one row per
// consultation, so the pool stays small.
const (
	pgMaxOpen     = 10
	pgMaxIdle     = 2
	pgConnMaxLife = 10 * time.Minute
)

// PostgresStore keeps the consultation journal in PostgreSQL. The
// audit_records table comes from the migrations directory.
type PostgresStore struct {
	*sqlStore
}

// NewPostgresStore wraps an open handle. The handle must answer a ping.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("audit journal needs a database handle")
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("audit journal unreachable: %w", err)
	}
	return &PostgresStore{sqlStore: &sqlStore{db: db, rebind: rebindDollar, returning: true}}, nil
}

// NewPostgresStoreFromURL dials databaseURL with lib/pq.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening audit journal: %w", err)
	}
	db.SetMaxOpenConns(pgMaxOpen)
	db.SetMaxIdleConns(pgMaxIdle)
	db.SetConnMaxLifetime(pgConnMaxLife)

	store, err := NewPostgresStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
