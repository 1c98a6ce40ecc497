package audit

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// sqliteSchema mirrors migrations/000001 for the single-file journal, which
// is created in place instead of migrated.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_records (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	consultation_id TEXT NOT NULL,
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	creatinine      REAL,
	sdma            REAL,
	candidate_stage TEXT,
	reference_stage TEXT,
	final_stage     TEXT,
	validation      INTEGER,
	case_number     INTEGER NOT NULL,
	confidence      TEXT NOT NULL,
	question        TEXT DEFAULT '',
	answer          TEXT DEFAULT '',
	evidence_docs   INTEGER NOT NULL DEFAULT 0,
	rule_applied    TEXT DEFAULT '',
	elderly         INTEGER NOT NULL DEFAULT 0,
	substage_ap     TEXT DEFAULT '',
	substage_ht     TEXT DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_created_at  ON audit_records(created_at);
CREATE INDEX IF NOT EXISTS idx_audit_markers     ON audit_records(creatinine, sdma);
CREATE INDEX IF NOT EXISTS idx_audit_final_stage ON audit_records(final_stage);
`

// SQLiteStore is the journal used by the lite server and irisctl.
type SQLiteStore struct {
	*sqlStore
	path string
}

// NewSQLiteStore opens (or creates) the journal file at path in WAL mode.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	dsn := path + "?" + url.Values{
		"_pragma": {"journal_mode(WAL)", "busy_timeout(5000)"},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("preparing journal schema: %w", err)
	}

	return &SQLiteStore{
		sqlStore: &sqlStore{db: db, rebind: identity},
		path:     path,
	}, nil
}

// Path is the journal file location.
func (s *SQLiteStore) Path() string {
	return s.path
}
