package sync

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gitmesh/gitmesh/internal/db"
	"github.com/jmoiron/sqlx"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS push_journal (
    source    TEXT NOT NULL,
    peer      TEXT NOT NULL,
    branch    TEXT NOT NULL,
    hash      TEXT NOT NULL,
    pushed_at TEXT NOT NULL, -- RFC3339
    PRIMARY KEY (source, peer, branch)
);

CREATE INDEX IF NOT EXISTS idx_push_journal_source ON push_journal(source);
`

// dbJournalEntry is the row shape for scanning.
type dbJournalEntry struct {
	Source   string `db:"source"`
	Peer     string `db:"peer"`
	Branch   string `db:"branch"`
	Hash     string `db:"hash"`
	PushedAt string `db:"pushed_at"`
}

// Journal persists the last hash confirmed pushed per (source, peer, branch)
// in SQLite so the cache survives restarts. Entries are written only after a
// confirmed successful push; the journal is never ground truth, local hashes
// are always re-snapshotted.
type Journal struct {
	db     *sqlx.DB
	dbPath string
}

// NewJournal creates a Journal backed by an SQLite database at dbPath.
// Use ":memory:" for tests.
func NewJournal(dbPath string) *Journal {
	return &Journal{dbPath: dbPath}
}

// Open opens the underlying database and creates the schema.
func (j *Journal) Open() error {
	if j.db != nil {
		return fmt.Errorf("push journal already open")
	}

	sqldb, err := db.NewSqliteDb(db.WithPath(j.dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return fmt.Errorf("open push journal: %w", err)
	}

	if _, err := sqldb.Exec(journalSchema); err != nil {
		sqldb.Close()
		return fmt.Errorf("initialize push journal schema: %w", err)
	}

	j.db = sqldb
	return nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	if j.db == nil {
		return fmt.Errorf("push journal not open")
	}
	if err := j.db.Close(); err != nil {
		return err
	}
	slog.Debug("push journal closed")
	return nil
}

// Record stores a confirmed successful push.
func (j *Journal) Record(source, peer, branch, hash string) error {
	entry := dbJournalEntry{
		Source:   source,
		Peer:     peer,
		Branch:   branch,
		Hash:     hash,
		PushedAt: time.Now().UTC().Format(time.RFC3339),
	}

	query := `INSERT OR REPLACE INTO push_journal (source, peer, branch, hash, pushed_at)
	          VALUES (:source, :peer, :branch, :hash, :pushed_at)`
	if _, err := j.db.NamedExec(query, entry); err != nil {
		return fmt.Errorf("record push %s/%s/%s: %w", source, peer, branch, err)
	}
	return nil
}

// Forget drops the entry for one (source, peer, branch).
func (j *Journal) Forget(source, peer, branch string) error {
	_, err := j.db.Exec("DELETE FROM push_journal WHERE source = ? AND peer = ? AND branch = ?", source, peer, branch)
	if err != nil {
		return fmt.Errorf("forget push %s/%s/%s: %w", source, peer, branch, err)
	}
	return nil
}

// State returns the journalled hashes for one source, keyed by (peer, branch).
func (j *Journal) State(source string) (map[PeerBranch]string, error) {
	var entries []dbJournalEntry
	err := j.db.Select(&entries, "SELECT source, peer, branch, hash, pushed_at FROM push_journal WHERE source = ?", source)
	if err != nil {
		return nil, fmt.Errorf("query journal state for %s: %w", source, err)
	}

	state := make(map[PeerBranch]string, len(entries))
	for _, e := range entries {
		state[PeerBranch{Peer: e.Peer, Branch: e.Branch}] = e.Hash
	}
	return state, nil
}

// Count returns the number of journal entries.
func (j *Journal) Count() (int, error) {
	var count int
	if err := j.db.Get(&count, "SELECT COUNT(*) FROM push_journal"); err != nil {
		return 0, fmt.Errorf("count journal entries: %w", err)
	}
	return count, nil
}
