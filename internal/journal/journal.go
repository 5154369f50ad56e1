// Package journal remembers files that failed to transfer, across sessions.
// It is advisory: losing the database loses nothing but ordering hints.
package journal

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"
)

// FileName is the journal's name inside the destination root.
const FileName = ".backup_journal.db"

const (
	batchSize     = 100
	flushInterval = 500 * time.Millisecond
)

// Failure is one remote path that has not transferred yet.
type Failure struct {
	LastFailed time.Time `json:"last_failed" yaml:"last_failed"`
	RemotePath string    `json:"remote_path" yaml:"remote_path"`
	Kind       string    `json:"kind" yaml:"kind"`
	Message    string    `json:"message" yaml:"message"`
	Attempts   int       `json:"attempts" yaml:"attempts"`
}

// Option configures Open.
type Option func(*Journal)

// WithClock sets the clock used for failure timestamps and the flush ticker.
func WithClock(c clockwork.Clock) Option {
	return func(j *Journal) { j.clock = c }
}

type op struct {
	path    string
	kind    string
	msg     string
	at      int64
	success bool
}

// Journal is a SQLite-backed failure log kept in the destination root.
type Journal struct {
	db      *sql.DB
	path    string
	session string
	clock   clockwork.Clock

	// Batch buffer for Record calls.
	mu      sync.Mutex
	batch   []op
	done    chan struct{}
	stopped bool
}

// Open opens (or creates) the journal for the destination root.
func Open(root string, opts ...Option) (*Journal, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", root, err)
	}
	dbPath := filepath.Join(abs, FileName)
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	j := &Journal{
		db:      db,
		path:    dbPath,
		session: uuid.NewString(),
		clock:   clockwork.NewRealClock(),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(j)
	}

	if err := j.init(destID(abs)); err != nil {
		db.Close()
		return nil, err
	}

	go j.flushLoop()
	return j, nil
}

func (j *Journal) init(dest string) error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS failures (
			path        TEXT PRIMARY KEY,
			kind        TEXT NOT NULL,
			message     TEXT NOT NULL,
			attempts    INTEGER NOT NULL,
			last_failed INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	// A journal moved from another destination starts over.
	var stored string
	err = j.db.QueryRow("SELECT value FROM meta WHERE key = 'dest_id'").Scan(&stored)
	if err == nil && stored != dest {
		if _, err := j.db.Exec("DELETE FROM failures"); err != nil {
			return fmt.Errorf("reset journal: %w", err)
		}
	}

	_, err = j.db.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES ('dest_id', ?), ('last_session', ?)",
		dest, j.session,
	)
	if err != nil {
		return fmt.Errorf("store meta: %w", err)
	}
	return nil
}

// Session returns the id assigned to this Open.
func (j *Journal) Session() string { return j.session }

// Path returns the path to the journal database file.
func (j *Journal) Path() string { return j.path }

// RecordFailure notes a failed attempt for remotePath. Writes are batched
// and flushed periodically.
func (j *Journal) RecordFailure(remotePath, kind, msg string) error {
	return j.push(op{path: remotePath, kind: kind, msg: msg, at: j.clock.Now().UnixNano()})
}

// RecordSuccess forgets any failures of remotePath.
func (j *Journal) RecordSuccess(remotePath string) error {
	return j.push(op{path: remotePath, success: true})
}

func (j *Journal) push(o op) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.batch = append(j.batch, o)
	if len(j.batch) >= batchSize {
		return j.flushLocked()
	}
	return nil
}

// Flush writes any pending records to the database.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.flushLocked()
}

func (j *Journal) flushLocked() error {
	if len(j.batch) == 0 {
		return nil
	}

	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	fail, err := tx.Prepare(`
		INSERT INTO failures (path, kind, message, attempts, last_failed)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(path) DO UPDATE SET
			kind = excluded.kind,
			message = excluded.message,
			attempts = failures.attempts + 1,
			last_failed = excluded.last_failed`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer fail.Close()

	ok, err := tx.Prepare("DELETE FROM failures WHERE path = ?")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer ok.Close()

	for _, o := range j.batch {
		if o.success {
			_, err = ok.Exec(o.path)
		} else {
			_, err = fail.Exec(o.path, o.kind, o.msg, o.at)
		}
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record %s: %w", o.path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	j.batch = j.batch[:0]
	return nil
}

func (j *Journal) flushLoop() {
	ticker := j.clock.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.Chan():
			j.mu.Lock()
			_ = j.flushLocked()
			j.mu.Unlock()
		}
	}
}

// Failures returns every recorded failure, most attempts first.
func (j *Journal) Failures() ([]Failure, error) {
	if err := j.Flush(); err != nil {
		return nil, err
	}
	rows, err := j.db.Query(`
		SELECT path, kind, message, attempts, last_failed FROM failures
		ORDER BY attempts DESC, path ASC`)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		var at int64
		if err := rows.Scan(&f.RemotePath, &f.Kind, &f.Message, &f.Attempts, &at); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		f.LastFailed = time.Unix(0, at).UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

// Attempts returns how many failed attempts remotePath has on record.
func (j *Journal) Attempts(remotePath string) int {
	if err := j.Flush(); err != nil {
		return 0
	}
	var n int
	err := j.db.QueryRow("SELECT attempts FROM failures WHERE path = ?", remotePath).Scan(&n)
	if err != nil {
		return 0
	}
	return n
}

// Close flushes any pending writes and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if !j.stopped {
		j.stopped = true
		close(j.done)
	}
	_ = j.flushLocked()
	j.mu.Unlock()
	return j.db.Close()
}

// destID identifies a destination root by its absolute path.
func destID(abs string) string {
	h := blake3.New()
	h.Write([]byte(abs))
	digest := h.Sum(nil)
	return hex.EncodeToString(digest[:8])
}
