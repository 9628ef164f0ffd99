package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cuemby/anvil/pkg/log"
)

// CurrentSchemaVersion is compared against the stored `versions['schema']`
// row on every Open. Bump it whenever materializer_state's column layout
// changes incompatibly; there is deliberately no migration path — see
// package doc.
const CurrentSchemaVersion = "1"

// ErrSchemaMismatch is returned by Open (alongside a freshly initialized
// Store) when the on-disk schema version did not match
// CurrentSchemaVersion and the database was wiped.
var ErrSchemaMismatch = errors.New("sqlstore: schema version mismatch, database reinitialized")

// Record mirrors one materializer_state row.
type Record struct {
	Path           string
	ArtifactType   string
	DigestSize     int64
	DigestSHA1     []byte
	Executable     bool
	SymlinkTarget  string
	LastAccessTime time.Time
}

// Store is the serialized-writer handle over the embedded SQLite database.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Open opens (creating if absent) the store at dbPath, wiping and
// reinitializing it if the recorded schema version doesn't match
// CurrentSchemaVersion.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("sqlstore: create dir: %w", err)
	}

	s, err := openChecked(dbPath)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrSchemaMismatch) {
		return nil, err
	}

	log.WithComponent("sqlstore").Warn().Str("path", dbPath).Msg("schema mismatch, wiping store")
	if removeErr := os.Remove(dbPath); removeErr != nil && !os.IsNotExist(removeErr) {
		return nil, fmt.Errorf("sqlstore: wipe: %w", removeErr)
	}

	fresh, initErr := openChecked(dbPath)
	if initErr != nil && !errors.Is(initErr, ErrSchemaMismatch) {
		return nil, fmt.Errorf("sqlstore: reinit after wipe: %w", initErr)
	}
	return fresh, ErrSchemaMismatch
}

func openChecked(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: dbPath}
	if err := s.ensureSchemaTables(); err != nil {
		db.Close()
		return nil, err
	}

	version, err := s.getVersionLocked("schema")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: read schema version: %w", err)
	}
	if version == "" {
		if err := s.initFresh(); err != nil {
			db.Close()
			return nil, err
		}
		return s, nil
	}
	if version != CurrentSchemaVersion {
		return s, ErrSchemaMismatch
	}
	return s, nil
}

func (s *Store) ensureSchemaTables() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS versions (key TEXT PRIMARY KEY, value TEXT NULL)`)
	return err
}

func (s *Store) initFresh() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS materializer_state (
			path TEXT PRIMARY KEY,
			artifact_type TEXT CHECK (artifact_type IN ('directory','file','symlink','external_symlink')),
			digest_size INTEGER,
			digest_sha1 BLOB,
			file_is_executable INTEGER,
			symlink_target TEXT,
			last_access_time INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS metadata (key TEXT PRIMARY KEY, value TEXT NULL)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlstore: init schema: %w", err)
		}
	}
	return s.setVersionLocked("schema", CurrentSchemaVersion)
}

func (s *Store) getVersionLocked(key string) (string, error) {
	var value sql.NullString
	err := s.db.QueryRow(`SELECT value FROM versions WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value.String, nil
}

func (s *Store) setVersionLocked(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO versions (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// Put upserts r as the Materialized row for r.Path, flushing a Materialized
// transition through to SQL.
func (s *Store) Put(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO materializer_state
			(path, artifact_type, digest_size, digest_sha1, file_is_executable, symlink_target, last_access_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			artifact_type = excluded.artifact_type,
			digest_size = excluded.digest_size,
			digest_sha1 = excluded.digest_sha1,
			file_is_executable = excluded.file_is_executable,
			symlink_target = excluded.symlink_target,
			last_access_time = excluded.last_access_time`,
		r.Path, r.ArtifactType, r.DigestSize, r.DigestSHA1, boolToInt(r.Executable), r.SymlinkTarget,
		r.LastAccessTime.UnixNano())
	return err
}

// Get returns the row for path, if any.
func (s *Store) Get(path string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var r Record
	var executable int
	var lastAccess int64
	r.Path = path
	err := s.db.QueryRow(`SELECT artifact_type, digest_size, digest_sha1, file_is_executable, symlink_target, last_access_time
		FROM materializer_state WHERE path = ?`, path).
		Scan(&r.ArtifactType, &r.DigestSize, &r.DigestSHA1, &executable, &r.SymlinkTarget, &lastAccess)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	r.Executable = executable != 0
	r.LastAccessTime = time.Unix(0, lastAccess)
	return r, true, nil
}

// Delete removes path's row, if any.
func (s *Store) Delete(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM materializer_state WHERE path = ?`, path)
	return err
}

// List returns every recorded row, for startup reconciliation.
func (s *Store) List() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT path, artifact_type, digest_size, digest_sha1, file_is_executable, symlink_target, last_access_time
		FROM materializer_state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var executable int
		var lastAccess int64
		if err := rows.Scan(&r.Path, &r.ArtifactType, &r.DigestSize, &r.DigestSHA1, &executable, &r.SymlinkTarget, &lastAccess); err != nil {
			return nil, err
		}
		r.Executable = executable != 0
		r.LastAccessTime = time.Unix(0, lastAccess)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetObservability stores a non-versioning observability field (binary
// hash, configuration fingerprint, ...) in the metadata table.
func (s *Store) SetObservability(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// GetObservability reads back a metadata field set by SetObservability.
func (s *Store) GetObservability(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var value sql.NullString
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value.String, true, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
