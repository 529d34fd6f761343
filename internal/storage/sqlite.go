package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStorage is a SQLite storage backend.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage backend.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStorage{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// init creates the necessary tables.
func (s *SQLiteStorage) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS entities (
			id INTEGER PRIMARY KEY,
			category TEXT NOT NULL,
			key TEXT DEFAULT '',
			typeclass TEXT DEFAULT '',
			locks TEXT DEFAULT '',
			attributes TEXT,
			obj_id INTEGER DEFAULT 0,
			interval INTEGER DEFAULT -1,
			persistent INTEGER DEFAULT 0,
			started INTEGER DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_category ON entities(category);
	`)
	return err
}

// Store persists an entity to SQLite.
func (s *SQLiteStorage) Store(e *EntityData) error {
	_, err := s.db.Exec(`
		INSERT INTO entities (id, category, key, typeclass, locks, attributes, obj_id, interval, persistent, started)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			category=excluded.category, key=excluded.key, typeclass=excluded.typeclass,
			locks=excluded.locks, attributes=excluded.attributes, obj_id=excluded.obj_id,
			interval=excluded.interval, persistent=excluded.persistent, started=excluded.started
	`, e.ID, e.Category, e.Key, e.TypeclassPath, e.Locks, nullableJSON(e.Attributes),
		e.ObjID, e.Interval, boolInt(e.Persistent), boolInt(e.Started))
	return err
}

// Load retrieves an entity from SQLite.
func (s *SQLiteStorage) Load(id int64) (*EntityData, error) {
	row := s.db.QueryRow(`
		SELECT id, category, key, typeclass, locks, attributes, obj_id, interval, persistent, started
		FROM entities WHERE id = ?
	`, id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("entity %d not found", id)
	}
	return e, err
}

// Delete removes an entity from SQLite.
func (s *SQLiteStorage) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM entities WHERE id = ?`, id)
	return err
}

// ListCategory gets all entities of one category, ordered by ID.
func (s *SQLiteStorage) ListCategory(category string) ([]*EntityData, error) {
	rows, err := s.db.Query(`
		SELECT id, category, key, typeclass, locks, attributes, obj_id, interval, persistent, started
		FROM entities WHERE category = ? ORDER BY id
	`, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*EntityData
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// Exists checks if an entity exists.
func (s *SQLiteStorage) Exists(id int64) bool {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM entities WHERE id = ?`, id).Scan(&one)
	return err == nil
}

// MaxID returns the highest stored entity ID.
func (s *SQLiteStorage) MaxID() (int64, error) {
	var max sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(id) FROM entities`).Scan(&max); err != nil {
		return 0, err
	}
	return max.Int64, nil
}

// Clear removes all data.
func (s *SQLiteStorage) Clear() error {
	_, err := s.db.Exec(`DELETE FROM entities`)
	return err
}

// BeginTransaction starts an atomic operation.
func (s *SQLiteStorage) BeginTransaction() (Transaction, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	return &sqliteTransaction{tx: tx}, nil
}

// Close closes the storage backend.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// rowScanner abstracts sql.Row and sql.Rows for scanning.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanEntity scans one entity row.
func scanEntity(row rowScanner) (*EntityData, error) {
	var e EntityData
	var attrs sql.NullString
	var persistent, started int
	if err := row.Scan(&e.ID, &e.Category, &e.Key, &e.TypeclassPath, &e.Locks,
		&attrs, &e.ObjID, &e.Interval, &persistent, &started); err != nil {
		return nil, err
	}
	if attrs.Valid {
		e.Attributes = []byte(attrs.String)
	}
	e.Persistent = persistent != 0
	e.Started = started != 0
	return &e, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// sqliteTransaction implements Transaction for SQLiteStorage.
type sqliteTransaction struct {
	tx *sql.Tx
}

// Store persists an entity within the transaction.
func (t *sqliteTransaction) Store(e *EntityData) error {
	_, err := t.tx.Exec(`
		INSERT INTO entities (id, category, key, typeclass, locks, attributes, obj_id, interval, persistent, started)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			category=excluded.category, key=excluded.key, typeclass=excluded.typeclass,
			locks=excluded.locks, attributes=excluded.attributes, obj_id=excluded.obj_id,
			interval=excluded.interval, persistent=excluded.persistent, started=excluded.started
	`, e.ID, e.Category, e.Key, e.TypeclassPath, e.Locks, nullableJSON(e.Attributes),
		e.ObjID, e.Interval, boolInt(e.Persistent), boolInt(e.Started))
	return err
}

// Delete removes an entity within the transaction.
func (t *sqliteTransaction) Delete(id int64) error {
	_, err := t.tx.Exec(`DELETE FROM entities WHERE id = ?`, id)
	return err
}

// Commit completes the transaction.
func (t *sqliteTransaction) Commit() error {
	return t.tx.Commit()
}

// Rollback cancels the transaction.
func (t *sqliteTransaction) Rollback() error {
	return t.tx.Rollback()
}
