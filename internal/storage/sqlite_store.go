package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"charsync/internal/codec/interfaces"
	"charsync/internal/models"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS characters (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		guid          TEXT NOT NULL UNIQUE,
		name          TEXT NOT NULL,
		last_modified INTEGER NOT NULL,
		payload       BLOB NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS spells (
		id   INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE COLLATE NOCASE
	);`,
	`CREATE TABLE IF NOT EXISTS recipes (
		id   INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE COLLATE NOCASE
	);`,
}

// SQLiteStore keeps one row per character with the aggregate as a compressed
// JSON blob. It also serves the spell and recipe reference tables.
type SQLiteStore struct {
	db         *sql.DB
	compressor interfaces.CompressorInterface
	writes     *keyedMutex
	notifier   *changeNotifier
	now        func() time.Time
}

// OpenSQLite opens (or creates) the database file with WAL journaling.
func OpenSQLite(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func NewSQLiteStore(db *sql.DB, compressor interfaces.CompressorInterface) (*SQLiteStore, error) {
	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &SQLiteStore{
		db:         db,
		compressor: compressor,
		writes:     newKeyedMutex(),
		notifier:   newChangeNotifier(),
		now:        time.Now,
	}, nil
}

// SeedReferences inserts missing spell and recipe names.
func (s *SQLiteStore) SeedReferences(ctx context.Context, spells, recipes []string) error {
	for _, name := range spells {
		if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO spells (name) VALUES (?)`, name); err != nil {
			return err
		}
	}
	for _, name := range recipes {
		if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO recipes (name) VALUES (?)`, name); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) SpellIDByName(name string) (int64, bool) {
	return s.lookupName(`SELECT id FROM spells WHERE name = ?`, name)
}

func (s *SQLiteStore) RecipeIDByName(name string) (int64, bool) {
	return s.lookupName(`SELECT id FROM recipes WHERE name = ?`, name)
}

func (s *SQLiteStore) lookupName(query, name string) (int64, bool) {
	var id int64
	if err := s.db.QueryRow(query, name).Scan(&id); err != nil {
		return 0, false
	}
	return id, true
}

func (s *SQLiteStore) encode(agg *models.Aggregate) ([]byte, error) {
	raw, err := json.Marshal(agg)
	if err != nil {
		return nil, err
	}
	return s.compressor.Compress(raw)
}

func (s *SQLiteStore) decode(id int64, payload []byte) (*models.Aggregate, error) {
	raw, err := s.compressor.Decompress(payload)
	if err != nil {
		return nil, fmt.Errorf("character %d: %w", id, err)
	}
	var agg models.Aggregate
	if err := json.Unmarshal(raw, &agg); err != nil {
		return nil, fmt.Errorf("character %d: %w", id, err)
	}
	agg.Character.ID = id
	return &agg, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scan(row rowScanner) (*models.Aggregate, error) {
	var (
		id      int64
		payload []byte
	)
	if err := row.Scan(&id, &payload); err != nil {
		return nil, err
	}
	return s.decode(id, payload)
}

func (s *SQLiteStore) List(ctx context.Context) ([]*models.Aggregate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, payload FROM characters ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Aggregate
	for rows.Next() {
		agg, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, agg)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetByID(ctx context.Context, id int64) (*models.Aggregate, error) {
	agg, err := s.scan(s.db.QueryRowContext(ctx, `SELECT id, payload FROM characters WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("character %d: %w", id, models.ErrNotFound)
	}
	return agg, err
}

func (s *SQLiteStore) GetByGUID(ctx context.Context, guid string) (*models.Aggregate, error) {
	agg, err := s.scan(s.db.QueryRowContext(ctx, `SELECT id, payload FROM characters WHERE guid = ?`, guid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("character %s: %w", guid, models.ErrNotFound)
	}
	return agg, err
}

func (s *SQLiteStore) insert(ctx context.Context, tx *sql.Tx, agg *models.Aggregate) error {
	payload, err := s.encode(agg)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO characters (guid, name, last_modified, payload) VALUES (?,?,?,?)`,
		agg.Character.GUID, agg.Character.Name, agg.Character.LastModifiedDate, payload)
	if err != nil {
		return err
	}
	agg.Character.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) update(ctx context.Context, tx *sql.Tx, agg *models.Aggregate) error {
	payload, err := s.encode(agg)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE characters SET name = ?, last_modified = ?, payload = ? WHERE id = ?`,
		agg.Character.Name, agg.Character.LastModifiedDate, payload, agg.Character.ID)
	return err
}

// withTx runs fn in one write transaction.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Create(ctx context.Context, agg *models.Aggregate) (*models.Aggregate, error) {
	next := agg.Clone()
	if next.Character.GUID == "" {
		next.Character.GUID = uuid.NewString()
	}
	if next.Character.LastModifiedDate == 0 {
		touch(&next.Character, s.now())
	}

	unlock := s.writes.lock(next.Character.GUID)
	defer unlock()

	if err := s.withTx(ctx, func(tx *sql.Tx) error { return s.insert(ctx, tx, next) }); err != nil {
		return nil, fmt.Errorf("create character %s: %w", next.Character.GUID, err)
	}
	s.notifier.publish(next.Character.ID)
	return next, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id int64, mutate func(agg *models.Aggregate) error) (*models.Aggregate, error) {
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock := s.writes.lock(current.Character.GUID)
	defer unlock()

	next, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	guid := next.Character.GUID
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.Character.ID = id
	next.Character.GUID = guid
	touch(&next.Character, s.now())

	if err := s.withTx(ctx, func(tx *sql.Tx) error { return s.update(ctx, tx, next) }); err != nil {
		return nil, fmt.Errorf("update character %d: %w", id, err)
	}
	s.notifier.publish(id)
	return next, nil
}

func (s *SQLiteStore) Transact(ctx context.Context, guid string, fn TransactFunc) (*models.Aggregate, error) {
	unlock := s.writes.lock(guid)
	defer unlock()

	local, err := s.GetByGUID(ctx, guid)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		local = nil
	}

	next, changed, err := fn(local)
	if err != nil {
		return nil, err
	}
	if !changed {
		return local, nil
	}
	if next.Character.GUID != guid {
		return nil, fmt.Errorf("transaction for %s returned guid %s", guid, next.Character.GUID)
	}

	next = next.Clone()
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if local == nil {
			return s.insert(ctx, tx, next)
		}
		next.Character.ID = local.Character.ID
		return s.update(ctx, tx, next)
	})
	if err != nil {
		return nil, fmt.Errorf("persist character %s: %w", guid, err)
	}
	s.notifier.publish(next.Character.ID)
	return next, nil
}

func (s *SQLiteStore) Subscribe(id int64) (<-chan struct{}, func()) {
	return s.notifier.subscribe(id)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
