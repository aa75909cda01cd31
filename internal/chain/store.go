package chain

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver registration

	"github.com/majorcontext/sigchain/internal/log"
)

var (
	// ErrNotFound is returned when a block doesn't exist.
	ErrNotFound = errors.New("block not found")
	// ErrOutOfOrder is returned when appending a block that does not extend the stored chain.
	ErrOutOfOrder = errors.New("block does not extend stored chain")
)

// Store persists blocks in SQLite. Rows are stored exactly as built; nothing
// is re-verified on load.
type Store struct {
	db       *sql.DB
	mu       sync.Mutex
	lastID   int32
	lastHash string
}

// OpenStore opens or creates a block store at the given path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	store := &Store{db: db, lastID: -1}
	if err := store.loadLast(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS blocks (
			id            INTEGER PRIMARY KEY,
			date          INTEGER NOT NULL,
			previous_hash TEXT NOT NULL,
			hash_key      TEXT NOT NULL,
			hash          TEXT NOT NULL UNIQUE,
			data          TEXT NOT NULL,
			signature     BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_blocks_hash_key ON blocks(hash_key);
	`)
	return err
}

func (s *Store) loadLast() error {
	row := s.db.QueryRow(`SELECT id, hash FROM blocks ORDER BY id DESC LIMIT 1`)
	var id int32
	var hash string
	err := row.Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading last block: %w", err)
	}
	s.lastID = id
	s.lastHash = hash
	return nil
}

// Append persists b. It must be the next block after the last stored one.
func (s *Store) Append(b *Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := b.metadata
	if m.id != s.lastID+1 || m.previousHash != s.lastHash {
		return fmt.Errorf("%w: got id %d, want %d", ErrOutOfOrder, m.id, s.lastID+1)
	}

	_, err := s.db.Exec(`
		INSERT INTO blocks (id, date, previous_hash, hash_key, hash, data, signature)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.id, int64(m.date), m.previousHash, m.hashKey, m.hash, b.data, b.signature) //nolint:gosec // dates fit in int64
	if err != nil {
		return fmt.Errorf("inserting block: %w", err)
	}

	s.lastID = m.id
	s.lastHash = m.hash
	log.Debug("stored block", "id", m.id, "hash", m.hash)
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get retrieves a block by id.
func (s *Store) Get(id int32) (*Block, error) {
	row := s.db.QueryRow(`
		SELECT id, date, previous_hash, hash_key, hash, data, signature
		FROM blocks WHERE id = ?
	`, id)
	b, err := scanBlock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

// Count returns the number of stored blocks.
func (s *Store) Count() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM blocks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting blocks: %w", err)
	}
	return count, nil
}

// Range retrieves blocks with start <= id <= end in id order.
func (s *Store) Range(start, end int32) ([]*Block, error) {
	rows, err := s.db.Query(`
		SELECT id, date, previous_hash, hash_key, hash, data, signature
		FROM blocks WHERE id >= ? AND id <= ?
		ORDER BY id
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying range: %w", err)
	}
	defer rows.Close()

	var blocks []*Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// Load reads every stored block into a Chain.
func (s *Store) Load() (*Chain, error) {
	s.mu.Lock()
	last := s.lastID
	s.mu.Unlock()

	if last < 0 {
		return New(), nil
	}
	blocks, err := s.Range(0, last)
	if err != nil {
		return nil, err
	}
	return FromBlocks(blocks), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBlock(row scanner) (*Block, error) {
	var (
		id                          int32
		date                        int64
		previousHash, hashKey, hash string
		data                        string
		signature                   []byte
	)
	err := row.Scan(&id, &date, &previousHash, &hashKey, &hash, &data, &signature)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning block: %w", err)
	}
	return &Block{
		metadata:  RestoreMetadata(id, uint64(date), previousHash, hashKey, hash), //nolint:gosec // stored from a uint64
		data:      data,
		signature: signature,
	}, nil
}
