package sessions

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	agentctx "github.com/ctxcore/agentcore/internal/context"
)

// MemoryContextStore is an in-memory agentctx.Storage implementation for
// tests and local runs. Save copies the metadata map; the state pointer is
// stored as given.
type MemoryContextStore struct {
	mu      sync.RWMutex
	entries map[string]*contextStoreEntry
}

type contextStoreEntry struct {
	state     *agentctx.PersistedState
	metadata  map[string]string
	updatedAt time.Time
}

// NewMemoryContextStore creates a new in-memory Context Manager storage backend.
func NewMemoryContextStore() *MemoryContextStore {
	return &MemoryContextStore{entries: make(map[string]*contextStoreEntry)}
}

func (m *MemoryContextStore) Save(id string, state *agentctx.PersistedState, metadata map[string]string) error {
	if id == "" {
		return fmt.Errorf("id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	m.entries[id] = &contextStoreEntry{state: state, metadata: md, updatedAt: time.Now()}
	return nil
}

func (m *MemoryContextStore) Load(id string) (*agentctx.PersistedState, map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, nil, agentctx.ErrNotFound
	}
	return e.state, e.metadata, nil
}

func (m *MemoryContextStore) Exists(id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[id]
	return ok, nil
}

func (m *MemoryContextStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *MemoryContextStore) List() ([]agentctx.StorageSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]agentctx.StorageSummary, 0, len(m.entries))
	for id, e := range m.entries {
		out = append(out, agentctx.StorageSummary{ID: id, UpdatedAt: e.updatedAt})
	}
	return out, nil
}

// FileContextStore persists Context Manager state as one JSON file per id
// under a directory, for single-user CLI runs that want state to survive
// across process restarts without a database.
type FileContextStore struct {
	dir string
}

type fileContextEntry struct {
	State     *agentctx.PersistedState `json:"state"`
	Metadata  map[string]string        `json:"metadata"`
	UpdatedAt time.Time                `json:"updated_at"`
}

// NewFileContextStore creates the directory if needed and returns a store
// rooted there.
func NewFileContextStore(dir string) (*FileContextStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating context store dir: %w", err)
	}
	return &FileContextStore{dir: dir}, nil
}

func (s *FileContextStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *FileContextStore) Save(id string, state *agentctx.PersistedState, metadata map[string]string) error {
	entry := fileContextEntry{State: state, Metadata: metadata, UpdatedAt: time.Now()}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(id), data, 0o644)
}

func (s *FileContextStore) Load(id string) (*agentctx.PersistedState, map[string]string, error) {
	data, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return nil, nil, agentctx.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	var entry fileContextEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, nil, err
	}
	return entry.State, entry.Metadata, nil
}

func (s *FileContextStore) Exists(id string) (bool, error) {
	_, err := os.Stat(s.path(id))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (s *FileContextStore) Delete(id string) error {
	err := os.Remove(s.path(id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *FileContextStore) List() ([]agentctx.StorageSummary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []agentctx.StorageSummary
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		id := e.Name()[:len(e.Name())-len(".json")]
		out = append(out, agentctx.StorageSummary{ID: id, UpdatedAt: info.ModTime()})
	}
	return out, nil
}

// PostgresContextStore persists Context Manager state (PersistedState blobs,
// per SPEC_FULL.md §6) as JSON documents in CockroachDB/Postgres, using a
// *sql.DB connection supplied by the caller rather than opening its own pool.
type PostgresContextStore struct {
	db *sql.DB
}

// NewPostgresContextStore creates the backing table if needed and returns a
// store bound to db.
func NewPostgresContextStore(db *sql.DB) (*PostgresContextStore, error) {
	const ddl = `
CREATE TABLE IF NOT EXISTS context_state (
	id TEXT PRIMARY KEY,
	state JSONB NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := db.Exec(ddl); err != nil {
		return nil, fmt.Errorf("creating context_state table: %w", err)
	}
	return &PostgresContextStore{db: db}, nil
}

func (s *PostgresContextStore) Save(id string, state *agentctx.PersistedState, metadata map[string]string) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return err
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
INSERT INTO context_state (id, state, metadata, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (id) DO UPDATE SET state = $2, metadata = $3, updated_at = now()`,
		id, stateJSON, metaJSON)
	return err
}

func (s *PostgresContextStore) Load(id string) (*agentctx.PersistedState, map[string]string, error) {
	var stateJSON, metaJSON []byte
	err := s.db.QueryRow(`SELECT state, metadata FROM context_state WHERE id = $1`, id).Scan(&stateJSON, &metaJSON)
	if err == sql.ErrNoRows {
		return nil, nil, agentctx.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	var state agentctx.PersistedState
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return nil, nil, err
	}
	var metadata map[string]string
	if err := json.Unmarshal(metaJSON, &metadata); err != nil {
		return nil, nil, err
	}
	return &state, metadata, nil
}

func (s *PostgresContextStore) Exists(id string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM context_state WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (s *PostgresContextStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM context_state WHERE id = $1`, id)
	return err
}

func (s *PostgresContextStore) List() ([]agentctx.StorageSummary, error) {
	rows, err := s.db.Query(`SELECT id, updated_at FROM context_state ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []agentctx.StorageSummary
	for rows.Next() {
		var summary agentctx.StorageSummary
		if err := rows.Scan(&summary.ID, &summary.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}
