// Package store persists server configurations, per-server mod entries,
// and the RCON command history in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"grimm.is/zedctl/internal/modlist"
)

var (
	// ErrNotFound indicates a lookup that matched nothing.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate indicates a uniqueness violation (server name).
	ErrDuplicate = errors.New("store: already exists")
)

// Server is a stored game server configuration. Username and Password
// hold ciphertext; the secrets package seals and opens them.
type Server struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Username  string    `json:"-"`
	Password  string    `json:"-"`
	Active    bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CommandEntry is one executed RCON command.
type CommandEntry struct {
	ID         int64     `json:"id"`
	ServerID   string    `json:"server_id"`
	Command    string    `json:"command"`
	Response   string    `json:"response,omitempty"`
	Success    bool      `json:"success"`
	ErrorMsg   string    `json:"error_message,omitempty"`
	ExecutedAt time.Time `json:"executed_at"`
}

// Store wraps the SQLite database.
type Store struct {
	mu sync.RWMutex
	db *sql.DB
}

// Open creates or opens the database at dbPath and migrates the schema.
// ":memory:" gives an ephemeral database for tests.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS servers (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	host TEXT NOT NULL,
	port INTEGER NOT NULL,
	username TEXT,
	password TEXT NOT NULL,
	is_active INTEGER DEFAULT 1,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_servers_name ON servers(name);

CREATE TABLE IF NOT EXISTS server_mods (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	server_id TEXT NOT NULL,
	workshop_id TEXT NOT NULL,
	mod_ids TEXT NOT NULL,
	enabled_mod_ids TEXT,
	name TEXT,
	workshop_url TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (server_id, workshop_id)
);
CREATE INDEX IF NOT EXISTS idx_server_mods_server ON server_mods(server_id);

CREATE TABLE IF NOT EXISTS command_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	server_id TEXT NOT NULL,
	command TEXT NOT NULL,
	response TEXT,
	success INTEGER DEFAULT 1,
	error_message TEXT,
	executed_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_command_log_server ON command_log(server_id);
CREATE INDEX IF NOT EXISTS idx_command_log_time ON command_log(executed_at);
`

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for components that share the file,
// like the player sample recorder.
func (s *Store) DB() *sql.DB {
	return s.db
}

// ──────────────────────────────────────────────────────────────────────────────
// Servers
// ──────────────────────────────────────────────────────────────────────────────

// CreateServer inserts a new server. A missing ID gets a fresh UUID.
func (s *Store) CreateServer(srv *Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if srv.ID == "" {
		srv.ID = uuid.NewString()
	}

	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM servers WHERE name = ?`, srv.Name).Scan(&exists); err != nil {
		return fmt.Errorf("check server name: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: server name %q", ErrDuplicate, srv.Name)
	}

	now := time.Now().UTC()
	srv.CreatedAt = now
	srv.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO servers (id, name, host, port, username, password, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, srv.ID, srv.Name, srv.Host, srv.Port, srv.Username, srv.Password, boolToInt(srv.Active), now, now)
	if err != nil {
		return fmt.Errorf("insert server: %w", err)
	}
	return nil
}

// GetServer fetches a server by id.
func (s *Store) GetServer(id string) (*Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanServer(s.db.QueryRow(serverColumns+` WHERE id = ?`, id))
}

// GetServerByName fetches a server by its unique name.
func (s *Store) GetServerByName(name string) (*Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanServer(s.db.QueryRow(serverColumns+` WHERE name = ?`, name))
}

const serverColumns = `SELECT id, name, host, port, username, password, is_active, created_at, updated_at FROM servers`

func (s *Store) scanServer(row *sql.Row) (*Server, error) {
	var srv Server
	var username sql.NullString
	var active int
	err := row.Scan(&srv.ID, &srv.Name, &srv.Host, &srv.Port, &username, &srv.Password, &active, &srv.CreatedAt, &srv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan server: %w", err)
	}
	srv.Username = username.String
	srv.Active = active != 0
	return &srv, nil
}

// ListServers returns all servers ordered by name.
func (s *Store) ListServers() ([]*Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(serverColumns + ` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()

	var out []*Server
	for rows.Next() {
		var srv Server
		var username sql.NullString
		var active int
		if err := rows.Scan(&srv.ID, &srv.Name, &srv.Host, &srv.Port, &username, &srv.Password, &active, &srv.CreatedAt, &srv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		srv.Username = username.String
		srv.Active = active != 0
		out = append(out, &srv)
	}
	return out, rows.Err()
}

// UpdateServer rewrites a server's mutable fields.
func (s *Store) UpdateServer(srv *Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	srv.UpdatedAt = time.Now().UTC()
	res, err := s.db.Exec(`
		UPDATE servers SET name = ?, host = ?, port = ?, username = ?, password = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`, srv.Name, srv.Host, srv.Port, srv.Username, srv.Password, boolToInt(srv.Active), srv.UpdatedAt, srv.ID)
	if err != nil {
		return fmt.Errorf("update server: %w", err)
	}
	return requireRow(res)
}

// DeleteServer removes a server and everything hanging off it.
func (s *Store) DeleteServer(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM servers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete server: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	s.db.Exec(`DELETE FROM server_mods WHERE server_id = ?`, id)
	s.db.Exec(`DELETE FROM command_log WHERE server_id = ?`, id)
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Mods
// ──────────────────────────────────────────────────────────────────────────────

// GetMods loads a server's mod entries in insertion order. Entry order
// is load-bearing: serialization flattens enabled mod ids in the order
// of their owning entries.
func (s *Store) GetMods(serverID string) ([]*modlist.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT workshop_id, mod_ids, enabled_mod_ids, name
		FROM server_mods WHERE server_id = ? ORDER BY id
	`, serverID)
	if err != nil {
		return nil, fmt.Errorf("list mods: %w", err)
	}
	defer rows.Close()

	var out []*modlist.Entry
	for rows.Next() {
		var modIDs, name sql.NullString
		var enabled sql.NullString
		e := &modlist.Entry{}
		if err := rows.Scan(&e.WorkshopID, &modIDs, &enabled, &name); err != nil {
			return nil, fmt.Errorf("scan mod: %w", err)
		}
		e.ModIDs = splitJoined(modIDs.String)
		e.EnabledModIDs = splitJoined(enabled.String)
		e.Name = name.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertMod inserts or updates one workshop entry for a server.
func (s *Store) UpsertMod(serverID string, e *modlist.Entry, workshopURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertModLocked(serverID, e, workshopURL)
}

func (s *Store) upsertModLocked(serverID string, e *modlist.Entry, workshopURL string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO server_mods (server_id, workshop_id, mod_ids, enabled_mod_ids, name, workshop_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(server_id, workshop_id) DO UPDATE SET
			mod_ids = excluded.mod_ids,
			enabled_mod_ids = excluded.enabled_mod_ids,
			name = excluded.name,
			workshop_url = excluded.workshop_url,
			updated_at = excluded.updated_at
	`, serverID, e.WorkshopID, joinIDs(e.ModIDs), joinIDs(e.EnabledModIDs), e.Name, workshopURL, now, now)
	if err != nil {
		return fmt.Errorf("upsert mod %s: %w", e.WorkshopID, err)
	}
	return nil
}

// SaveMods replaces a server's full mod set with entries.
func (s *Store) SaveMods(serverID string, entries []*modlist.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keep := make([]any, 0, len(entries)+1)
	keep = append(keep, serverID)
	placeholders := make([]string, 0, len(entries))
	for _, e := range entries {
		if err := s.upsertModLocked(serverID, e, ""); err != nil {
			return err
		}
		keep = append(keep, e.WorkshopID)
		placeholders = append(placeholders, "?")
	}

	del := `DELETE FROM server_mods WHERE server_id = ?`
	if len(placeholders) > 0 {
		del += ` AND workshop_id NOT IN (` + strings.Join(placeholders, ",") + `)`
	}
	if _, err := s.db.Exec(del, keep...); err != nil {
		return fmt.Errorf("prune mods: %w", err)
	}
	return nil
}

// DeleteMod removes one workshop entry from a server.
func (s *Store) DeleteMod(serverID, workshopID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM server_mods WHERE server_id = ? AND workshop_id = ?`, serverID, workshopID)
	if err != nil {
		return fmt.Errorf("delete mod: %w", err)
	}
	return requireRow(res)
}

// ──────────────────────────────────────────────────────────────────────────────
// Command log
// ──────────────────────────────────────────────────────────────────────────────

// LogCommand appends one command execution record.
func (s *Store) LogCommand(e *CommandEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO command_log (server_id, command, response, success, error_message, executed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ServerID, e.Command, e.Response, boolToInt(e.Success), e.ErrorMsg, e.ExecutedAt)
	if err != nil {
		return fmt.Errorf("log command: %w", err)
	}
	return nil
}

// CommandHistory returns the most recent commands for a server, newest
// first. limit <= 0 means 50.
func (s *Store) CommandHistory(serverID string, limit int) ([]CommandEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, server_id, command, response, success, error_message, executed_at
		FROM command_log WHERE server_id = ?
		ORDER BY executed_at DESC, id DESC LIMIT ?
	`, serverID, limit)
	if err != nil {
		return nil, fmt.Errorf("query command log: %w", err)
	}
	defer rows.Close()

	var out []CommandEntry
	for rows.Next() {
		var e CommandEntry
		var response, errMsg sql.NullString
		var success int
		if err := rows.Scan(&e.ID, &e.ServerID, &e.Command, &response, &success, &errMsg, &e.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		e.Response = response.String
		e.ErrorMsg = errMsg.String
		e.Success = success != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneCommandLog removes entries older than the retention window.
func (s *Store) PruneCommandLog(retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-retention)
	res, err := s.db.Exec(`DELETE FROM command_log WHERE executed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune command log: %w", err)
	}
	return res.RowsAffected()
}

func joinIDs(ids []string) string {
	return strings.Join(ids, ";")
}

func splitJoined(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ";")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
