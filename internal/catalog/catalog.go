// Package catalog persists the fleet inventory: known nodes, their
// configuration snapshots, check outcomes, and who-heard-whom history.
package catalog

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/jkrauska/nodepool/internal/logging"
	"github.com/jkrauska/nodepool/internal/meshwire"
)

var ErrNodeNotFound = errors.New("catalog: node not found")

// Node is one catalogued radio. FirstSeen survives re-imports.
type Node struct {
	ID              string
	ShortName       string
	LongName        string
	HWModel         string
	FirmwareVersion string
	Endpoint        string
	Managed         bool
	FirstSeen       time.Time
	LastSeen        time.Time
}

// Snapshot is one stored configuration capture.
type Snapshot struct {
	NodeID  string
	TakenAt time.Time
	Config  meshwire.Snapshot
}

// CheckResult is one policy check outcome for one node.
type CheckResult struct {
	NodeID    string
	Check     string
	Status    string
	Detail    string
	CheckedAt time.Time
}

// Heard is one observation of a node by another node.
type Heard struct {
	NodeID    string
	SeenBy    string
	HeardAt   time.Time
	SNR       *float64
	HopsAway  *int
	Latitude  *float64
	Longitude *float64
}

type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open creates or migrates the catalog database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("catalog: create database directory: %w", err)
	}
	return open(path)
}

// OpenMemory backs the catalog with an in-process database.
func OpenMemory() (*Store, error) {
	return open(":memory:")
}

func open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open database: %w", err)
	}
	s := &Store{db: db, log: logging.For("catalog")}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies schema steps past the recorded user_version. Steps
// are append-only; editing a shipped step corrupts deployed catalogs.
func (s *Store) migrate() error {
	steps := []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			id               TEXT PRIMARY KEY,
			short_name       TEXT NOT NULL DEFAULT '',
			long_name        TEXT NOT NULL DEFAULT '',
			hw_model         TEXT NOT NULL DEFAULT '',
			firmware_version TEXT NOT NULL DEFAULT '',
			endpoint         TEXT NOT NULL DEFAULT '',
			last_seen        INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS config_snapshots (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			node_id  TEXT NOT NULL,
			taken_at INTEGER NOT NULL,
			config   TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS config_checks (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			node_id    TEXT NOT NULL,
			check_name TEXT NOT NULL,
			status     TEXT NOT NULL,
			detail     TEXT NOT NULL DEFAULT '',
			checked_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_snapshots_node ON config_snapshots(node_id, taken_at);
		CREATE INDEX IF NOT EXISTS idx_checks_node ON config_checks(node_id, checked_at);`,

		`ALTER TABLE nodes ADD COLUMN managed INTEGER NOT NULL DEFAULT 0;
		ALTER TABLE nodes ADD COLUMN first_seen INTEGER NOT NULL DEFAULT 0;`,

		`CREATE TABLE IF NOT EXISTS heard_history (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			node_id   TEXT NOT NULL,
			seen_by   TEXT NOT NULL,
			heard_at  INTEGER NOT NULL,
			snr       REAL,
			hops_away INTEGER,
			latitude  REAL,
			longitude REAL
		);
		CREATE INDEX IF NOT EXISTS idx_heard_seen_by ON heard_history(seen_by, heard_at);`,
	}

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("catalog: read schema version: %w", err)
	}
	for i := version; i < len(steps); i++ {
		if _, err := s.db.Exec(steps[i]); err != nil {
			return fmt.Errorf("catalog: apply schema step %d: %w", i+1, err)
		}
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			return fmt.Errorf("catalog: record schema version: %w", err)
		}
		s.log.Debug().Int("step", i+1).Msg("schema step applied")
	}
	return nil
}

// UpsertNode inserts or refreshes one node. An existing row keeps its
// first_seen and managed flag.
func (s *Store) UpsertNode(n Node) error {
	if n.FirstSeen.IsZero() {
		n.FirstSeen = n.LastSeen
	}
	_, err := s.db.Exec(`
		INSERT INTO nodes (id, short_name, long_name, hw_model, firmware_version, endpoint, managed, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			short_name       = excluded.short_name,
			long_name        = excluded.long_name,
			hw_model         = CASE WHEN excluded.hw_model != '' THEN excluded.hw_model ELSE nodes.hw_model END,
			firmware_version = CASE WHEN excluded.firmware_version != '' THEN excluded.firmware_version ELSE nodes.firmware_version END,
			endpoint         = CASE WHEN excluded.endpoint != '' THEN excluded.endpoint ELSE nodes.endpoint END,
			last_seen        = excluded.last_seen`,
		n.ID, n.ShortName, n.LongName, n.HWModel, n.FirmwareVersion, n.Endpoint,
		boolInt(n.Managed), n.FirstSeen.Unix(), n.LastSeen.Unix())
	if err != nil {
		return fmt.Errorf("catalog: upsert node %s: %w", n.ID, err)
	}
	return nil
}

// SetManaged flips the managed flag for one node.
func (s *Store) SetManaged(id string, managed bool) error {
	res, err := s.db.Exec("UPDATE nodes SET managed = ? WHERE id = ?", boolInt(managed), id)
	if err != nil {
		return fmt.Errorf("catalog: set managed %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return nil
}

// Node returns one catalogued node by id.
func (s *Store) Node(id string) (*Node, error) {
	row := s.db.QueryRow(`
		SELECT id, short_name, long_name, hw_model, firmware_version, endpoint, managed, first_seen, last_seen
		FROM nodes WHERE id = ?`, id)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: load node %s: %w", id, err)
	}
	return n, nil
}

// Nodes returns every catalogued node, most recently seen first.
func (s *Store) Nodes() ([]Node, error) {
	rows, err := s.db.Query(`
		SELECT id, short_name, long_name, hw_model, firmware_version, endpoint, managed, first_seen, last_seen
		FROM nodes ORDER BY last_seen DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list nodes: %w", err)
	}
	defer rows.Close()

	var out []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: scan node: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*Node, error) {
	var n Node
	var managed, firstSeen, lastSeen int64
	err := row.Scan(&n.ID, &n.ShortName, &n.LongName, &n.HWModel, &n.FirmwareVersion,
		&n.Endpoint, &managed, &firstSeen, &lastSeen)
	if err != nil {
		return nil, err
	}
	n.Managed = managed != 0
	n.FirstSeen = time.Unix(firstSeen, 0).UTC()
	n.LastSeen = time.Unix(lastSeen, 0).UTC()
	return &n, nil
}

// SaveSnapshot stores one configuration capture as a JSON document.
func (s *Store) SaveSnapshot(nodeID string, snap meshwire.Snapshot) error {
	doc, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("catalog: encode snapshot for %s: %w", nodeID, err)
	}
	_, err = s.db.Exec("INSERT INTO config_snapshots (node_id, taken_at, config) VALUES (?, ?, ?)",
		nodeID, time.Now().Unix(), string(doc))
	if err != nil {
		return fmt.Errorf("catalog: save snapshot for %s: %w", nodeID, err)
	}
	return nil
}

// LatestSnapshot returns the newest stored capture for one node, or
// nil when none exists.
func (s *Store) LatestSnapshot(nodeID string) (*Snapshot, error) {
	var takenAt int64
	var doc string
	err := s.db.QueryRow(`
		SELECT taken_at, config FROM config_snapshots
		WHERE node_id = ? ORDER BY taken_at DESC, id DESC LIMIT 1`, nodeID).Scan(&takenAt, &doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: load snapshot for %s: %w", nodeID, err)
	}
	snap := Snapshot{NodeID: nodeID, TakenAt: time.Unix(takenAt, 0).UTC()}
	if err := json.Unmarshal([]byte(doc), &snap.Config); err != nil {
		return nil, fmt.Errorf("catalog: decode snapshot for %s: %w", nodeID, err)
	}
	return &snap, nil
}

// SaveCheckResults stores one check run atomically.
func (s *Store) SaveCheckResults(results []CheckResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("catalog: begin check save: %w", err)
	}
	for _, r := range results {
		if r.CheckedAt.IsZero() {
			r.CheckedAt = time.Now()
		}
		_, err := tx.Exec(`
			INSERT INTO config_checks (node_id, check_name, status, detail, checked_at)
			VALUES (?, ?, ?, ?, ?)`,
			r.NodeID, r.Check, r.Status, r.Detail, r.CheckedAt.Unix())
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("catalog: save check %s for %s: %w", r.Check, r.NodeID, err)
		}
	}
	return tx.Commit()
}

// CheckHistory returns the newest check rows for one node.
func (s *Store) CheckHistory(nodeID string, limit int) ([]CheckResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT node_id, check_name, status, detail, checked_at FROM config_checks
		WHERE node_id = ? ORDER BY checked_at DESC, id DESC LIMIT ?`, nodeID, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog: check history for %s: %w", nodeID, err)
	}
	defer rows.Close()

	var out []CheckResult
	for rows.Next() {
		var r CheckResult
		var checkedAt int64
		if err := rows.Scan(&r.NodeID, &r.Check, &r.Status, &r.Detail, &checkedAt); err != nil {
			return nil, fmt.Errorf("catalog: scan check row: %w", err)
		}
		r.CheckedAt = time.Unix(checkedAt, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordHeard appends one heard observation.
func (s *Store) RecordHeard(h Heard) error {
	if h.HeardAt.IsZero() {
		h.HeardAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO heard_history (node_id, seen_by, heard_at, snr, hops_away, latitude, longitude)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.NodeID, h.SeenBy, h.HeardAt.Unix(), h.SNR, h.HopsAway, h.Latitude, h.Longitude)
	if err != nil {
		return fmt.Errorf("catalog: record heard %s: %w", h.NodeID, err)
	}
	return nil
}

// HeardBy returns observations made by one observer since the cutoff,
// newest first.
func (s *Store) HeardBy(seenBy string, since time.Time) ([]Heard, error) {
	rows, err := s.db.Query(`
		SELECT node_id, seen_by, heard_at, snr, hops_away, latitude, longitude
		FROM heard_history WHERE seen_by = ? AND heard_at >= ?
		ORDER BY heard_at DESC, id DESC`, seenBy, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("catalog: heard history for %s: %w", seenBy, err)
	}
	defer rows.Close()

	var out []Heard
	for rows.Next() {
		var h Heard
		var heardAt int64
		if err := rows.Scan(&h.NodeID, &h.SeenBy, &heardAt, &h.SNR, &h.HopsAway, &h.Latitude, &h.Longitude); err != nil {
			return nil, fmt.Errorf("catalog: scan heard row: %w", err)
		}
		h.HeardAt = time.Unix(heardAt, 0).UTC()
		out = append(out, h)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
