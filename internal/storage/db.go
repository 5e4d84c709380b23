package storage

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"receipts/internal"
)

// DB is the optional run journal: one row per fetch run and one per message outcome.
type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  mode TEXT NOT NULL,
  filter TEXT,
  startedAt TEXT NOT NULL,
  finishedAt TEXT,
  countsJson TEXT
);

CREATE TABLE IF NOT EXISTS outcomes (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  runId TEXT NOT NULL,
  server TEXT NOT NULL,
  handler TEXT,
  messageId TEXT,
  subject TEXT,
  status TEXT NOT NULL,
  file TEXT,
  detail TEXT,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(runId) REFERENCES runs(id)
);
CREATE INDEX IF NOT EXISTS idx_outcomes_run ON outcomes(runId);
CREATE INDEX IF NOT EXISTS idx_outcomes_message ON outcomes(messageId);
`

	_, err := d.conn.Exec(schema)
	return err
}

func (d *DB) StartRun(mode internal.Mode, filter string) (string, error) {
	id := uuid.NewString()
	_, err := d.conn.Exec(`INSERT INTO runs (id, mode, filter, startedAt) VALUES (?, ?, ?, ?)`,
		id, string(mode), filter, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", err
	}
	return id, nil
}

func (d *DB) RecordOutcome(runID string, o internal.Outcome) error {
	_, err := d.conn.Exec(`
INSERT INTO outcomes (runId, server, handler, messageId, subject, status, file, detail)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, runID, o.Server, o.Handler, o.MessageID, o.Subject, o.Status, o.File, o.Detail)
	return err
}

func (d *DB) FinishRun(runID string, counts map[string]int) error {
	countsJSON, _ := json.Marshal(counts)
	_, err := d.conn.Exec(`UPDATE runs SET finishedAt = ?, countsJson = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), string(countsJSON), runID)
	return err
}

func (d *DB) ListOutcomes(runID string) ([]internal.Outcome, error) {
	rows, err := d.conn.Query(`
SELECT server, handler, messageId, subject, status, file, detail
FROM outcomes WHERE runId = ? ORDER BY id ASC
`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.Outcome
	for rows.Next() {
		var o internal.Outcome
		var handler, messageID, subject, file, detail sql.NullString
		if err := rows.Scan(&o.Server, &handler, &messageID, &subject, &o.Status, &file, &detail); err != nil {
			return nil, err
		}
		o.Handler = handler.String
		o.MessageID = messageID.String
		o.Subject = subject.String
		o.File = file.String
		o.Detail = detail.String
		out = append(out, o)
	}
	return out, rows.Err()
}

// RunCounts returns the stored per-status counts of a finished run.
func (d *DB) RunCounts(runID string) (map[string]int, error) {
	var countsJSON sql.NullString
	if err := d.conn.QueryRow(`SELECT countsJson FROM runs WHERE id = ?`, runID).Scan(&countsJSON); err != nil {
		return nil, err
	}
	counts := map[string]int{}
	if countsJSON.Valid {
		if err := json.Unmarshal([]byte(countsJSON.String), &counts); err != nil {
			return nil, err
		}
	}
	return counts, nil
}
