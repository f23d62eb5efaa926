package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/me/cyflow/internal/broadcast"

	_ "modernc.org/sqlite"
)

// ErrNoCheckpoint is returned by LoadLatest when the database holds no
// checkpoints, e.g. on a cold start.
var ErrNoCheckpoint = errors.New("no checkpoint")

// keepCheckpoints is how many checkpoints SaveCheckpoint retains; older
// ones are pruned in the same transaction.
const keepCheckpoints = 10

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// WAL for concurrent reads; busy_timeout handles most lock contention,
	// retryExec covers the rest.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// SaveCheckpoint writes a full snapshot in one transaction and prunes
// checkpoints beyond the retention count. A missing cp.ID is filled in.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.Time.IsZero() {
		cp.Time = time.Now().UTC()
	}
	s.logger.Debug("sql", "op", "checkpoint", "id", cp.ID, "event", cp.Event, "tasks", len(cp.Tasks))

	return retryExec(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO checkpoints (id, created_at, event) VALUES (?, ?, ?)`,
			cp.ID, cp.Time.Format(time.RFC3339Nano), cp.Event,
		); err != nil {
			return fmt.Errorf("insert checkpoint: %w", err)
		}

		for _, row := range cp.Tasks {
			outputs, err := json.Marshal(row.Outputs)
			if err != nil {
				return fmt.Errorf("marshal outputs: %w", err)
			}
			prereqs, err := json.Marshal(row.Prereqs)
			if err != nil {
				return fmt.Errorf("marshal prereqs: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO task_pool (checkpoint_id, cycle, name, state, held, submit_num, try_num, outputs, prereqs)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				cp.ID, row.Cycle, row.Name, row.State, boolInt(row.Held),
				row.SubmitNum, row.TryNum, string(outputs), string(prereqs),
			); err != nil {
				return fmt.Errorf("insert task %s.%s: %w", row.Name, row.Cycle, err)
			}
		}

		for i, b := range cp.Broadcasts {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO broadcasts (checkpoint_id, point_pattern, name_pattern, key, value, seq)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				cp.ID, b.PointPattern, b.NamePattern, b.Key, b.Value, i,
			); err != nil {
				return fmt.Errorf("insert broadcast: %w", err)
			}
		}

		for _, k := range cp.Xtriggers {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO xtriggers (checkpoint_id, key) VALUES (?, ?)`, cp.ID, k,
			); err != nil {
				return fmt.Errorf("insert xtrigger: %w", err)
			}
		}

		for k, v := range cp.Params {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO workflow_params (checkpoint_id, key, value) VALUES (?, ?, ?)`,
				cp.ID, k, v,
			); err != nil {
				return fmt.Errorf("insert param %s: %w", k, err)
			}
		}

		if err := pruneOld(ctx, tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func pruneOld(ctx context.Context, tx *sql.Tx) error {
	const keep = `SELECT id FROM checkpoints ORDER BY created_at DESC, id LIMIT ?`
	for _, table := range []string{"task_pool", "broadcasts", "xtriggers", "workflow_params"} {
		q := fmt.Sprintf(`DELETE FROM %s WHERE checkpoint_id NOT IN (%s)`, table, keep)
		if _, err := tx.ExecContext(ctx, q, keepCheckpoints); err != nil {
			return fmt.Errorf("prune %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE id NOT IN (`+keep+`)`, keepCheckpoints,
	); err != nil {
		return fmt.Errorf("prune checkpoints: %w", err)
	}
	return nil
}

// LoadLatest returns the most recent checkpoint, or ErrNoCheckpoint.
func (s *SQLiteStore) LoadLatest(ctx context.Context) (*Checkpoint, error) {
	cp := &Checkpoint{Params: make(map[string]string)}

	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, event FROM checkpoints ORDER BY created_at DESC, id LIMIT 1`,
	).Scan(&cp.ID, &created, &cp.Event)
	if err == sql.ErrNoRows {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	cp.Time, err = time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, fmt.Errorf("parse checkpoint time: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT cycle, name, state, held, submit_num, try_num, outputs, prereqs
		 FROM task_pool WHERE checkpoint_id = ? ORDER BY cycle, name`, cp.ID)
	if err != nil {
		return nil, fmt.Errorf("load task pool: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			row              TaskRow
			held             int
			outputs, prereqs string
		)
		if err := rows.Scan(&row.Cycle, &row.Name, &row.State, &held,
			&row.SubmitNum, &row.TryNum, &outputs, &prereqs); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		row.Held = held != 0
		if err := json.Unmarshal([]byte(outputs), &row.Outputs); err != nil {
			return nil, fmt.Errorf("unmarshal outputs: %w", err)
		}
		if err := json.Unmarshal([]byte(prereqs), &row.Prereqs); err != nil {
			return nil, fmt.Errorf("unmarshal prereqs: %w", err)
		}
		cp.Tasks = append(cp.Tasks, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	brows, err := s.db.QueryContext(ctx,
		`SELECT point_pattern, name_pattern, key, value
		 FROM broadcasts WHERE checkpoint_id = ? ORDER BY seq`, cp.ID)
	if err != nil {
		return nil, fmt.Errorf("load broadcasts: %w", err)
	}
	defer brows.Close()
	for brows.Next() {
		var b broadcast.Item
		if err := brows.Scan(&b.PointPattern, &b.NamePattern, &b.Key, &b.Value); err != nil {
			return nil, fmt.Errorf("scan broadcast: %w", err)
		}
		cp.Broadcasts = append(cp.Broadcasts, b)
	}
	if err := brows.Err(); err != nil {
		return nil, err
	}

	xrows, err := s.db.QueryContext(ctx,
		`SELECT key FROM xtriggers WHERE checkpoint_id = ? ORDER BY key`, cp.ID)
	if err != nil {
		return nil, fmt.Errorf("load xtriggers: %w", err)
	}
	defer xrows.Close()
	for xrows.Next() {
		var k string
		if err := xrows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan xtrigger: %w", err)
		}
		cp.Xtriggers = append(cp.Xtriggers, k)
	}
	if err := xrows.Err(); err != nil {
		return nil, err
	}

	prows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM workflow_params WHERE checkpoint_id = ?`, cp.ID)
	if err != nil {
		return nil, fmt.Errorf("load params: %w", err)
	}
	defer prows.Close()
	for prows.Next() {
		var k, v string
		if err := prows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan param: %w", err)
		}
		cp.Params[k] = v
	}
	return cp, prows.Err()
}

// ListCheckpoints returns stored checkpoints, newest first.
func (s *SQLiteStore) ListCheckpoints(ctx context.Context) ([]CheckpointInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.created_at, c.event,
		        (SELECT COUNT(*) FROM task_pool t WHERE t.checkpoint_id = c.id)
		 FROM checkpoints c ORDER BY c.created_at DESC, c.id`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []CheckpointInfo
	for rows.Next() {
		var (
			info    CheckpointInfo
			created string
		)
		if err := rows.Scan(&info.ID, &created, &info.Event, &info.Tasks); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		if info.Time, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parse checkpoint time: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
