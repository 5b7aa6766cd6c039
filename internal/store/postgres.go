package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/marinoscar/Knecta-sub001/internal/osi"
)

// PostgresStore implements RunStore and ModelStore on Postgres through the
// pgx stdlib driver. The pending→executing claim is a single conditional
// UPDATE so concurrent claimers cannot both win.
type PostgresStore struct {
	db *sql.DB

	schemaOnce sync.Once
	schemaErr  error
}

func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS semantic_model_runs (
    id                TEXT PRIMARY KEY,
    connection_id     TEXT NOT NULL,
    user_id           TEXT NOT NULL,
    database_name     TEXT NOT NULL,
    selected_schemas  JSONB NOT NULL DEFAULT '[]',
    selected_tables   JSONB NOT NULL DEFAULT '[]',
    model_name        TEXT NOT NULL DEFAULT '',
    instructions      TEXT NOT NULL DEFAULT '',
    status            TEXT NOT NULL DEFAULT 'pending',
    progress          JSONB,
    semantic_model_id TEXT,
    error_message     TEXT NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
    completed_at      TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS semantic_models (
    id                 TEXT PRIMARY KEY,
    connection_id      TEXT NOT NULL,
    user_id            TEXT NOT NULL,
    name               TEXT NOT NULL,
    description        TEXT NOT NULL DEFAULT '',
    table_count        INTEGER NOT NULL DEFAULT 0,
    field_count        INTEGER NOT NULL DEFAULT 0,
    relationship_count INTEGER NOT NULL DEFAULT 0,
    metric_count       INTEGER NOT NULL DEFAULT 0,
    document           JSONB NOT NULL,
    status             TEXT NOT NULL DEFAULT 'ready',
    created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);`)
	})
	return s.schemaErr
}

func (s *PostgresStore) Create(ctx context.Context, run *Run) error {
	if run == nil || strings.TrimSpace(run.ID) == "" {
		return fmt.Errorf("store: run id is required")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	status := run.Status
	if status == "" {
		status = StatusPending
	}
	schemas, _ := json.Marshal(run.SelectedSchemas)
	tables, _ := json.Marshal(run.SelectedTables)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO semantic_model_runs
    (id, connection_id, user_id, database_name, selected_schemas, selected_tables, model_name, instructions, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.ConnectionID, run.UserID, run.DatabaseName,
		schemas, tables, run.ModelName, run.Instructions, string(status))
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Run, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
SELECT id, connection_id, user_id, database_name, selected_schemas, selected_tables,
       model_name, instructions, status, progress, COALESCE(semantic_model_id, ''),
       error_message, created_at, updated_at, completed_at
FROM semantic_model_runs WHERE id = $1`, id)

	var run Run
	var schemas, tables []byte
	var progress sql.NullString
	var completed sql.NullTime
	var status string
	err := row.Scan(&run.ID, &run.ConnectionID, &run.UserID, &run.DatabaseName,
		&schemas, &tables, &run.ModelName, &run.Instructions, &status, &progress,
		&run.SemanticModelID, &run.ErrorMessage, &run.CreatedAt, &run.UpdatedAt, &completed)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	_ = json.Unmarshal(schemas, &run.SelectedSchemas)
	_ = json.Unmarshal(tables, &run.SelectedTables)
	if progress.Valid {
		var p Progress
		if json.Unmarshal([]byte(progress.String), &p) == nil {
			run.Progress = &p
		}
	}
	if completed.Valid {
		run.CompletedAt = &completed.Time
	}
	return &run, nil
}

func (s *PostgresStore) Claim(ctx context.Context, id string) (bool, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE semantic_model_runs SET status = $1, updated_at = now()
WHERE id = $2 AND status = $3`,
		string(StatusExecuting), id, string(StatusPending))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	// Distinguish "not claimable" from "missing".
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) UpdateProgress(ctx context.Context, id string, p Progress) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.execOnRun(ctx, `
UPDATE semantic_model_runs SET progress = $1, updated_at = now() WHERE id = $2`, raw, id)
}

func (s *PostgresStore) Cancel(ctx context.Context, id string) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE semantic_model_runs SET status = $1, updated_at = now()
WHERE id = $2 AND status IN ($3, $4, $5)`,
		string(StatusCancelled), id,
		string(StatusPending), string(StatusPlanning), string(StatusExecuting))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrNotCancellable
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id, message string) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	return s.execOnRun(ctx, `
UPDATE semantic_model_runs SET status = 'failed', error_message = $1, updated_at = now()
WHERE id = $2`, message, id)
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, id, modelID string) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	return s.execOnRun(ctx, `
UPDATE semantic_model_runs
SET status = 'completed', semantic_model_id = $1, completed_at = now(), updated_at = now()
WHERE id = $2`, modelID, id)
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
DELETE FROM semantic_model_runs WHERE id = $1 AND status IN ('failed', 'cancelled')`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrNotTerminal
}

func (s *PostgresStore) execOnRun(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --------------------------- ModelStore ---------------------------

// PostgresModelStore shares the connection pool of a PostgresStore.
type PostgresModelStore struct {
	runs *PostgresStore
}

func NewPostgresModelStore(runs *PostgresStore) *PostgresModelStore {
	return &PostgresModelStore{runs: runs}
}

func (s *PostgresModelStore) Create(ctx context.Context, m *SemanticModel) error {
	if m == nil || strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("store: model id is required")
	}
	if err := s.runs.ensureSchema(ctx); err != nil {
		return err
	}
	doc, err := json.Marshal(m.Document)
	if err != nil {
		return fmt.Errorf("store: encode document: %w", err)
	}
	status := m.Status
	if status == "" {
		status = "ready"
	}
	_, err = s.runs.db.ExecContext(ctx, `
INSERT INTO semantic_models
    (id, connection_id, user_id, name, description,
     table_count, field_count, relationship_count, metric_count, document, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.ID, m.ConnectionID, m.UserID, m.Name, m.Description,
		m.Stats.TableCount, m.Stats.FieldCount, m.Stats.RelationshipCount, m.Stats.MetricCount,
		doc, status)
	return err
}

func (s *PostgresModelStore) Get(ctx context.Context, id string) (*SemanticModel, error) {
	if err := s.runs.ensureSchema(ctx); err != nil {
		return nil, err
	}
	row := s.runs.db.QueryRowContext(ctx, `
SELECT id, connection_id, user_id, name, description,
       table_count, field_count, relationship_count, metric_count, document, status,
       created_at, updated_at
FROM semantic_models WHERE id = $1`, id)

	var m SemanticModel
	var doc []byte
	err := row.Scan(&m.ID, &m.ConnectionID, &m.UserID, &m.Name, &m.Description,
		&m.Stats.TableCount, &m.Stats.FieldCount, &m.Stats.RelationshipCount, &m.Stats.MetricCount,
		&doc, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(doc, &m.Document); err != nil {
		return nil, fmt.Errorf("store: decode document for model %s: %w", id, err)
	}
	return &m, nil
}

func (s *PostgresModelStore) UpdateDocument(ctx context.Context, id string, doc osi.Document) (osi.Report, error) {
	clone, report, err := revalidate(doc)
	if err != nil {
		return report, err
	}
	if err := s.runs.ensureSchema(ctx); err != nil {
		return report, err
	}
	raw, err := json.Marshal(clone)
	if err != nil {
		return report, err
	}
	stats := osi.ComputeModelStats(clone)
	res, err := s.runs.db.ExecContext(ctx, `
UPDATE semantic_models
SET document = $1, table_count = $2, field_count = $3, relationship_count = $4,
    metric_count = $5, updated_at = now()
WHERE id = $6`,
		raw, stats.TableCount, stats.FieldCount, stats.RelationshipCount, stats.MetricCount, id)
	if err != nil {
		return report, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return report, ErrNotFound
	}
	return report, nil
}

func (s *PostgresModelStore) Delete(ctx context.Context, id string) error {
	if err := s.runs.ensureSchema(ctx); err != nil {
		return err
	}
	return s.runs.execOnRun(ctx, `DELETE FROM semantic_models WHERE id = $1`, id)
}
