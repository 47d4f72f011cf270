// Package store — PostgreSQL Store implementation on pgx.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/taskpilot/taskpilot/pkg/models"
)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to Postgres and runs migrations.
func NewPostgresStore(ctx context.Context, connURL string, maxConns int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Msg("PostgreSQL store initialized")
	return s, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS tp_tasks (
			id               TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL,
			title            TEXT NOT NULL,
			description      TEXT NOT NULL DEFAULT '',
			priority         INT NOT NULL DEFAULT 0,
			tags             TEXT[] NOT NULL DEFAULT '{}',
			quadrant         TEXT NOT NULL DEFAULT '',
			start_date       TIMESTAMPTZ,
			completed        BOOLEAN NOT NULL DEFAULT FALSE,
			unsorted         BOOLEAN NOT NULL DEFAULT TRUE,
			analyzed_at      TIMESTAMPTZ,
			external_id      TEXT NOT NULL DEFAULT '',
			last_modified_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			sync_version     BIGINT NOT NULL DEFAULT 0,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_tp_tasks_user ON tp_tasks (user_id);

		CREATE TABLE IF NOT EXISTS tp_threads (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			pending    JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS tp_thread_messages (
			id         TEXT PRIMARY KEY,
			thread_id  TEXT NOT NULL REFERENCES tp_threads(id),
			seq        BIGSERIAL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL DEFAULT '',
			events     JSONB NOT NULL DEFAULT '[]',
			payload    JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_tp_messages_thread ON tp_thread_messages (thread_id, seq);

		CREATE TABLE IF NOT EXISTS tp_suggestions (
			id               TEXT PRIMARY KEY,
			task_id          TEXT NOT NULL,
			seq              BIGSERIAL,
			type             TEXT NOT NULL,
			current_value    JSONB,
			suggested_value  JSONB NOT NULL,
			reason           TEXT NOT NULL DEFAULT '',
			confidence       DOUBLE PRECISION NOT NULL DEFAULT 0,
			status           TEXT NOT NULL DEFAULT 'PENDING',
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			resolved_at      TIMESTAMPTZ,
			resolved_by_user BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE INDEX IF NOT EXISTS idx_tp_suggestions_task ON tp_suggestions (task_id, status);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// ── Tasks ───────────────────────────────────────────────────

const taskColumns = `id, user_id, title, description, priority, tags, quadrant,
	start_date, completed, unsorted, analyzed_at, external_id,
	last_modified_at, sync_version, created_at, updated_at`

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	var quadrant string
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Priority,
		&t.Tags, &quadrant, &t.StartDate, &t.Completed, &t.Unsorted,
		&t.AnalyzedAt, &t.ExternalID, &t.LastModifiedAt, &t.SyncVersion,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Quadrant = models.Quadrant(quadrant)
	return &t, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, userID string, filter TaskFilter) ([]models.Task, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + taskColumns + ` FROM tp_tasks WHERE user_id = $1`
	args := []interface{}{userID}

	if filter.Completed != nil {
		args = append(args, *filter.Completed)
		query += fmt.Sprintf(" AND completed = $%d", len(args))
	}
	if filter.Quadrant != "" {
		args = append(args, string(filter.Quadrant))
		query += fmt.Sprintf(" AND quadrant = $%d", len(args))
	}
	if filter.Query != "" {
		args = append(args, "%"+filter.Query+"%")
		query += fmt.Sprintf(" AND (title ILIKE $%d OR description ILIKE $%d)", len(args), len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (s *PostgresStore) GetTask(ctx context.Context, userID, id string) (*models.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tp_tasks WHERE id = $1 AND user_id = $2`, id, userID)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "task", Key: id}
	}
	return t, err
}

func (s *PostgresStore) CreateTask(ctx context.Context, t *models.Task) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tp_tasks (id, user_id, title, description, priority, tags,
			quadrant, start_date, completed, unsorted, analyzed_at, external_id,
			last_modified_at, sync_version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		t.ID, t.UserID, t.Title, t.Description, t.Priority, t.Tags,
		string(t.Quadrant), t.StartDate, t.Completed, t.Unsorted, t.AnalyzedAt,
		t.ExternalID, t.LastModifiedAt, t.SyncVersion, t.CreatedAt, t.UpdatedAt)
	return err
}

func (s *PostgresStore) UpdateTask(ctx context.Context, t *models.Task) error {
	t.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE tp_tasks SET title=$2, description=$3, priority=$4, tags=$5,
			quadrant=$6, start_date=$7, completed=$8, unsorted=$9,
			analyzed_at=$10, external_id=$11, last_modified_at=$12,
			sync_version=$13, updated_at=$14
		WHERE id = $1`,
		t.ID, t.Title, t.Description, t.Priority, t.Tags, string(t.Quadrant),
		t.StartDate, t.Completed, t.Unsorted, t.AnalyzedAt, t.ExternalID,
		t.LastModifiedAt, t.SyncVersion, t.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "task", Key: t.ID}
	}
	return nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM tp_tasks WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "task", Key: id}
	}
	return nil
}

// ── Threads ─────────────────────────────────────────────────

func (s *PostgresStore) GetThread(ctx context.Context, id string) (*models.ConversationThread, error) {
	var th models.ConversationThread
	var pending []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, pending, created_at, updated_at FROM tp_threads WHERE id = $1`, id).
		Scan(&th.ID, &th.UserID, &pending, &th.CreatedAt, &th.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "thread", Key: id}
	}
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		var pa models.PendingAction
		if err := json.Unmarshal(pending, &pa); err != nil {
			return nil, fmt.Errorf("decode pending action: %w", err)
		}
		th.Pending = &pa
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, role, content, events, payload, created_at
		FROM tp_thread_messages WHERE thread_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var msg models.Message
		var role string
		var events, payload []byte
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &events, &payload, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.ThreadID = id
		msg.Role = models.Role(role)
		if len(events) > 0 {
			if err := json.Unmarshal(events, &msg.Events); err != nil {
				return nil, fmt.Errorf("decode events: %w", err)
			}
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &msg.Payload); err != nil {
				return nil, fmt.Errorf("decode payload: %w", err)
			}
		}
		th.Messages = append(th.Messages, msg)
	}
	return &th, rows.Err()
}

func (s *PostgresStore) CreateThread(ctx context.Context, th *models.ConversationThread) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tp_threads (id, user_id, created_at, updated_at) VALUES ($1,$2,$3,$4)`,
		th.ID, th.UserID, th.CreatedAt, th.UpdatedAt)
	return err
}

func (s *PostgresStore) AppendMessage(ctx context.Context, threadID string, msg models.Message) error {
	events, err := json.Marshal(msg.Events)
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}
	var payload []byte
	if msg.Payload != nil {
		if payload, err = json.Marshal(msg.Payload); err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO tp_thread_messages (id, thread_id, role, content, events, payload, created_at)
		SELECT $1, id, $3, $4, $5, $6, $7 FROM tp_threads WHERE id = $2`,
		msg.ID, threadID, string(msg.Role), msg.Content, events, payload, msg.CreatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "thread", Key: threadID}
	}
	_, err = s.pool.Exec(ctx, `UPDATE tp_threads SET updated_at = NOW() WHERE id = $1`, threadID)
	return err
}

func (s *PostgresStore) SetPendingAction(ctx context.Context, threadID string, action *models.PendingAction) error {
	var pending []byte
	if action != nil {
		var err error
		if pending, err = json.Marshal(action); err != nil {
			return fmt.Errorf("encode pending action: %w", err)
		}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tp_threads SET pending = $2, updated_at = NOW() WHERE id = $1`,
		threadID, pending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "thread", Key: threadID}
	}
	return nil
}

// ── Suggestions ─────────────────────────────────────────────

func (s *PostgresStore) ListPendingSuggestions(ctx context.Context, taskID string) ([]models.Suggestion, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, task_id, type, current_value, suggested_value, reason,
			confidence, status, created_at, resolved_at, resolved_by_user
		FROM tp_suggestions
		WHERE task_id = $1 AND status = 'PENDING'
		ORDER BY seq DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}
	defer rows.Close()

	var result []models.Suggestion
	for rows.Next() {
		var sg models.Suggestion
		var typ, status string
		if err := rows.Scan(&sg.ID, &sg.TaskID, &typ, &sg.CurrentValue,
			&sg.SuggestedValue, &sg.Reason, &sg.Confidence, &status,
			&sg.CreatedAt, &sg.ResolvedAt, &sg.ResolvedByUser); err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		sg.Type = models.SuggestionType(typ)
		sg.Status = models.SuggestionStatus(status)
		result = append(result, sg)
	}
	return result, rows.Err()
}

func (s *PostgresStore) ReplacePendingSuggestions(ctx context.Context, taskID string, suggestions []models.Suggestion) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM tp_suggestions WHERE task_id = $1 AND status = 'PENDING'`, taskID); err != nil {
		return fmt.Errorf("delete pending: %w", err)
	}
	for _, sg := range suggestions {
		if _, err := tx.Exec(ctx, `
			INSERT INTO tp_suggestions (id, task_id, type, current_value,
				suggested_value, reason, confidence, status, created_at,
				resolved_at, resolved_by_user)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			sg.ID, sg.TaskID, string(sg.Type), []byte(sg.CurrentValue),
			[]byte(sg.SuggestedValue), sg.Reason, sg.Confidence,
			string(sg.Status), sg.CreatedAt, sg.ResolvedAt, sg.ResolvedByUser); err != nil {
			return fmt.Errorf("insert suggestion: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) UpdateSuggestion(ctx context.Context, sg *models.Suggestion) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tp_suggestions SET status=$2, resolved_at=$3, resolved_by_user=$4
		WHERE id = $1`,
		sg.ID, string(sg.Status), sg.ResolvedAt, sg.ResolvedByUser)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "suggestion", Key: sg.ID}
	}
	return nil
}
