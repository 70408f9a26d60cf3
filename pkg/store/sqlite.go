package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/cartouche-dev/cartouche/pkg/session"
)

// SQLiteStore is the embedded single-file backend.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

// SQLiteDSNForFile builds a WAL-mode DSN for a local database file.
func SQLiteDSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("sqlite store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: open")
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			initial_request TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			created_at_ms INTEGER NOT NULL,
			current_state_json TEXT NOT NULL DEFAULT '{}'
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			session_id TEXT NOT NULL,
			turn_number INTEGER NOT NULL,
			prompt_used TEXT NOT NULL,
			artifacts_json TEXT NOT NULL DEFAULT '[]',
			selected_variant INTEGER NOT NULL DEFAULT 0,
			score REAL,
			feedback_json TEXT,
			created_at_ms INTEGER NOT NULL,
			PRIMARY KEY (session_id, turn_number),
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS sessions_by_created ON sessions(created_at_ms DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS turns_by_session ON turns(session_id, turn_number);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite store: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, id string, initialRequest string) (*session.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("sqlite store: id is empty")
	}

	now := time.Now().UTC()
	sess := &session.Session{
		ID:             id,
		InitialRequest: initialRequest,
		Status:         session.StatusActive,
		CreatedAt:      now,
		CurrentState:   session.State{Prompt: initialRequest, UpdatedAt: now},
	}
	rec, err := session.EncodeRecord(sess)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: begin tx")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, id).Scan(&exists)
	if err == nil {
		return nil, errors.Wrapf(session.ErrDuplicateSession, "sqlite store: %s", id)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(err, "sqlite store: check duplicate")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions(id, initial_request, status, created_at_ms, current_state_json)
		VALUES(?, ?, ?, ?, ?)
	`, id, initialRequest, rec.Status, now.UnixMilli(), string(rec.CurrentState)); err != nil {
		return nil, errors.Wrap(err, "sqlite store: insert session")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "sqlite store: commit")
	}
	committed = true
	return sess, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*session.Session, error) {
	id = strings.TrimSpace(id)

	var (
		rec         session.Record
		createdAtMs int64
		stateJSON   string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, initial_request, status, created_at_ms, current_state_json
		FROM sessions WHERE id = ?
	`, id).Scan(&rec.ID, &rec.InitialRequest, &rec.Status, &createdAtMs, &stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(session.ErrNotFound, "sqlite store: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: query session")
	}
	rec.CreatedAt = time.UnixMilli(createdAtMs).UTC()
	rec.CurrentState = []byte(stateJSON)

	rows, err := s.db.QueryContext(ctx, `
		SELECT turn_number, prompt_used, artifacts_json, selected_variant, score, feedback_json, created_at_ms
		FROM turns WHERE session_id = ? ORDER BY turn_number ASC
	`, id)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: query turns")
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			tr            session.TurnRecord
			artifactsJSON string
			score         sql.NullFloat64
			feedbackJSON  sql.NullString
			turnCreatedMs int64
		)
		if err := rows.Scan(&tr.TurnNumber, &tr.PromptUsed, &artifactsJSON,
			&tr.SelectedVariant, &score, &feedbackJSON, &turnCreatedMs); err != nil {
			return nil, errors.Wrap(err, "sqlite store: scan turn")
		}
		tr.Artifacts = []byte(artifactsJSON)
		if score.Valid {
			v := score.Float64
			tr.Score = &v
		}
		if feedbackJSON.Valid {
			tr.Feedback = []byte(feedbackJSON.String)
		}
		tr.CreatedAt = time.UnixMilli(turnCreatedMs).UTC()
		rec.Turns = append(rec.Turns, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite store: iterate turns")
	}

	return session.DecodeRecord(rec)
}

func (s *SQLiteStore) AppendTurn(ctx context.Context, id string, t session.Turn) error {
	id = strings.TrimSpace(id)
	if len(t.Artifacts) == 0 {
		return session.ErrTurnWithoutArtifacts
	}
	tr, err := session.EncodeTurn(t)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite store: begin tx")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrapf(session.ErrNotFound, "sqlite store: %s", id)
	}
	if err != nil {
		return errors.Wrap(err, "sqlite store: query status")
	}
	if session.Status(status) == session.StatusCompleted {
		return &session.InvalidTransitionError{
			From: session.StatusCompleted, To: session.StatusActive, Op: "append turn",
		}
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM turns WHERE session_id = ?`, id).Scan(&count); err != nil {
		return errors.Wrap(err, "sqlite store: count turns")
	}
	if want := count + 1; t.TurnNumber != want {
		return &session.OutOfOrderTurnError{SessionID: id, Want: want, Got: t.TurnNumber}
	}

	var feedbackJSON any
	if tr.Feedback != nil {
		feedbackJSON = string(tr.Feedback)
	}
	var score any
	if tr.Score != nil {
		score = *tr.Score
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO turns(session_id, turn_number, prompt_used, artifacts_json, selected_variant, score, feedback_json, created_at_ms)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
	`, id, tr.TurnNumber, tr.PromptUsed, string(tr.Artifacts), tr.SelectedVariant,
		score, feedbackJSON, tr.CreatedAt.UnixMilli()); err != nil {
		return errors.Wrap(err, "sqlite store: insert turn")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "sqlite store: commit turn")
	}
	committed = true
	return nil
}

func (s *SQLiteStore) UpdateState(ctx context.Context, id string, st session.State) error {
	stateJSON, err := encodeStateJSON(st)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET current_state_json = ? WHERE id = ?
	`, stateJSON, strings.TrimSpace(id))
	if err != nil {
		return errors.Wrap(err, "sqlite store: update state")
	}
	return requireOneRow(res, id)
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status session.Status) error {
	id = strings.TrimSpace(id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite store: begin tx")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrapf(session.ErrNotFound, "sqlite store: %s", id)
	}
	if err != nil {
		return errors.Wrap(err, "sqlite store: query status")
	}
	if err := checkStatusTransition(session.Status(current), status); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET status = ? WHERE id = ?`, string(status), id); err != nil {
		return errors.Wrap(err, "sqlite store: update status")
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "sqlite store: commit status")
	}
	committed = true
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, limit int, offset int) ([]session.Summary, int, error) {
	limit, offset = normalizeListWindow(limit, offset)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM sessions`).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "sqlite store: count sessions")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.initial_request, s.status, s.created_at_ms,
			COUNT(t.turn_number) AS turn_count,
			MAX(t.score) AS best_score
		FROM sessions s
		LEFT JOIN turns t ON t.session_id = s.id
		GROUP BY s.id, s.initial_request, s.status, s.created_at_ms
		ORDER BY s.created_at_ms DESC, s.id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, "sqlite store: list")
	}
	defer func() { _ = rows.Close() }()

	summaries := []session.Summary{}
	for rows.Next() {
		var (
			sum         session.Summary
			status      string
			createdAtMs int64
			bestScore   sql.NullFloat64
		)
		if err := rows.Scan(&sum.ID, &sum.InitialRequest, &status, &createdAtMs,
			&sum.TurnCount, &bestScore); err != nil {
			return nil, 0, errors.Wrap(err, "sqlite store: scan summary")
		}
		sum.Status = session.Status(status)
		if !session.ValidStatus(sum.Status) {
			sum.Status = session.StatusActive
		}
		sum.CreatedAt = time.UnixMilli(createdAtMs).UTC()
		if bestScore.Valid {
			v := bestScore.Float64
			sum.BestScore = &v
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "sqlite store: iterate summaries")
	}
	return summaries, total, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	id = strings.TrimSpace(id)
	// Cascade handles turns when foreign keys are on; delete explicitly so
	// plain DSNs behave the same.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, id); err != nil {
		return false, errors.Wrap(err, "sqlite store: delete turns")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, errors.Wrap(err, "sqlite store: delete session")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "sqlite store: rows affected")
	}
	return n > 0, nil
}

func requireOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "sqlite store: rows affected")
	}
	if n == 0 {
		return errors.Wrapf(session.ErrNotFound, "sqlite store: %s", id)
	}
	return nil
}
