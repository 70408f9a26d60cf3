package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/cartouche-dev/cartouche/pkg/session"
)

// PostgresStore is the networked relational backend. It holds the same
// logical schema as the sqlite backend and serializes turn appends with a
// row lock on the session, so two orchestrator processes racing on the same
// session cannot interleave commits. Unrelated sessions share nothing but
// the connection pool.
type PostgresStore struct {
	db *sqlx.DB
}

var _ Store = &PostgresStore{}

type pgSessionRow struct {
	ID             string    `db:"id"`
	InitialRequest string    `db:"initial_request"`
	Status         string    `db:"status"`
	CreatedAt      time.Time `db:"created_at"`
	CurrentState   []byte    `db:"current_state_json"`
}

type pgTurnRow struct {
	TurnNumber      int             `db:"turn_number"`
	PromptUsed      string          `db:"prompt_used"`
	Artifacts       []byte          `db:"artifacts_json"`
	SelectedVariant int             `db:"selected_variant"`
	Score           sql.NullFloat64 `db:"score"`
	Feedback        []byte          `db:"feedback_json"`
	CreatedAt       time.Time       `db:"created_at"`
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres store: empty dsn")
	}
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "postgres store: connect")
	}
	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			initial_request TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			created_at TIMESTAMPTZ NOT NULL,
			current_state_json TEXT NOT NULL DEFAULT '{}'
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			turn_number INTEGER NOT NULL,
			prompt_used TEXT NOT NULL,
			artifacts_json TEXT NOT NULL DEFAULT '[]',
			selected_variant INTEGER NOT NULL DEFAULT 0,
			score DOUBLE PRECISION,
			feedback_json TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (session_id, turn_number)
		);`,
		`CREATE INDEX IF NOT EXISTS sessions_by_created ON sessions(created_at DESC, id DESC);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "postgres store: migrate")
		}
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, id string, initialRequest string) (*session.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("postgres store: id is empty")
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

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions(id, initial_request, status, created_at, current_state_json)
		VALUES($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, id, initialRequest, rec.Status, now, string(rec.CurrentState))
	if err != nil {
		return nil, errors.Wrap(err, "postgres store: insert session")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "postgres store: rows affected")
	}
	if n == 0 {
		return nil, errors.Wrapf(session.ErrDuplicateSession, "postgres store: %s", id)
	}
	return sess, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*session.Session, error) {
	id = strings.TrimSpace(id)

	var row pgSessionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, initial_request, status, created_at, current_state_json
		FROM sessions WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(session.ErrNotFound, "postgres store: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "postgres store: query session")
	}

	var turnRows []pgTurnRow
	if err := s.db.SelectContext(ctx, &turnRows, `
		SELECT turn_number, prompt_used, artifacts_json, selected_variant, score, feedback_json, created_at
		FROM turns WHERE session_id = $1 ORDER BY turn_number ASC
	`, id); err != nil {
		return nil, errors.Wrap(err, "postgres store: query turns")
	}

	rec := session.Record{
		ID:             row.ID,
		InitialRequest: row.InitialRequest,
		Status:         row.Status,
		CreatedAt:      row.CreatedAt.UTC(),
		CurrentState:   row.CurrentState,
	}
	for _, tr := range turnRows {
		t := session.TurnRecord{
			TurnNumber:      tr.TurnNumber,
			PromptUsed:      tr.PromptUsed,
			Artifacts:       tr.Artifacts,
			SelectedVariant: tr.SelectedVariant,
			Feedback:        tr.Feedback,
			CreatedAt:       tr.CreatedAt.UTC(),
		}
		if tr.Score.Valid {
			v := tr.Score.Float64
			t.Score = &v
		}
		rec.Turns = append(rec.Turns, t)
	}

	return session.DecodeRecord(rec)
}

func (s *PostgresStore) AppendTurn(ctx context.Context, id string, t session.Turn) error {
	id = strings.TrimSpace(id)
	if len(t.Artifacts) == 0 {
		return session.ErrTurnWithoutArtifacts
	}
	tr, err := session.EncodeTurn(t)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "postgres store: begin tx")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	// Row lock serializes concurrent appenders on the same session without
	// blocking writes to unrelated sessions.
	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrapf(session.ErrNotFound, "postgres store: %s", id)
	}
	if err != nil {
		return errors.Wrap(err, "postgres store: lock session")
	}
	if session.Status(status) == session.StatusCompleted {
		return &session.InvalidTransitionError{
			From: session.StatusCompleted, To: session.StatusActive, Op: "append turn",
		}
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM turns WHERE session_id = $1`, id).Scan(&count); err != nil {
		return errors.Wrap(err, "postgres store: count turns")
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
		INSERT INTO turns(session_id, turn_number, prompt_used, artifacts_json, selected_variant, score, feedback_json, created_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8)
	`, id, tr.TurnNumber, tr.PromptUsed, string(tr.Artifacts), tr.SelectedVariant,
		score, feedbackJSON, tr.CreatedAt); err != nil {
		return errors.Wrap(err, "postgres store: insert turn")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "postgres store: commit turn")
	}
	committed = true
	return nil
}

func (s *PostgresStore) UpdateState(ctx context.Context, id string, st session.State) error {
	stateJSON, err := encodeStateJSON(st)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET current_state_json = $1 WHERE id = $2
	`, stateJSON, strings.TrimSpace(id))
	if err != nil {
		return errors.Wrap(err, "postgres store: update state")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "postgres store: rows affected")
	}
	if n == 0 {
		return errors.Wrapf(session.ErrNotFound, "postgres store: %s", id)
	}
	return nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status session.Status) error {
	id = strings.TrimSpace(id)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "postgres store: begin tx")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrapf(session.ErrNotFound, "postgres store: %s", id)
	}
	if err != nil {
		return errors.Wrap(err, "postgres store: lock session")
	}
	if err := checkStatusTransition(session.Status(current), status); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET status = $1 WHERE id = $2`, string(status), id); err != nil {
		return errors.Wrap(err, "postgres store: update status")
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "postgres store: commit status")
	}
	committed = true
	return nil
}

func (s *PostgresStore) List(ctx context.Context, limit int, offset int) ([]session.Summary, int, error) {
	limit, offset = normalizeListWindow(limit, offset)

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(1) FROM sessions`); err != nil {
		return nil, 0, errors.Wrap(err, "postgres store: count sessions")
	}

	type summaryRow struct {
		ID             string          `db:"id"`
		InitialRequest string          `db:"initial_request"`
		Status         string          `db:"status"`
		CreatedAt      time.Time       `db:"created_at"`
		TurnCount      int             `db:"turn_count"`
		BestScore      sql.NullFloat64 `db:"best_score"`
	}
	var rows []summaryRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT s.id, s.initial_request, s.status, s.created_at,
			COUNT(t.turn_number) AS turn_count,
			MAX(t.score) AS best_score
		FROM sessions s
		LEFT JOIN turns t ON t.session_id = s.id
		GROUP BY s.id, s.initial_request, s.status, s.created_at
		ORDER BY s.created_at DESC, s.id DESC
		LIMIT $1 OFFSET $2
	`, limit, offset); err != nil {
		return nil, 0, errors.Wrap(err, "postgres store: list")
	}

	summaries := make([]session.Summary, 0, len(rows))
	for _, r := range rows {
		sum := session.Summary{
			ID:             r.ID,
			InitialRequest: r.InitialRequest,
			Status:         session.Status(r.Status),
			CreatedAt:      r.CreatedAt.UTC(),
			TurnCount:      r.TurnCount,
		}
		if !session.ValidStatus(sum.Status) {
			sum.Status = session.StatusActive
		}
		if r.BestScore.Valid {
			v := r.BestScore.Float64
			sum.BestScore = &v
		}
		summaries = append(summaries, sum)
	}
	return summaries, total, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, strings.TrimSpace(id))
	if err != nil {
		return false, errors.Wrap(err, "postgres store: delete session")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "postgres store: rows affected")
	}
	return n > 0, nil
}
