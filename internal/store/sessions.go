package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/flamerun/flame/internal/flerr"
	"github.com/flamerun/flame/pkg/flameapi"
)

type sessionRow struct {
	ID             string         `db:"id"`
	Application    string         `db:"application"`
	Slots          int            `db:"slots"`
	CommonData     []byte         `db:"common_data"`
	CreationTime   time.Time      `db:"creation_time"`
	CompletionTime sql.NullTime   `db:"completion_time"`
	State          string         `db:"state"`
	MinInstances   int            `db:"min_instances"`
	MaxInstances   sql.NullInt64  `db:"max_instances"`
	Pending        int            `db:"pending"`
	Running        int            `db:"running"`
	Succeed        int            `db:"succeed"`
	Failed         int            `db:"failed"`
}

func (r sessionRow) toDomain() *flameapi.Session {
	s := &flameapi.Session{
		ID:           r.ID,
		Application:  r.Application,
		Slots:        r.Slots,
		CommonData:   r.CommonData,
		MinInstances: r.MinInstances,
		Counters: flameapi.SessionCounters{
			Pending: r.Pending, Running: r.Running, Succeed: r.Succeed, Failed: r.Failed,
		},
		State:        flameapi.SessionState(r.State),
		CreationTime: r.CreationTime,
	}
	if r.MaxInstances.Valid {
		v := int(r.MaxInstances.Int64)
		s.MaxInstances = &v
	}
	if r.CompletionTime.Valid {
		s.CompletionTime = &r.CompletionTime.Time
	}
	return s
}

const selectSessionColumns = `id, application, slots, common_data, creation_time, completion_time, state, min_instances, max_instances, pending, running, succeed, failed`

func (s *Store) getSessionRow(ctx context.Context, ext sqlxGetter, id string, forUpdate string) (*sessionRow, error) {
	var row sessionRow
	err := ext.GetContext(ctx, &row, s.rebind(`SELECT `+selectSessionColumns+` FROM sessions WHERE id = ?`+forUpdate), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, flerr.Storagef(err, "get session %q", id)
	}
	return &row, nil
}

// OpenSession implements the §4.A get-or-create contract inside a single
// transaction: absent+spec inserts Open; present+spec validates identity
// fields (common_data excluded); present+no-spec is a plain get; absent+no
// spec is NotFound.
func (s *Store) OpenSession(ctx context.Context, id string, spec *flameapi.SessionSpec) (*flameapi.Session, error) {
	tx, err := s.pool.Writer().BeginTxx(ctx, nil)
	if err != nil {
		return nil, flerr.Storagef(err, "begin open_session %q", id)
	}
	defer func() { _ = tx.Rollback() }()

	row, err := s.getSessionRow(ctx, tx, id, "")
	if err != nil {
		return nil, err
	}

	if row != nil {
		existing := row.toDomain()
		if spec == nil {
			return existing, nil
		}
		if existing.State == flameapi.SessionClosed {
			return nil, flerr.New(flerr.InvalidState, "session %q is closed", id)
		}
		if !existing.Matches(*spec) {
			return nil, flerr.InvalidArgumentf("open_session %q: spec mismatch on application/slots/min_instances/max_instances", id)
		}
		return existing, nil
	}

	if spec == nil {
		return nil, flerr.NotFoundf("session %q not found", id)
	}

	var appState string
	err = tx.GetContext(ctx, &appState, s.rebind(`SELECT state FROM applications WHERE name = ?`), spec.Application)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, flerr.InvalidArgumentf("application %q not registered", spec.Application)
	}
	if err != nil {
		return nil, flerr.Storagef(err, "check application %q", spec.Application)
	}
	if appState != string(flameapi.ApplicationEnabled) {
		return nil, flerr.InvalidArgumentf("application %q is disabled", spec.Application)
	}

	now := time.Now().UTC()
	var maxInstances sql.NullInt64
	if spec.MaxInstances != nil {
		maxInstances = sql.NullInt64{Int64: int64(*spec.MaxInstances), Valid: true}
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO sessions (id, application, slots, common_data, creation_time, state, min_instances, max_instances, pending, running, succeed, failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0, 0)
	`), id, spec.Application, spec.Slots, spec.CommonData, now, string(flameapi.SessionOpen), spec.MinInstances, maxInstances)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, flerr.InvalidArgumentf("session %q already exists", id)
		}
		return nil, flerr.Storagef(err, "insert session %q", id)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO session_seq (session_id, next_id) VALUES (?, 1)`), id)
	if err != nil {
		return nil, flerr.Storagef(err, "init session_seq %q", id)
	}

	if err := tx.Commit(); err != nil {
		return nil, flerr.Storagef(err, "commit open_session %q", id)
	}

	created := &flameapi.Session{
		ID: id, Application: spec.Application, Slots: spec.Slots, CommonData: spec.CommonData,
		MinInstances: spec.MinInstances, MaxInstances: spec.MaxInstances,
		State: flameapi.SessionOpen, CreationTime: now,
	}
	return created, nil
}

// CloseSession sets state Closed and stamps completion time. Idempotent:
// closing an already-closed session returns the session unchanged.
func (s *Store) CloseSession(ctx context.Context, id string) (*flameapi.Session, error) {
	tx, err := s.pool.Writer().BeginTxx(ctx, nil)
	if err != nil {
		return nil, flerr.Storagef(err, "begin close_session %q", id)
	}
	defer func() { _ = tx.Rollback() }()

	row, err := s.getSessionRow(ctx, tx, id, "")
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, flerr.NotFoundf("session %q not found", id)
	}
	existing := row.toDomain()
	if existing.State == flameapi.SessionClosed {
		return existing, nil
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, s.rebind(`UPDATE sessions SET state = ?, completion_time = ? WHERE id = ?`), string(flameapi.SessionClosed), now, id)
	if err != nil {
		return nil, flerr.Storagef(err, "close session %q", id)
	}

	// Pending -> Failed is permitted on session close (§3 invariant);
	// counters move in the same transaction.
	result, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE tasks SET state = ?, completion_time = ? WHERE ssn_id = ? AND state = ?
	`), string(flameapi.TaskFailed), now, id, string(flameapi.TaskPending))
	if err != nil {
		return nil, flerr.Storagef(err, "fail pending tasks for session %q", id)
	}
	failedCount, _ := result.RowsAffected()

	_, err = tx.ExecContext(ctx, s.rebind(`UPDATE sessions SET pending = 0, failed = failed + ? WHERE id = ?`), failedCount, id)
	if err != nil {
		return nil, flerr.Storagef(err, "reconcile counters for session %q", id)
	}

	if err := tx.Commit(); err != nil {
		return nil, flerr.Storagef(err, "commit close_session %q", id)
	}

	existing.State = flameapi.SessionClosed
	existing.CompletionTime = &now
	existing.Counters.Failed += int(failedCount)
	existing.Counters.Pending = 0
	return existing, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*flameapi.Session, error) {
	row, err := s.getSessionRow(ctx, s.pool.Reader(), id, "")
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, flerr.NotFoundf("session %q not found", id)
	}
	return row.toDomain(), nil
}

func (s *Store) ListSessions(ctx context.Context, filter flameapi.SessionFilter) ([]*flameapi.Session, error) {
	query := `SELECT ` + selectSessionColumns + ` FROM sessions`
	var args []any
	var conds []string
	if filter.Application != "" {
		conds = append(conds, "application = ?")
		args = append(args, filter.Application)
	}
	if len(filter.States) == 1 {
		conds = append(conds, "state = ?")
		args = append(args, string(filter.States[0]))
	}
	if len(conds) > 0 {
		query += " WHERE " + conds[0]
		for _, c := range conds[1:] {
			query += " AND " + c
		}
	}
	query += " ORDER BY creation_time ASC"

	var rows []sessionRow
	if err := s.pool.Reader().SelectContext(ctx, &rows, s.rebind(query), args...); err != nil {
		return nil, flerr.Storagef(err, "list sessions")
	}

	sessions := make([]*flameapi.Session, 0, len(rows))
	for _, row := range rows {
		sess := row.toDomain()
		if filter.Match(sess) {
			sessions = append(sessions, sess)
		}
	}
	return sessions, nil
}

// sqlxGetter is satisfied by both *sqlx.DB and *sqlx.Tx, letting helpers
// that read-then-write share code across the connection and the
// transaction paths.
type sqlxGetter interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}
