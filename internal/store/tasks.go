package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/flamerun/flame/internal/flerr"
	"github.com/flamerun/flame/internal/store/dialect"
	"github.com/flamerun/flame/pkg/flameapi"
)

type taskRow struct {
	SsnID          string       `db:"ssn_id"`
	ID             int64        `db:"id"`
	Input          []byte       `db:"input"`
	InputSet       bool         `db:"input_set"`
	Output         []byte       `db:"output"`
	OutputSet      bool         `db:"output_set"`
	CreationTime   time.Time    `db:"creation_time"`
	CompletionTime sql.NullTime `db:"completion_time"`
	State          string       `db:"state"`
}

func (r taskRow) toDomain() *flameapi.Task {
	t := &flameapi.Task{
		ID: r.ID, SessionID: r.SsnID, State: flameapi.TaskState(r.State), CreationTime: r.CreationTime,
		InputSet: r.InputSet, OutputSet: r.OutputSet,
	}
	if r.InputSet {
		t.Input = r.Input
		if t.Input == nil {
			t.Input = []byte{}
		}
	}
	if r.OutputSet {
		t.Output = r.Output
		if t.Output == nil {
			t.Output = []byte{}
		}
	}
	if r.CompletionTime.Valid {
		t.CompletionTime = &r.CompletionTime.Time
	}
	return t
}

const selectTaskColumns = `ssn_id, id, input, input_set, output, output_set, creation_time, completion_time, state`

// legalTransitions enumerates the Task state machine of §3: Pending ->
// Running -> {Succeed, Failed}, plus Pending -> Failed on session close
// (listed here too, though CloseSession applies it with its own UPDATE
// rather than through this map).
var legalTransitions = map[flameapi.TaskState]map[flameapi.TaskState]bool{
	flameapi.TaskPending: {flameapi.TaskRunning: true, flameapi.TaskFailed: true},
	flameapi.TaskRunning: {flameapi.TaskSucceed: true, flameapi.TaskFailed: true},
}

func (s *Store) CreateTask(ctx context.Context, sessionID string, input []byte, inputSet bool) (*flameapi.Task, error) {
	tx, err := s.pool.Writer().BeginTxx(ctx, nil)
	if err != nil {
		return nil, flerr.Storagef(err, "begin create_task for session %q", sessionID)
	}
	defer func() { _ = tx.Rollback() }()

	var state string
	err = tx.GetContext(ctx, &state, s.rebind(`SELECT state FROM sessions WHERE id = ?`+dialectForUpdate(s.driver)), sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, flerr.NotFoundf("session %q not found", sessionID)
	}
	if err != nil {
		return nil, flerr.Storagef(err, "check session %q", sessionID)
	}
	if state != string(flameapi.SessionOpen) {
		return nil, flerr.New(flerr.InvalidState, "session %q is not open", sessionID)
	}

	var nextID int64
	err = tx.GetContext(ctx, &nextID, s.rebind(`SELECT next_id FROM session_seq WHERE session_id = ?`+dialectForUpdate(s.driver)), sessionID)
	if err != nil {
		return nil, flerr.Storagef(err, "read session_seq %q", sessionID)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE session_seq SET next_id = next_id + 1 WHERE session_id = ?`), sessionID); err != nil {
		return nil, flerr.Storagef(err, "advance session_seq %q", sessionID)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO tasks (ssn_id, id, input, input_set, output_set, creation_time, state)
		VALUES (?, ?, ?, ?, 0, ?, ?)
	`), sessionID, nextID, input, inputSet, now, string(flameapi.TaskPending))
	if err != nil {
		return nil, flerr.Storagef(err, "insert task %d for session %q", nextID, sessionID)
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE sessions SET pending = pending + 1 WHERE id = ?`), sessionID); err != nil {
		return nil, flerr.Storagef(err, "increment pending counter for session %q", sessionID)
	}

	if err := tx.Commit(); err != nil {
		return nil, flerr.Storagef(err, "commit create_task for session %q", sessionID)
	}

	task := &flameapi.Task{ID: nextID, SessionID: sessionID, State: flameapi.TaskPending, CreationTime: now, InputSet: inputSet}
	if inputSet {
		task.Input = input
		if task.Input == nil {
			task.Input = []byte{}
		}
	}
	return task, nil
}

func (s *Store) GetTask(ctx context.Context, sessionID string, id int64) (*flameapi.Task, error) {
	var row taskRow
	err := s.pool.Reader().GetContext(ctx, &row, s.rebind(`SELECT `+selectTaskColumns+` FROM tasks WHERE ssn_id = ? AND id = ?`), sessionID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, flerr.NotFoundf("task %d not found in session %q", id, sessionID)
	}
	if err != nil {
		return nil, flerr.Storagef(err, "get task %d in session %q", id, sessionID)
	}
	return row.toDomain(), nil
}

func (s *Store) ListTasks(ctx context.Context, sessionID string, filter flameapi.TaskFilter) ([]*flameapi.Task, error) {
	var rows []taskRow
	err := s.pool.Reader().SelectContext(ctx, &rows, s.rebind(`SELECT `+selectTaskColumns+` FROM tasks WHERE ssn_id = ? ORDER BY id ASC`), sessionID)
	if err != nil {
		return nil, flerr.Storagef(err, "list tasks for session %q", sessionID)
	}
	tasks := make([]*flameapi.Task, 0, len(rows))
	for _, row := range rows {
		t := row.toDomain()
		if filter.Match(t) {
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// UpdateTaskState applies a legal transition and reconciles the owning
// session's counters in the same transaction (§4.A contract, §8
// invariant). Replaying the same terminal transition with the same output
// is a no-op that returns success (§8 idempotence law).
func (s *Store) UpdateTaskState(ctx context.Context, sessionID string, id int64, newState flameapi.TaskState, output []byte, outputSet bool) (*flameapi.Task, error) {
	tx, err := s.pool.Writer().BeginTxx(ctx, nil)
	if err != nil {
		return nil, flerr.Storagef(err, "begin update_task_state %d/%q", id, sessionID)
	}
	defer func() { _ = tx.Rollback() }()

	var row taskRow
	err = tx.GetContext(ctx, &row, s.rebind(`SELECT `+selectTaskColumns+` FROM tasks WHERE ssn_id = ? AND id = ?`+dialectForUpdate(s.driver)), sessionID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, flerr.NotFoundf("task %d not found in session %q", id, sessionID)
	}
	if err != nil {
		return nil, flerr.Storagef(err, "read task %d/%q", id, sessionID)
	}

	current := flameapi.TaskState(row.State)
	if current == newState {
		// Idempotent replay of an already-applied terminal transition.
		return row.toDomain(), nil
	}
	if !legalTransitions[current][newState] {
		return nil, flerr.New(flerr.InvalidState, "task %d/%q: illegal transition %s -> %s", id, sessionID, current, newState)
	}

	now := time.Now().UTC()
	terminal := newState == flameapi.TaskSucceed || newState == flameapi.TaskFailed
	if terminal {
		_, err = tx.ExecContext(ctx, s.rebind(`UPDATE tasks SET state = ?, output = ?, output_set = ?, completion_time = ? WHERE ssn_id = ? AND id = ?`),
			string(newState), output, outputSet, now, sessionID, id)
	} else {
		_, err = tx.ExecContext(ctx, s.rebind(`UPDATE tasks SET state = ? WHERE ssn_id = ? AND id = ?`), string(newState), sessionID, id)
	}
	if err != nil {
		return nil, flerr.Storagef(err, "update task %d/%q", id, sessionID)
	}

	if err := s.adjustSessionCounter(ctx, tx, sessionID, current, -1); err != nil {
		return nil, err
	}
	if err := s.adjustSessionCounter(ctx, tx, sessionID, newState, 1); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, flerr.Storagef(err, "commit update_task_state %d/%q", id, sessionID)
	}

	row.State = string(newState)
	if terminal {
		row.OutputSet = outputSet
		row.Output = output
		row.CompletionTime = sql.NullTime{Time: now, Valid: true}
	}
	return row.toDomain(), nil
}

func (s *Store) adjustSessionCounter(ctx context.Context, tx sqlxExecer, sessionID string, state flameapi.TaskState, delta int) error {
	column, ok := counterColumn(state)
	if !ok {
		return nil
	}
	_, err := tx.ExecContext(ctx, s.rebind(`UPDATE sessions SET `+column+` = `+column+` + ? WHERE id = ?`), delta, sessionID)
	if err != nil {
		return flerr.Storagef(err, "adjust %s counter for session %q", column, sessionID)
	}
	return nil
}

func counterColumn(state flameapi.TaskState) (string, bool) {
	switch state {
	case flameapi.TaskPending:
		return "pending", true
	case flameapi.TaskRunning:
		return "running", true
	case flameapi.TaskSucceed:
		return "succeed", true
	case flameapi.TaskFailed:
		return "failed", true
	default:
		return "", false
	}
}

// LaunchTask performs the at-most-once conditional Pending -> Running
// transition of §4.F/§9: it is equivalent to
// "UPDATE ... WHERE state = Pending RETURNING *" executed inside one
// transaction, so no external lock is required and no two executors can
// ever observe the same task in Running.
func (s *Store) LaunchTask(ctx context.Context, sessionID string) (*flameapi.Task, error) {
	tx, err := s.pool.Writer().BeginTxx(ctx, nil)
	if err != nil {
		return nil, flerr.Storagef(err, "begin launch_task for session %q", sessionID)
	}
	defer func() { _ = tx.Rollback() }()

	var row taskRow
	err = tx.GetContext(ctx, &row, s.rebind(`
		SELECT `+selectTaskColumns+` FROM tasks WHERE ssn_id = ? AND state = ? ORDER BY id ASC LIMIT 1`+dialectForUpdate(s.driver)),
		sessionID, string(flameapi.TaskPending))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, flerr.Storagef(err, "find pending task for session %q", sessionID)
	}

	result, err := tx.ExecContext(ctx, s.rebind(`UPDATE tasks SET state = ? WHERE ssn_id = ? AND id = ? AND state = ?`),
		string(flameapi.TaskRunning), sessionID, row.ID, string(flameapi.TaskPending))
	if err != nil {
		return nil, flerr.Storagef(err, "transition task %d/%q to Running", row.ID, sessionID)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Lost the race to another launch_task call; caller retries.
		return nil, nil
	}

	if err := s.adjustSessionCounter(ctx, tx, sessionID, flameapi.TaskPending, -1); err != nil {
		return nil, err
	}
	if err := s.adjustSessionCounter(ctx, tx, sessionID, flameapi.TaskRunning, 1); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, flerr.Storagef(err, "commit launch_task for session %q", sessionID)
	}

	row.State = string(flameapi.TaskRunning)
	return row.toDomain(), nil
}

type sqlxExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func dialectForUpdate(driver string) string {
	return dialect.ForUpdate(driver)
}
