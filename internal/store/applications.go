package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/flamerun/flame/internal/flerr"
	"github.com/flamerun/flame/pkg/flameapi"
)

type applicationRow struct {
	Name             string         `db:"name"`
	Shim             string         `db:"shim"`
	Image            sql.NullString `db:"image"`
	URL              sql.NullString `db:"url"`
	Command          sql.NullString `db:"command"`
	Arguments        sql.NullString `db:"arguments"`
	Environments     sql.NullString `db:"environments"`
	WorkingDirectory sql.NullString `db:"working_directory"`
	Description      sql.NullString `db:"description"`
	Labels           sql.NullString `db:"labels"`
	Schema           sql.NullString `db:"schema"`
	MaxInstances     int            `db:"max_instances"`
	DelayReleaseMs   int64          `db:"delay_release_ms"`
	CreationTime     time.Time      `db:"creation_time"`
	State            string         `db:"state"`
}

func (r applicationRow) toDomain() (*flameapi.Application, error) {
	app := &flameapi.Application{
		Name: r.Name,
		Spec: flameapi.ApplicationSpec{
			Shim:             flameapi.ShimKind(r.Shim),
			Image:            r.Image.String,
			URL:              r.URL.String,
			Command:          r.Command.String,
			WorkingDirectory: r.WorkingDirectory.String,
			Description:      r.Description.String,
			Schema:           r.Schema.String,
			MaxInstances:     r.MaxInstances,
			DelayReleaseMs:   r.DelayReleaseMs,
		},
		State:        flameapi.ApplicationState(r.State),
		CreationTime: r.CreationTime,
	}
	if r.Arguments.Valid && r.Arguments.String != "" {
		if err := json.Unmarshal([]byte(r.Arguments.String), &app.Spec.Arguments); err != nil {
			return nil, flerr.Internalf(err, "decode application arguments")
		}
	}
	if r.Environments.Valid && r.Environments.String != "" {
		if err := json.Unmarshal([]byte(r.Environments.String), &app.Spec.Environments); err != nil {
			return nil, flerr.Internalf(err, "decode application environments")
		}
	}
	if r.Labels.Valid && r.Labels.String != "" {
		if err := json.Unmarshal([]byte(r.Labels.String), &app.Spec.Labels); err != nil {
			return nil, flerr.Internalf(err, "decode application labels")
		}
	}
	return app, nil
}

func (s *Store) RegisterApplication(ctx context.Context, name string, spec flameapi.ApplicationSpec) (*flameapi.Application, error) {
	if name == "" {
		return nil, flerr.InvalidArgumentf("application name must not be empty")
	}
	argsJSON, _ := json.Marshal(spec.Arguments)
	envJSON, _ := json.Marshal(spec.Environments)
	labelsJSON, _ := json.Marshal(spec.Labels)
	now := time.Now().UTC()

	_, err := s.pool.Writer().ExecContext(ctx, s.rebind(`
		INSERT INTO applications (name, shim, image, url, command, arguments, environments, working_directory, description, labels, schema, max_instances, delay_release_ms, creation_time, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), name, string(spec.Shim), spec.Image, spec.URL, spec.Command, string(argsJSON), string(envJSON),
		spec.WorkingDirectory, spec.Description, string(labelsJSON), spec.Schema, spec.MaxInstances,
		spec.DelayReleaseMs, now, string(flameapi.ApplicationEnabled))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, flerr.InvalidArgumentf("application %q already registered", name)
		}
		return nil, flerr.Storagef(err, "register application %q", name)
	}

	return &flameapi.Application{Name: name, Spec: spec, State: flameapi.ApplicationEnabled, CreationTime: now}, nil
}

func (s *Store) UnregisterApplication(ctx context.Context, name string) error {
	tx, err := s.pool.Writer().BeginTxx(ctx, nil)
	if err != nil {
		return flerr.Storagef(err, "begin unregister application %q", name)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.GetContext(ctx, &count, s.rebind(`SELECT COUNT(1) FROM sessions WHERE application = ? AND state = ?`), name, string(flameapi.SessionOpen)); err != nil {
		return flerr.Storagef(err, "check live sessions for application %q", name)
	}
	if count > 0 {
		return flerr.New(flerr.InvalidState, "application %q has %d open session(s)", name, count)
	}

	result, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM applications WHERE name = ?`), name)
	if err != nil {
		return flerr.Storagef(err, "unregister application %q", name)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return flerr.NotFoundf("application %q not found", name)
	}
	if err := tx.Commit(); err != nil {
		return flerr.Storagef(err, "commit unregister application %q", name)
	}
	return nil
}

func (s *Store) UpdateApplication(ctx context.Context, name string, spec flameapi.ApplicationSpec) (*flameapi.Application, error) {
	existing, err := s.GetApplication(ctx, name)
	if err != nil {
		return nil, err
	}

	argsJSON, _ := json.Marshal(spec.Arguments)
	envJSON, _ := json.Marshal(spec.Environments)
	labelsJSON, _ := json.Marshal(spec.Labels)

	result, err := s.pool.Writer().ExecContext(ctx, s.rebind(`
		UPDATE applications SET shim = ?, image = ?, url = ?, command = ?, arguments = ?, environments = ?,
			working_directory = ?, description = ?, labels = ?, schema = ?, max_instances = ?, delay_release_ms = ?
		WHERE name = ?
	`), string(spec.Shim), spec.Image, spec.URL, spec.Command, string(argsJSON), string(envJSON),
		spec.WorkingDirectory, spec.Description, string(labelsJSON), spec.Schema, spec.MaxInstances,
		spec.DelayReleaseMs, name)
	if err != nil {
		return nil, flerr.Storagef(err, "update application %q", name)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, flerr.NotFoundf("application %q not found", name)
	}

	existing.Spec = spec
	return existing, nil
}

func (s *Store) SetApplicationState(ctx context.Context, name string, state flameapi.ApplicationState) error {
	result, err := s.pool.Writer().ExecContext(ctx, s.rebind(`UPDATE applications SET state = ? WHERE name = ?`), string(state), name)
	if err != nil {
		return flerr.Storagef(err, "set application %q state", name)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return flerr.NotFoundf("application %q not found", name)
	}
	return nil
}

func (s *Store) GetApplication(ctx context.Context, name string) (*flameapi.Application, error) {
	var row applicationRow
	err := s.pool.Reader().GetContext(ctx, &row, s.rebind(`
		SELECT name, shim, image, url, command, arguments, environments, working_directory, description, labels, schema, max_instances, delay_release_ms, creation_time, state
		FROM applications WHERE name = ?
	`), name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, flerr.NotFoundf("application %q not found", name)
	}
	if err != nil {
		return nil, flerr.Storagef(err, "get application %q", name)
	}
	return row.toDomain()
}

func (s *Store) ListApplications(ctx context.Context) ([]*flameapi.Application, error) {
	var rows []applicationRow
	err := s.pool.Reader().SelectContext(ctx, &rows, `
		SELECT name, shim, image, url, command, arguments, environments, working_directory, description, labels, schema, max_instances, delay_release_ms, creation_time, state
		FROM applications ORDER BY creation_time ASC
	`)
	if err != nil {
		return nil, flerr.Storagef(err, "list applications")
	}
	apps := make([]*flameapi.Application, 0, len(rows))
	for _, row := range rows {
		app, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, nil
}
