package store

import (
	"context"
	"time"

	"github.com/flamerun/flame/internal/flerr"
	"github.com/flamerun/flame/pkg/flameapi"
)

func (s *Store) RecordEvent(ctx context.Context, owner, parent, code, message string) error {
	_, err := s.pool.Writer().ExecContext(ctx, s.rebind(`
		INSERT INTO events (owner, parent, code, message, creation_time) VALUES (?, ?, ?, ?, ?)
	`), owner, parent, code, message, time.Now().UTC())
	if err != nil {
		return flerr.Storagef(err, "record event %s for %s", code, owner)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, owner string, limit int) ([]*flameapi.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	type row struct {
		Owner        string    `db:"owner"`
		Parent       string    `db:"parent"`
		Code         string    `db:"code"`
		Message      string    `db:"message"`
		CreationTime time.Time `db:"creation_time"`
	}
	var rows []row
	err := s.pool.Reader().SelectContext(ctx, &rows, s.rebind(`
		SELECT owner, parent, code, message, creation_time FROM events WHERE owner = ? ORDER BY creation_time DESC LIMIT ?
	`), owner, limit)
	if err != nil {
		return nil, flerr.Storagef(err, "list events for %s", owner)
	}
	events := make([]*flameapi.Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, &flameapi.Event{Owner: r.Owner, Parent: r.Parent, Code: r.Code, Message: r.Message, CreationTime: r.CreationTime})
	}
	return events, nil
}
