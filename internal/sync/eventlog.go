package syncx

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/mind-engage/mindengage-quiz/internal/db"
)

const (
	TypeSessionCompleted = "session.completed"
	TypeSessionDiscarded = "session.discarded"
)

type Event struct {
	Seq       int64           `json:"seq"`
	SiteID    string          `json:"site_id"`
	Type      string          `json:"type"`
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	CreatedAt int64           `json:"created_at"`
}

type EventRepo struct {
	db     *sql.DB
	siteID string
}

func NewEventRepo(db *sql.DB, siteID string) *EventRepo {
	if siteID == "" {
		siteID = "local"
	}
	return &EventRepo{db: db, siteID: siteID}
}

// Append writes one event through q so callers can log inside their own
// transaction. data is stored as JSON.
func (r *EventRepo) Append(ctx context.Context, q db.Querier, typ, key string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO event_log (site_id, typ, key, data, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		r.siteID, typ, key, string(raw), time.Now().Unix())
	return err
}

// Since returns events with seq greater than after, oldest first.
func (r *EventRepo) Since(ctx context.Context, after int64, limit int) ([]Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, site_id, typ, key, data, created_at FROM event_log
		 WHERE seq > $1 ORDER BY seq LIMIT $2`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Event{}
	for rows.Next() {
		var e Event
		var data string
		if err := rows.Scan(&e.Seq, &e.SiteID, &e.Type, &e.Key, &data, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Data = json.RawMessage(data)
		out = append(out, e)
	}
	return out, rows.Err()
}
