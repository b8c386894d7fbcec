package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrEventNotFound is returned when an event id does not exist.
var ErrEventNotFound = errors.New("attendance event not found")

// Repository persists attendance events in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const eventColumns = `id, identity_id, occurred_at, method, confidence, status, location, image_url, created_at`

// InsertEvent writes a new event. Inserts across distinct identities are
// independent; no cross-identity coordination happens here.
func (r *Repository) InsertEvent(ctx context.Context, evt Event) (Event, error) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.When.IsZero() {
		evt.When = time.Now().UTC()
	}
	if evt.Status == "" {
		evt.Status = StatusPresent
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_events (id, identity_id, occurred_at, method, confidence, status, location, image_url)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at
	`, evt.ID, evt.IdentityID, evt.When, evt.Method, evt.Confidence, evt.Status, evt.Location, evt.ImageURL)
	if err := row.Scan(&evt.CreatedAt); err != nil {
		return Event{}, err
	}
	return evt, nil
}

// GetEvent returns a single event by id.
func (r *Repository) GetEvent(ctx context.Context, id string) (Event, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM attendance_events WHERE id = $1
	`, id)
	var evt Event
	err := row.Scan(&evt.ID, &evt.IdentityID, &evt.When, &evt.Method, &evt.Confidence,
		&evt.Status, &evt.Location, &evt.ImageURL, &evt.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, ErrEventNotFound
	}
	if err != nil {
		return Event{}, err
	}
	return evt, nil
}

// ListByIdentity returns an identity's events, newest first, with optional
// time-range filters.
func (r *Repository) ListByIdentity(ctx context.Context, identityID int64, from, to time.Time, limit, offset int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + eventColumns + ` FROM attendance_events WHERE identity_id = $1`
	args := []any{identityID}
	if !from.IsZero() {
		args = append(args, from)
		query += fmt.Sprintf(" AND occurred_at >= $%d", len(args))
	}
	if !to.IsZero() {
		args = append(args, to)
		query += fmt.Sprintf(" AND occurred_at <= $%d", len(args))
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY occurred_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Event
	for rows.Next() {
		var evt Event
		if err := rows.Scan(&evt.ID, &evt.IdentityID, &evt.When, &evt.Method, &evt.Confidence,
			&evt.Status, &evt.Location, &evt.ImageURL, &evt.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, evt)
	}
	return res, rows.Err()
}
