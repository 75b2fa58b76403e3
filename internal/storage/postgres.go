package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-hailing/internal/models"
)

// PostgresStore persists ride requests in a ride_requests table. CAS updates
// rely on a conditional UPDATE, so the precondition check is atomic on the
// database side. Subscriptions are process-local; cross-node delivery goes
// through the event stream and the Redis bridge.
type PostgresStore struct {
	db   *sql.DB
	subs *subscribers
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db, subs: newSubscribers()}, nil
}

// Ping reports backend reachability for readiness probes.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

const upsertQuery = `
	INSERT INTO ride_requests
		(rider_id, pickup_lat, pickup_lng, destination, status, rider_email, requested_at,
		 driver_id, driver_name, driver_vehicle, accepted_at, completed_at, cancelled_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	ON CONFLICT (rider_id) DO UPDATE SET
		pickup_lat=EXCLUDED.pickup_lat, pickup_lng=EXCLUDED.pickup_lng,
		destination=EXCLUDED.destination, status=EXCLUDED.status,
		rider_email=EXCLUDED.rider_email, requested_at=EXCLUDED.requested_at,
		driver_id=EXCLUDED.driver_id, driver_name=EXCLUDED.driver_name,
		driver_vehicle=EXCLUDED.driver_vehicle, accepted_at=EXCLUDED.accepted_at,
		completed_at=EXCLUDED.completed_at, cancelled_at=EXCLUDED.cancelled_at`

func upsertArgs(req *models.RideRequest) []any {
	return []any{
		req.RiderID, req.PickupLatitude, req.PickupLongitude, req.Destination,
		string(req.Status), nullString(req.RiderEmail), req.Timestamp,
		nullString(req.DriverID), nullString(req.DriverName), nullString(req.DriverVehicle),
		nullTime(req.AcceptedAt), nullTime(req.CompletedAt), nullTime(req.CancelledAt),
	}
}

func (p *PostgresStore) Put(ctx context.Context, req *models.RideRequest) error {
	_, err := p.db.ExecContext(ctx, upsertQuery, upsertArgs(req)...)
	if err != nil {
		return fmt.Errorf("put ride request: %w", err)
	}
	p.subs.notify(req.RiderID, req.Clone())
	return nil
}

func (p *PostgresStore) PutUnlessStatus(ctx context.Context, req *models.RideRequest, blocked models.Status) error {
	// The DO UPDATE predicate makes the guard atomic on the database side:
	// when the existing row carries the blocked status the upsert touches
	// nothing and RowsAffected is zero.
	args := append(upsertArgs(req), string(blocked))
	res, err := p.db.ExecContext(ctx, upsertQuery+` WHERE ride_requests.status <> $14`, args...)
	if err != nil {
		return fmt.Errorf("put ride request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("put ride request: %w", err)
	}
	if n == 0 {
		return models.ErrConflict
	}
	p.subs.notify(req.RiderID, req.Clone())
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, riderID string) (*models.RideRequest, error) {
	row := p.db.QueryRowContext(ctx, selectColumns+` FROM ride_requests WHERE rider_id=$1`, riderID)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ride request: %w", err)
	}
	return r, nil
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status models.Status) ([]*models.RideRequest, error) {
	rows, err := p.db.QueryContext(ctx, selectColumns+` FROM ride_requests WHERE status=$1`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list ride requests: %w", err)
	}
	defer rows.Close()
	out := make([]*models.RideRequest, 0)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("list ride requests: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list ride requests: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) Update(ctx context.Context, riderID string, ch Change) (*models.RideRequest, error) {
	set, args := buildSet(ch)
	if len(set) == 0 {
		return p.Get(ctx, riderID)
	}
	args = append(args, riderID)
	query := fmt.Sprintf(`UPDATE ride_requests SET %s WHERE rider_id=$%d`,
		strings.Join(set, ", "), len(args))
	if ch.ExpectStatus != nil {
		args = append(args, string(*ch.ExpectStatus))
		query += fmt.Sprintf(` AND status=$%d`, len(args))
	}
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update ride request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update ride request: %w", err)
	}
	if n == 0 {
		// Nothing matched: either the record is missing or the CAS
		// precondition failed.
		if _, err := p.Get(ctx, riderID); err != nil {
			return nil, err
		}
		return nil, models.ErrConflict
	}
	r, err := p.Get(ctx, riderID)
	if err != nil {
		return nil, err
	}
	p.subs.notify(riderID, r.Clone())
	return r, nil
}

func (p *PostgresStore) Subscribe(riderID string, fn func(*models.RideRequest)) func() {
	sub, cancel := p.subs.add(riderID, fn)
	cur, err := p.Get(context.Background(), riderID)
	if err != nil {
		cur = nil
	}
	sub.offer(cur)
	return cancel
}

const selectColumns = `SELECT rider_id, pickup_lat, pickup_lng, destination, status, rider_email,
	requested_at, driver_id, driver_name, driver_vehicle, accepted_at, completed_at, cancelled_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.RideRequest, error) {
	var (
		r                              models.RideRequest
		status                         string
		email, drvID, drvName, drvVeh  sql.NullString
		accepted, completed, cancelled sql.NullTime
	)
	err := row.Scan(&r.RiderID, &r.PickupLatitude, &r.PickupLongitude, &r.Destination,
		&status, &email, &r.Timestamp, &drvID, &drvName, &drvVeh,
		&accepted, &completed, &cancelled)
	if err != nil {
		return nil, err
	}
	r.Status = models.Status(status)
	if !r.Status.Valid() {
		return nil, fmt.Errorf("rider %s: invalid status %q", r.RiderID, status)
	}
	r.RiderEmail = email.String
	r.DriverID = drvID.String
	r.DriverName = drvName.String
	r.DriverVehicle = drvVeh.String
	if accepted.Valid {
		t := accepted.Time
		r.AcceptedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		r.CompletedAt = &t
	}
	if cancelled.Valid {
		t := cancelled.Time
		r.CancelledAt = &t
	}
	return &r, nil
}

func buildSet(ch Change) ([]string, []any) {
	var (
		set  []string
		args []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if ch.Status != nil {
		add("status", string(*ch.Status))
	}
	if ch.DriverID != nil {
		add("driver_id", *ch.DriverID)
	}
	if ch.DriverName != nil {
		add("driver_name", *ch.DriverName)
	}
	if ch.DriverVehicle != nil {
		add("driver_vehicle", *ch.DriverVehicle)
	}
	if ch.AcceptedAt != nil {
		add("accepted_at", *ch.AcceptedAt)
	}
	if ch.CompletedAt != nil {
		add("completed_at", *ch.CompletedAt)
	}
	if ch.CancelledAt != nil {
		add("cancelled_at", *ch.CancelledAt)
	}
	return set, args
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
