package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/heartstream/internal/domain"
)

//go:embed migrations/*.up.sql
var migrationFS embed.FS

// Repository provides Postgres-backed persistence for samples and activities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository on an existing pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Open connects to connStr, applies migrations and returns a Repository that
// owns the pool.
func Open(ctx context.Context, connStr string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return NewRepository(pool), nil
}

// Migrate applies the embedded up migrations in name order.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	names, err := fs.Glob(migrationFS, "migrations/*.up.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		contents, err := migrationFS.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, string(contents)); err != nil {
			return fmt.Errorf("applying %s: %w", name, err)
		}
	}
	return nil
}

// Close releases the pool.
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

func (r *Repository) InsertSample(ctx context.Context, sample domain.Sample) error {
	rr := sample.RRIntervals
	if rr == nil {
		rr = []float64{}
	}
	const query = `INSERT INTO samples (device_id, device_type, heart_rate, rr_intervals, latitude, longitude, recorded_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := r.pool.Exec(ctx, query,
		sample.DeviceID,
		sample.DeviceType,
		sample.HeartRate,
		rr,
		sample.Latitude,
		sample.Longitude,
		sample.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting sample: %w", err)
	}
	return nil
}

func (r *Repository) QueryStats(ctx context.Context, since time.Time) (domain.Stats, error) {
	const query = `SELECT COUNT(*), COALESCE(AVG(heart_rate), 0)::float8, COALESCE(MIN(heart_rate), 0), COALESCE(MAX(heart_rate), 0)
        FROM samples WHERE heart_rate > 0 AND recorded_at >= $1`

	var stats domain.Stats
	if err := r.pool.QueryRow(ctx, query, since.UTC()).Scan(&stats.Count, &stats.Avg, &stats.Min, &stats.Max); err != nil {
		return domain.Stats{}, fmt.Errorf("querying stats: %w", err)
	}
	return stats, nil
}

func (r *Repository) QueryRecent(ctx context.Context, limit int) ([]domain.Sample, error) {
	if limit <= 0 {
		return []domain.Sample{}, nil
	}
	const query = `SELECT device_id, device_type, heart_rate, rr_intervals, latitude, longitude, recorded_at FROM (
            SELECT sample_id, device_id, device_type, heart_rate, rr_intervals, latitude, longitude, recorded_at
            FROM samples WHERE heart_rate > 0
            ORDER BY recorded_at DESC, sample_id DESC
            LIMIT $1
        ) recent ORDER BY recorded_at ASC, sample_id ASC`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent samples: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Sample, 0, limit)
	for rows.Next() {
		var s domain.Sample
		if err := rows.Scan(&s.DeviceID, &s.DeviceType, &s.HeartRate, &s.RRIntervals, &s.Latitude, &s.Longitude, &s.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning sample: %w", err)
		}
		if s.RRIntervals == nil {
			s.RRIntervals = []float64{}
		}
		s.Timestamp = s.Timestamp.UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) DeviceTypeCounts(ctx context.Context) ([]domain.DeviceTypeCount, error) {
	rows, err := r.pool.Query(ctx, `SELECT device_type, COUNT(*) FROM samples GROUP BY device_type ORDER BY device_type`)
	if err != nil {
		return nil, fmt.Errorf("querying device types: %w", err)
	}
	defer rows.Close()

	out := make([]domain.DeviceTypeCount, 0)
	for rows.Next() {
		var c domain.DeviceTypeCount
		if err := rows.Scan(&c.DeviceType, &c.Count); err != nil {
			return nil, fmt.Errorf("scanning device type: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repository) SaveActivity(ctx context.Context, act domain.Activity) error {
	const query = `INSERT INTO activities (activity_id, device_id, start_time, end_time, status, distance_km, avg_speed,
            avg_heart_rate, min_heart_rate, max_heart_rate, calories, duration_minutes)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        ON CONFLICT (activity_id) DO UPDATE SET
            device_id = EXCLUDED.device_id,
            start_time = EXCLUDED.start_time,
            end_time = EXCLUDED.end_time,
            status = EXCLUDED.status,
            distance_km = EXCLUDED.distance_km,
            avg_speed = EXCLUDED.avg_speed,
            avg_heart_rate = EXCLUDED.avg_heart_rate,
            min_heart_rate = EXCLUDED.min_heart_rate,
            max_heart_rate = EXCLUDED.max_heart_rate,
            calories = EXCLUDED.calories,
            duration_minutes = EXCLUDED.duration_minutes`

	var end *time.Time
	if act.EndTime != nil {
		ts := act.EndTime.UTC()
		end = &ts
	}
	_, err := r.pool.Exec(ctx, query,
		act.ID,
		act.DeviceID,
		act.StartTime.UTC(),
		end,
		string(act.Status),
		act.DistanceKM,
		act.AvgSpeed,
		act.AvgHeartRate,
		act.MinHeartRate,
		act.MaxHeartRate,
		act.Calories,
		act.DurationMinutes,
	)
	if err != nil {
		return fmt.Errorf("saving activity %s: %w", act.ID, err)
	}
	return nil
}

func (r *Repository) AppendWaypoint(ctx context.Context, wp domain.Waypoint) error {
	const query = `INSERT INTO waypoints (activity_id, seq, latitude, longitude, heart_rate, recorded_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (activity_id, seq) DO UPDATE SET
            latitude = EXCLUDED.latitude,
            longitude = EXCLUDED.longitude,
            heart_rate = EXCLUDED.heart_rate,
            recorded_at = EXCLUDED.recorded_at`

	_, err := r.pool.Exec(ctx, query,
		wp.ActivityID,
		wp.Sequence,
		wp.Latitude,
		wp.Longitude,
		wp.HeartRate,
		wp.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("appending waypoint to %s: %w", wp.ActivityID, err)
	}
	return nil
}

const activityColumns = `activity_id, device_id, start_time, end_time, status, distance_km, avg_speed,
        avg_heart_rate, min_heart_rate, max_heart_rate, calories, duration_minutes`

func scanActivity(row pgx.Row) (domain.Activity, error) {
	var (
		act    domain.Activity
		status string
	)
	if err := row.Scan(&act.ID, &act.DeviceID, &act.StartTime, &act.EndTime, &status, &act.DistanceKM, &act.AvgSpeed,
		&act.AvgHeartRate, &act.MinHeartRate, &act.MaxHeartRate, &act.Calories, &act.DurationMinutes); err != nil {
		return domain.Activity{}, err
	}
	act.Status = domain.ActivityStatus(status)
	act.StartTime = act.StartTime.UTC()
	if act.EndTime != nil {
		end := act.EndTime.UTC()
		act.EndTime = &end
	}
	return act, nil
}

func (r *Repository) GetActivity(ctx context.Context, id string) (*domain.Activity, []domain.Waypoint, error) {
	act, err := scanActivity(r.pool.QueryRow(ctx, `SELECT `+activityColumns+` FROM activities WHERE activity_id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, fmt.Errorf("activity %s: %w", id, domain.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("loading activity %s: %w", id, err)
	}

	rows, err := r.pool.Query(ctx, `SELECT seq, latitude, longitude, heart_rate, recorded_at
        FROM waypoints WHERE activity_id=$1 ORDER BY seq`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("loading waypoints for %s: %w", id, err)
	}
	defer rows.Close()

	waypoints := make([]domain.Waypoint, 0)
	for rows.Next() {
		wp := domain.Waypoint{ActivityID: id}
		if err := rows.Scan(&wp.Sequence, &wp.Latitude, &wp.Longitude, &wp.HeartRate, &wp.Timestamp); err != nil {
			return nil, nil, fmt.Errorf("scanning waypoint: %w", err)
		}
		wp.Timestamp = wp.Timestamp.UTC()
		waypoints = append(waypoints, wp)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return &act, waypoints, nil
}

func (r *Repository) ListActivities(ctx context.Context, deviceID string) ([]domain.Activity, error) {
	query := `SELECT ` + activityColumns + ` FROM activities
        WHERE ($1 = '' OR device_id = $1)
        ORDER BY start_time DESC, activity_id DESC`

	rows, err := r.pool.Query(ctx, query, deviceID)
	if err != nil {
		return nil, fmt.Errorf("listing activities: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Activity, 0)
	for rows.Next() {
		act, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		out = append(out, act)
	}
	return out, rows.Err()
}

func (r *Repository) DeleteActivity(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM activities WHERE activity_id=$1`, id)
	if err != nil {
		return fmt.Errorf("deleting activity %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("activity %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
