// Package sqlite implements Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"example.com/heartstream/internal/domain"
)

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store persists samples and activities in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens the database at path, creating it and its directory if needed, and
// applies migrations.
func Open(path string) (*Store, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: in-memory databases are per connection, and SQLite
	// serialises writers anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(ts time.Time) string {
	return ts.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	ts, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", raw, err)
	}
	return ts.UTC(), nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func (s *Store) InsertSample(ctx context.Context, sample domain.Sample) error {
	rr := sample.RRIntervals
	if rr == nil {
		rr = []float64{}
	}
	rrJSON, err := json.Marshal(rr)
	if err != nil {
		return fmt.Errorf("encoding rr intervals: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO samples (device_id, device_type, heart_rate, rr_intervals, latitude, longitude, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sample.DeviceID,
		sample.DeviceType,
		sample.HeartRate,
		string(rrJSON),
		nullFloat(sample.Latitude),
		nullFloat(sample.Longitude),
		formatTime(sample.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("inserting sample: %w", err)
	}
	return nil
}

func (s *Store) QueryStats(ctx context.Context, since time.Time) (domain.Stats, error) {
	var (
		count    int
		avg      sql.NullFloat64
		min, max sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), AVG(heart_rate), MIN(heart_rate), MAX(heart_rate)
		FROM samples
		WHERE heart_rate > 0 AND recorded_at >= ?`,
		formatTime(since),
	).Scan(&count, &avg, &min, &max)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("querying stats: %w", err)
	}
	return domain.Stats{
		Avg:   avg.Float64,
		Min:   int(min.Int64),
		Max:   int(max.Int64),
		Count: count,
	}, nil
}

func (s *Store) QueryRecent(ctx context.Context, limit int) ([]domain.Sample, error) {
	if limit <= 0 {
		return []domain.Sample{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, device_type, heart_rate, rr_intervals, latitude, longitude, recorded_at
		FROM (
			SELECT id, device_id, device_type, heart_rate, rr_intervals, latitude, longitude, recorded_at
			FROM samples
			WHERE heart_rate > 0
			ORDER BY recorded_at DESC, id DESC
			LIMIT ?
		)
		ORDER BY recorded_at ASC, id ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent samples: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Sample, 0, limit)
	for rows.Next() {
		var (
			sample   domain.Sample
			rrJSON   string
			lat, lon sql.NullFloat64
			recorded string
		)
		if err := rows.Scan(&sample.DeviceID, &sample.DeviceType, &sample.HeartRate, &rrJSON, &lat, &lon, &recorded); err != nil {
			return nil, fmt.Errorf("scanning sample: %w", err)
		}
		sample.RRIntervals = []float64{}
		if err := json.Unmarshal([]byte(rrJSON), &sample.RRIntervals); err != nil {
			return nil, fmt.Errorf("decoding rr intervals: %w", err)
		}
		if lat.Valid {
			sample.Latitude = &lat.Float64
		}
		if lon.Valid {
			sample.Longitude = &lon.Float64
		}
		if sample.Timestamp, err = parseTime(recorded); err != nil {
			return nil, err
		}
		out = append(out, sample)
	}
	return out, rows.Err()
}

func (s *Store) DeviceTypeCounts(ctx context.Context) ([]domain.DeviceTypeCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_type, COUNT(*)
		FROM samples
		GROUP BY device_type
		ORDER BY device_type`)
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

func (s *Store) SaveActivity(ctx context.Context, act domain.Activity) error {
	var end sql.NullString
	if act.EndTime != nil {
		end = sql.NullString{String: formatTime(*act.EndTime), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activities (id, device_id, start_time, end_time, status, distance_km, avg_speed,
			avg_heart_rate, min_heart_rate, max_heart_rate, calories, duration_minutes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			device_id = excluded.device_id,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			status = excluded.status,
			distance_km = excluded.distance_km,
			avg_speed = excluded.avg_speed,
			avg_heart_rate = excluded.avg_heart_rate,
			min_heart_rate = excluded.min_heart_rate,
			max_heart_rate = excluded.max_heart_rate,
			calories = excluded.calories,
			duration_minutes = excluded.duration_minutes`,
		act.ID,
		act.DeviceID,
		formatTime(act.StartTime),
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

func (s *Store) AppendWaypoint(ctx context.Context, wp domain.Waypoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO waypoints (activity_id, seq, latitude, longitude, heart_rate, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(activity_id, seq) DO UPDATE SET
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			heart_rate = excluded.heart_rate,
			recorded_at = excluded.recorded_at`,
		wp.ActivityID,
		wp.Sequence,
		wp.Latitude,
		wp.Longitude,
		nullInt(wp.HeartRate),
		formatTime(wp.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("appending waypoint to %s: %w", wp.ActivityID, err)
	}
	return nil
}

const activityColumns = `id, device_id, start_time, end_time, status, distance_km, avg_speed,
	avg_heart_rate, min_heart_rate, max_heart_rate, calories, duration_minutes`

type scanner interface {
	Scan(dest ...any) error
}

func scanActivity(row scanner) (domain.Activity, error) {
	var (
		act        domain.Activity
		start      string
		end        sql.NullString
		statusText string
	)
	if err := row.Scan(&act.ID, &act.DeviceID, &start, &end, &statusText, &act.DistanceKM, &act.AvgSpeed,
		&act.AvgHeartRate, &act.MinHeartRate, &act.MaxHeartRate, &act.Calories, &act.DurationMinutes); err != nil {
		return domain.Activity{}, err
	}
	act.Status = domain.ActivityStatus(statusText)

	var err error
	if act.StartTime, err = parseTime(start); err != nil {
		return domain.Activity{}, err
	}
	if end.Valid {
		ts, err := parseTime(end.String)
		if err != nil {
			return domain.Activity{}, err
		}
		act.EndTime = &ts
	}
	return act, nil
}

func (s *Store) GetActivity(ctx context.Context, id string) (*domain.Activity, []domain.Waypoint, error) {
	act, err := scanActivity(s.db.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("activity %s: %w", id, domain.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("loading activity %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, latitude, longitude, heart_rate, recorded_at
		FROM waypoints
		WHERE activity_id = ?
		ORDER BY seq`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("loading waypoints for %s: %w", id, err)
	}
	defer rows.Close()

	waypoints := make([]domain.Waypoint, 0)
	for rows.Next() {
		var (
			wp       = domain.Waypoint{ActivityID: id}
			hr       sql.NullInt64
			recorded string
		)
		if err := rows.Scan(&wp.Sequence, &wp.Latitude, &wp.Longitude, &hr, &recorded); err != nil {
			return nil, nil, fmt.Errorf("scanning waypoint: %w", err)
		}
		if hr.Valid {
			v := int(hr.Int64)
			wp.HeartRate = &v
		}
		if wp.Timestamp, err = parseTime(recorded); err != nil {
			return nil, nil, err
		}
		waypoints = append(waypoints, wp)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return &act, waypoints, nil
}

func (s *Store) ListActivities(ctx context.Context, deviceID string) ([]domain.Activity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+activityColumns+`
		FROM activities
		WHERE ? = '' OR device_id = ?
		ORDER BY start_time DESC, id DESC`, deviceID, deviceID)
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

func (s *Store) DeleteActivity(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM activities WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting activity %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("activity %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
