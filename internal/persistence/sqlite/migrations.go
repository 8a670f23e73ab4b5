package sqlite

import (
	"database/sql"
	"fmt"
)

func migrate(db *sql.DB) error {
	migrations := []string{
		// Accepted heart-rate samples
		`CREATE TABLE IF NOT EXISTS samples (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL,
			device_type TEXT NOT NULL,
			heart_rate INTEGER NOT NULL,
			rr_intervals TEXT NOT NULL DEFAULT '[]',
			latitude REAL,
			longitude REAL,
			recorded_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_samples_recorded_at ON samples(recorded_at)`,
		`CREATE INDEX IF NOT EXISTS idx_samples_device_type ON samples(device_type)`,

		// Activities and their GPS track
		`CREATE TABLE IF NOT EXISTS activities (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT,
			status TEXT NOT NULL,
			distance_km REAL NOT NULL DEFAULT 0,
			avg_speed REAL NOT NULL DEFAULT 0,
			avg_heart_rate REAL NOT NULL DEFAULT 0,
			min_heart_rate INTEGER NOT NULL DEFAULT 0,
			max_heart_rate INTEGER NOT NULL DEFAULT 0,
			calories REAL NOT NULL DEFAULT 0,
			duration_minutes REAL NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activities_device_start ON activities(device_id, start_time)`,

		`CREATE TABLE IF NOT EXISTS waypoints (
			activity_id TEXT NOT NULL REFERENCES activities(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			heart_rate INTEGER,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (activity_id, seq)
		)`,
	}

	for i, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
