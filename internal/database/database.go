// Package database is the append-only detection log backed by SQLite.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Database handles SQLite database operations
type Database struct {
	db   *sql.DB
	path string
}

// DetectionRecord is one row of the detection log
type DetectionRecord struct {
	ID         int64          `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Confidence float64        `json:"confidence"`
	TrackID    *int           `json:"track_id,omitempty"`
	Label      string         `json:"label"`
	ImagePath  string         `json:"image_path"`
	VideoPath  string         `json:"video_path"`
	Metadata   map[string]any `json:"metadata"`
}

// Open opens (creating if needed) the database file and applies migrations
func Open(dbPath string) (*Database, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	d := &Database{db: db, path: dbPath}
	if err := d.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[DB] Opened detection log at %s", dbPath)
	return d, nil
}

// Path returns the database file location
func (d *Database) Path() string {
	return d.path
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// AppendDetection inserts a detection and returns its row id. Ids are
// assigned by SQLite and increase monotonically.
func (d *Database) AppendDetection(ctx context.Context, rec *DetectionRecord) (int64, error) {
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `INSERT INTO detections
		(timestamp, confidence, image_path, video_path, metadata, track_id, label)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	var trackID sql.NullInt64
	if rec.TrackID != nil {
		trackID = sql.NullInt64{Int64: int64(*rec.TrackID), Valid: true}
	}

	result, err := d.db.ExecContext(ctx, query, rec.Timestamp.UTC(), rec.Confidence,
		rec.ImagePath, rec.VideoPath, string(metaJSON), trackID, rec.Label)
	if err != nil {
		return 0, fmt.Errorf("failed to append detection: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read detection id: %w", err)
	}
	rec.ID = id
	return id, nil
}

const selectDetection = `SELECT id, timestamp, confidence, image_path, video_path, metadata, track_id, label
	FROM detections`

// GetDetection retrieves a detection by id; returns nil, nil if absent
func (d *Database) GetDetection(ctx context.Context, id int64) (*DetectionRecord, error) {
	row := d.db.QueryRowContext(ctx, selectDetection+" WHERE id = ?", id)

	rec, err := scanDetection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get detection: %w", err)
	}
	return rec, nil
}

// ListDetections returns detections newest first, optionally since a time
func (d *Database) ListDetections(ctx context.Context, since *time.Time, limit int) ([]*DetectionRecord, error) {
	query := selectDetection + " WHERE 1=1"
	args := []interface{}{}

	if since != nil {
		query += " AND timestamp >= ?"
		args = append(args, since.UTC())
	}

	query += " ORDER BY id DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list detections: %w", err)
	}
	defer rows.Close()

	var records []*DetectionRecord
	for rows.Next() {
		rec, err := scanDetection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountDetections returns the number of logged detections
func (d *Database) CountDetections(ctx context.Context) (int64, error) {
	var n int64
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM detections").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count detections: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDetection(s scanner) (*DetectionRecord, error) {
	var rec DetectionRecord
	var imagePath, videoPath, metaJSON, label sql.NullString
	var trackID sql.NullInt64

	if err := s.Scan(&rec.ID, &rec.Timestamp, &rec.Confidence, &imagePath, &videoPath,
		&metaJSON, &trackID, &label); err != nil {
		return nil, err
	}

	rec.ImagePath = imagePath.String
	rec.VideoPath = videoPath.String
	rec.Label = label.String
	if trackID.Valid {
		id := int(trackID.Int64)
		rec.TrackID = &id
	}
	if metaJSON.String != "" && metaJSON.String != "null" {
		if err := json.Unmarshal([]byte(metaJSON.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &rec, nil
}
