package uploading

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/ccc/db"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/models"
	_ "github.com/mattn/go-sqlite3"
)

// QuarantineRepository persists permanently failed records so they survive a restart
type QuarantineRepository interface {
	// Save inserts or replaces a record
	Save(ctx context.Context, record *models.CaptureRecord) error

	// Delete removes a record by its ID. Unknown IDs are not an error.
	Delete(ctx context.Context, id string) error

	// List returns all records, oldest capture first
	List(ctx context.Context) ([]*models.CaptureRecord, error)
}

// SQLiteQuarantineRepository implements QuarantineRepository using SQLite
type SQLiteQuarantineRepository struct {
	db *sql.DB
}

// NewSQLiteQuarantineRepository creates a new SQLite-based QuarantineRepository
func NewSQLiteQuarantineRepository(db *sql.DB) (*SQLiteQuarantineRepository, error) {
	repo := &SQLiteQuarantineRepository{db: db}
	if err := repo.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return repo, nil
}

func (r *SQLiteQuarantineRepository) createTables() error {
	createQuarantineTable := `
	CREATE TABLE IF NOT EXISTS quarantine (
		id TEXT PRIMARY KEY,
		local_path TEXT NOT NULL,
		file_name TEXT NOT NULL,
		captured_at TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		content_digest TEXT NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		retry_count INTEGER NOT NULL,
		last_error TEXT NOT NULL,
		latitude REAL,
		longitude REAL,
		altitude REAL,
		accuracy REAL,
		satellites INTEGER,
		fix_quality INTEGER,
		fix_time TEXT
	);`

	_, err := r.db.Exec(createQuarantineTable)
	return err
}

func (r *SQLiteQuarantineRepository) Save(ctx context.Context, record *models.CaptureRecord) error {
	query := `
	INSERT OR REPLACE INTO quarantine (id, local_path, file_name, captured_at, size_bytes, content_digest, width, height,
		retry_count, last_error, latitude, longitude, altitude, accuracy, satellites, fix_quality, fix_time)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var lat, lon, alt, acc sql.NullFloat64
	var sats, quality sql.NullInt64
	var fixTime sql.NullString
	if loc := record.Location; loc != nil {
		lat = db.FloatPtrToNull(&loc.Latitude)
		lon = db.FloatPtrToNull(&loc.Longitude)
		alt = db.FloatPtrToNull(&loc.Altitude)
		acc = db.FloatPtrToNull(&loc.AccuracyMeters)
		sats = sql.NullInt64{Int64: int64(loc.SatelliteCount), Valid: true}
		quality = sql.NullInt64{Int64: int64(loc.FixQuality), Valid: true}
		fixTime = sql.NullString{String: db.TimeToString(loc.CapturedAt), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		record.ID, record.LocalPath, record.FileName, db.TimeToString(record.CapturedAt), record.SizeBytes,
		record.ContentDigest, record.Width, record.Height, record.RetryCount, record.LastError,
		lat, lon, alt, acc, sats, quality, fixTime,
	)
	if err != nil {
		return fmt.Errorf("failed to save quarantined record: %w", err)
	}
	return nil
}

func (r *SQLiteQuarantineRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM quarantine WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete quarantined record: %w", err)
	}
	return nil
}

func (r *SQLiteQuarantineRepository) List(ctx context.Context) ([]*models.CaptureRecord, error) {
	query := `
	SELECT id, local_path, file_name, captured_at, size_bytes, content_digest, width, height,
		retry_count, last_error, latitude, longitude, altitude, accuracy, satellites, fix_quality, fix_time
	FROM quarantine ORDER BY captured_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list quarantined records: %w", err)
	}
	defer rows.Close()

	var records []*models.CaptureRecord
	for rows.Next() {
		record := &models.CaptureRecord{State: models.StatePermanentlyFailed}
		var capturedAt string
		var lat, lon, alt, acc sql.NullFloat64
		var sats, quality sql.NullInt64
		var fixTime sql.NullString

		err := rows.Scan(
			&record.ID, &record.LocalPath, &record.FileName, &capturedAt, &record.SizeBytes,
			&record.ContentDigest, &record.Width, &record.Height, &record.RetryCount, &record.LastError,
			&lat, &lon, &alt, &acc, &sats, &quality, &fixTime,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan quarantined record: %w", err)
		}

		record.CapturedAt, err = db.StringToTime(capturedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse capture time: %w", err)
		}

		latitude, longitude := db.NullToFloatPtr(lat), db.NullToFloatPtr(lon)
		if latitude != nil && longitude != nil {
			loc := &models.LocationSnapshot{
				Latitude:       *latitude,
				Longitude:      *longitude,
				Altitude:       alt.Float64,
				AccuracyMeters: acc.Float64,
				SatelliteCount: int(sats.Int64),
				FixQuality:     int(quality.Int64),
			}
			if fixTime.Valid {
				if t, err := db.StringToTime(fixTime.String); err == nil {
					loc.CapturedAt = t
				}
			}
			record.Location = loc
		}

		records = append(records, record)
	}

	return records, rows.Err()
}
