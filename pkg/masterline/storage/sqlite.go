// Package storage persists fingerprints in SQLite, keyed by content
// signature so a changed source simply misses and regenerates.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/avshenoy/masterline/pkg/masterline/fingerprint"
)

// DefaultDBFile is used when no path is configured.
const DefaultDBFile = "masterline.sqlite3"

// ErrNotFound is returned when no row matches the lookup key.
var ErrNotFound = errors.New("fingerprint not found")

var errStoreNil = errors.New("store is nil")

// FingerprintRow is the persistent schema: one row per
// (track_id, schema_version), carrying the content signature used for
// implicit invalidation.
type FingerprintRow struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"`
	TrackID          string `gorm:"uniqueIndex:idx_track_schema,priority:1;type:varchar(64)"`
	SchemaVersion    int    `gorm:"uniqueIndex:idx_track_schema,priority:2"`
	ContentSignature string `gorm:"index:idx_signature;type:varchar(64)"`
	Dims             string `gorm:"type:text"`
	SampleRate       int
	DurationMs       int
	CreatedAt        time.Time
}

// Store wraps the gorm handle. Reads run concurrently; writes for one
// signature are serialized by the caller (the cache single-flights
// resolution per track/signature).
type Store struct {
	DB *gorm.DB
	db *sql.DB
}

// NewStore opens (and migrates) the SQLite database at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = DefaultDBFile
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil && !os.IsExist(err) {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path+"?_foreign_keys=on"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&FingerprintRow{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &Store{DB: db, db: sqlDB}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put upserts the fingerprint for trackID. An existing row for the same
// (track, schema) is replaced, which is how a re-signed source takes
// over from a stale entry.
func (s *Store) Put(trackID string, fp *fingerprint.Fingerprint) error {
	if s == nil || s.DB == nil {
		return errStoreNil
	}
	dims, err := json.Marshal(fp.Dims)
	if err != nil {
		return fmt.Errorf("encoding dims: %w", err)
	}

	row := FingerprintRow{
		TrackID:          trackID,
		SchemaVersion:    fp.SchemaVersion,
		ContentSignature: fp.ContentSignature,
		Dims:             string(dims),
		SampleRate:       fp.SampleRate,
		DurationMs:       int(fp.Duration * 1000),
	}

	return s.DB.Transaction(func(tx *gorm.DB) error {
		var existing FingerprintRow
		err := tx.Where("track_id = ? AND schema_version = ?", trackID, fp.SchemaVersion).
			First(&existing).Error
		switch {
		case err == nil:
			row.ID = existing.ID
			row.CreatedAt = time.Now()
			return tx.Save(&row).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&row).Error
		default:
			return fmt.Errorf("querying existing fingerprint: %w", err)
		}
	})
}

// GetBySignature returns the fingerprint for a content signature at the
// current schema version, or ErrNotFound.
func (s *Store) GetBySignature(signature string) (*fingerprint.Fingerprint, error) {
	if s == nil || s.DB == nil {
		return nil, errStoreNil
	}
	var row FingerprintRow
	err := s.DB.Where("content_signature = ? AND schema_version = ?",
		signature, fingerprint.SchemaVersion).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying fingerprint: %w", err)
	}
	return row.toFingerprint()
}

// GetByTrack returns a track's fingerprint at the current schema
// version, or ErrNotFound. The caller is expected to compare the
// returned ContentSignature against the source's current signature.
func (s *Store) GetByTrack(trackID string) (*fingerprint.Fingerprint, error) {
	if s == nil || s.DB == nil {
		return nil, errStoreNil
	}
	var row FingerprintRow
	err := s.DB.Where("track_id = ? AND schema_version = ?",
		trackID, fingerprint.SchemaVersion).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying fingerprint: %w", err)
	}
	return row.toFingerprint()
}

// DeleteTrack removes all schema versions of a track's fingerprint.
func (s *Store) DeleteTrack(trackID string) error {
	if s == nil || s.DB == nil {
		return errStoreNil
	}
	return s.DB.Where("track_id = ?", trackID).Delete(&FingerprintRow{}).Error
}

// Count returns the number of stored fingerprints.
func (s *Store) Count() (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errStoreNil
	}
	var n int64
	if err := s.DB.Model(&FingerprintRow{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting fingerprints: %w", err)
	}
	return n, nil
}

func (r *FingerprintRow) toFingerprint() (*fingerprint.Fingerprint, error) {
	fp := &fingerprint.Fingerprint{
		SchemaVersion:    r.SchemaVersion,
		ContentSignature: r.ContentSignature,
		SampleRate:       r.SampleRate,
		Duration:         float64(r.DurationMs) / 1000,
		GeneratedAt:      r.CreatedAt,
	}
	if err := json.Unmarshal([]byte(r.Dims), &fp.Dims); err != nil {
		return nil, fmt.Errorf("decoding dims: %w", err)
	}
	return fp, nil
}
