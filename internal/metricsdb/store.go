// Package metricsdb keeps a history of decode runs in SQLite.
package metricsdb

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Altius/stampipes/programs/decode_index/internal/metrics"
)

const errStoreNil = "metrics store is nil"

// Run is one decode invocation.
type Run struct {
	ID         string `gorm:"primaryKey;type:varchar(26)"`
	FastQ1     string
	FastQ2     string
	Output     string
	State      string `gorm:"index:idx_run_state"`
	Reads      int64
	Matched    int64
	PctMatches float64
	StartedAt  time.Time `gorm:"index:idx_run_started"`
	FinishedAt time.Time
	Barcodes   []BarcodeRow `gorm:"constraint:OnDelete:CASCADE"`
}

// BarcodeRow is one row of a run's report, the unmatched and global rows
// included.
type BarcodeRow struct {
	ID                   uint   `gorm:"primaryKey;autoIncrement"`
	RunID                string `gorm:"type:varchar(26);index:idx_barcode_run"`
	Position             int
	Barcode              string
	Name                 string
	Library              string
	Reads                int64
	PFReads              int64
	PerfectMatches       int64
	PFPerfectMatches     int64
	OneMismatchMatches   int64
	PFOneMismatchMatches int64
	MultiMismatchMatches int64
	NoCallRejections     int64
	MismatchRejections   int64
	AmbiguityRejections  int64
	PctMatches           float64
	RatioToBest          float64
}

// Store writes run history through gorm.
type Store struct {
	DB *gorm.DB
	db *sql.DB
}

// Open opens or creates the database at path and migrates its schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path+"?_pragma=foreign_keys(1)"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Run{}, &BarcodeRow{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &Store{DB: db, db: sqlDB}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RunInfo describes a run besides its report.
type RunInfo struct {
	FastQ1     string
	FastQ2     string
	Output     string
	State      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// SaveRun stores a run and every row of its report, returning the new run ID.
func (s *Store) SaveRun(info RunInfo, summary metrics.Summary) (string, error) {
	if s == nil || s.DB == nil {
		return "", errors.New(errStoreNil)
	}

	run := Run{
		ID:         ulid.Make().String(),
		FastQ1:     info.FastQ1,
		FastQ2:     info.FastQ2,
		Output:     info.Output,
		State:      info.State,
		Reads:      summary.Global.Reads,
		Matched:    summary.Global.Matched(),
		PctMatches: summary.Global.PctMatches,
		StartedAt:  info.StartedAt,
		FinishedAt: info.FinishedAt,
	}
	rows := summary.Rows()
	run.Barcodes = make([]BarcodeRow, len(rows))
	for i, r := range rows {
		run.Barcodes[i] = BarcodeRow{
			RunID:                run.ID,
			Position:             i,
			Barcode:              r.Barcode,
			Name:                 r.Name,
			Library:              r.Library,
			Reads:                r.Reads,
			PFReads:              r.PFReads,
			PerfectMatches:       r.PerfectMatches,
			PFPerfectMatches:     r.PFPerfectMatches,
			OneMismatchMatches:   r.OneMismatchMatches,
			PFOneMismatchMatches: r.PFOneMismatchMatches,
			MultiMismatchMatches: r.MultiMismatchMatches,
			NoCallRejections:     r.NoCallRejections,
			MismatchRejections:   r.MismatchRejections,
			AmbiguityRejections:  r.AmbiguityRejections,
			PctMatches:           r.PctMatches,
			RatioToBest:          r.RatioToBest,
		}
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Barcodes").Create(&run).Error; err != nil {
			return fmt.Errorf("inserting run: %w", err)
		}
		if err := tx.CreateInBatches(run.Barcodes, 500).Error; err != nil {
			return fmt.Errorf("inserting barcode rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

// Run loads a run with its rows in report order.
func (s *Store) Run(id string) (*Run, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New(errStoreNil)
	}
	var run Run
	err := s.DB.Preload("Barcodes", func(db *gorm.DB) *gorm.DB {
		return db.Order("position")
	}).First(&run, "id = ?", id).Error
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", id, err)
	}
	return &run, nil
}

// Runs lists the most recent runs first, without their rows.
func (s *Store) Runs(limit int) ([]Run, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New(errStoreNil)
	}
	var runs []Run
	if err := s.DB.Order("started_at desc").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}
