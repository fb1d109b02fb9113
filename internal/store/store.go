// Package store persists scan records and their annotations in sqlite.
package store

import (
	"context"
	"fmt"

	"trendscan/internal/faults"
	"trendscan/internal/screener"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const ingestBatchSize = 100

type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to the sqlite database at path and migrates the schema.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w: %w", path, faults.ErrPersistence, err)
	}

	if err := db.AutoMigrate(&ScanRecord{}, &Annotation{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w: %w", faults.ErrPersistence, err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Ingest inserts the candidates as pending records for the given date in one
// batched write. Rows whose (scan_date, ticker) already exist are silently
// skipped, so re-ingestion of the same list is idempotent. Returns the number
// of rows actually inserted.
func (s *Store) Ingest(ctx context.Context, candidates []screener.Candidate, scanDate, market string) (int, error) {
	if len(candidates) == 0 {
		return 0, nil
	}

	records := make([]ScanRecord, 0, len(candidates))
	for _, c := range candidates {
		records = append(records, ScanRecord{
			ScanDate:    scanDate,
			Market:      market,
			Ticker:      c.Ticker,
			CompanyName: c.Description,
			ClosePrice:  c.Close,
			SMA20:       c.SMA20,
			SMA50:       c.SMA50,
			SMA200:      c.SMA200,
			Status:      StatusPending,
		})
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&records, ingestBatchSize)
	if result.Error != nil {
		return 0, fmt.Errorf("ingest scan records: %w: %w", faults.ErrPersistence, result.Error)
	}

	inserted := int(result.RowsAffected)

	s.logger.Info("ingested scan records",
		zap.String("scan_date", scanDate),
		zap.Int("received", len(candidates)),
		zap.Int("inserted", inserted),
		zap.Int("duplicates", len(candidates)-inserted),
	)

	return inserted, nil
}

// ListPending returns up to limit pending records for the date,
// oldest-inserted first. Failed records are never returned: a failed record
// stays failed until the same ticker is re-ingested on a later date.
func (s *Store) ListPending(ctx context.Context, scanDate string, limit int) ([]ScanRecord, error) {
	var records []ScanRecord

	q := s.db.WithContext(ctx).
		Where("scan_date = ? AND status = ?", scanDate, StatusPending).
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list pending records: %w: %w", faults.ErrPersistence, err)
	}

	return records, nil
}

// SaveAnnotation writes the annotation for a record. The unique index on
// scan_id enforces at most one annotation per record.
func (s *Store) SaveAnnotation(ctx context.Context, a *Annotation) error {
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("save annotation for scan %d: %w: %w", a.ScanID, faults.ErrPersistence, err)
	}
	return nil
}

// MarkDone transitions a pending record to done.
func (s *Store) MarkDone(ctx context.Context, id int64) error {
	return s.transition(ctx, id, StatusPending, StatusDone)
}

// MarkFailed transitions a pending record to failed. Marking an already
// failed record is a no-op, keeping the transition idempotent.
func (s *Store) MarkFailed(ctx context.Context, id int64) error {
	return s.transition(ctx, id, StatusPending, StatusFailed)
}

func (s *Store) transition(ctx context.Context, id int64, from, to string) error {
	err := s.db.WithContext(ctx).
		Model(&ScanRecord{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to).Error
	if err != nil {
		return fmt.Errorf("mark record %d %s: %w: %w", id, to, faults.ErrPersistence, err)
	}
	return nil
}

// MarkDelivered flips every done record for the date to delivered in one
// batched update and returns the number of rows affected. Failed records are
// untouched, so delivered is reachable only from done.
func (s *Store) MarkDelivered(ctx context.Context, scanDate string) (int, error) {
	result := s.db.WithContext(ctx).
		Model(&ScanRecord{}).
		Where("scan_date = ? AND status = ?", scanDate, StatusDone).
		Update("status", StatusDelivered)
	if result.Error != nil {
		return 0, fmt.Errorf("mark records delivered: %w: %w", faults.ErrPersistence, result.Error)
	}

	return int(result.RowsAffected), nil
}

// ListAnnotated joins done records for the date with their annotations.
// Only done records are included: delivered ones were already reported and
// failed ones have no annotation by construction.
func (s *Store) ListAnnotated(ctx context.Context, scanDate string) ([]AnnotatedRecord, error) {
	var rows []AnnotatedRecord

	err := s.db.WithContext(ctx).
		Table("raw_scans").
		Select(`raw_scans.ticker, raw_scans.company_name, raw_scans.close_price,
			raw_scans.sma_20, raw_scans.sma_50, raw_scans.sma_200,
			ai_analysis.sector, ai_analysis.catalyst, ai_analysis.ai_stage AS stage,
			ai_analysis.heat, ai_analysis.strategy_tag`).
		Joins("JOIN ai_analysis ON ai_analysis.scan_id = raw_scans.id").
		Where("raw_scans.scan_date = ? AND raw_scans.status = ?", scanDate, StatusDone).
		Order("ai_analysis.heat DESC, raw_scans.ticker ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list annotated records: %w: %w", faults.ErrPersistence, err)
	}

	return rows, nil
}
