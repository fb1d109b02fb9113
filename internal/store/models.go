package store

import "time"

// ScanRecord statuses. A record is created pending, flipped to done or
// failed exactly once after an annotation attempt, and to delivered after
// the digest containing it was sent. Failed is terminal until re-ingestion.
const (
	StatusPending   = "pending"
	StatusDone      = "done"
	StatusFailed    = "failed"
	StatusDelivered = "delivered"
)

// ScanRecord is one screened candidate for one calendar date.
type ScanRecord struct {
	ID          int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	ScanDate    string  `gorm:"size:10;not null;uniqueIndex:idx_scan_date_ticker" json:"scan_date"`
	Market      string  `gorm:"size:16;not null" json:"market"`
	Ticker      string  `gorm:"size:16;not null;uniqueIndex:idx_scan_date_ticker" json:"ticker"`
	CompanyName string  `json:"company_name"`
	ClosePrice  float64 `json:"close_price"`
	SMA20       float64 `gorm:"column:sma_20" json:"sma_20"`
	SMA50       float64 `gorm:"column:sma_50" json:"sma_50"`
	SMA200      float64 `gorm:"column:sma_200" json:"sma_200"`
	Status      string  `gorm:"size:16;not null;default:'pending';index" json:"status"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ScanRecord) TableName() string {
	return "raw_scans"
}

// Annotation is the model's structured judgment about one ScanRecord.
// Created exactly once per record, immutable thereafter.
type Annotation struct {
	ID          int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	ScanID      int64  `gorm:"not null;uniqueIndex" json:"scan_id"`
	Ticker      string `gorm:"size:16;not null" json:"ticker"`
	Sector      string `json:"sector"`
	Catalyst    string `json:"catalyst"`
	Stage       string `gorm:"column:ai_stage" json:"ai_stage"`
	Heat        int    `json:"heat"`
	StrategyTag string `gorm:"size:32" json:"strategy_tag"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Annotation) TableName() string {
	return "ai_analysis"
}

// AnnotatedRecord joins a done ScanRecord with its Annotation for reporting.
type AnnotatedRecord struct {
	Ticker      string
	CompanyName string
	ClosePrice  float64
	SMA20       float64
	SMA50       float64
	SMA200      float64
	Sector      string
	Catalyst    string
	Stage       string
	Heat        int
	StrategyTag string
}
