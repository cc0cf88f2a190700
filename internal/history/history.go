package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	loaderrors "github.com/zfogg/sidechain/lazyload/internal/errors"
	"github.com/zfogg/sidechain/lazyload/internal/lazyload"
	"github.com/zfogg/sidechain/lazyload/internal/logger"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// LoadRecord is one finished image load.
type LoadRecord struct {
	ID         string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TicketID   string    `gorm:"type:varchar(36);index" json:"ticket_id"`
	ElementID  string    `gorm:"index" json:"element_id"`
	URL        string    `gorm:"index" json:"url"`
	Status     string    `gorm:"type:varchar(16);index" json:"status"` // loaded, errored
	ErrorKind  string    `gorm:"type:varchar(16)" json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	Bytes      int       `json:"bytes"`
	DurationMs int64     `json:"duration_ms"`
	Priority   int       `json:"priority"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

// StatusCount is an aggregate row for Summary.
type StatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// Store persists load records.
type Store struct {
	db *gorm.DB
}

// Open connects with the named driver ("sqlite" or "postgres") and migrates.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported history driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// sqlite allows one writer; one connection also keeps :memory: databases
	// from splitting across the pool.
	if driver != "postgres" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return NewStore(db)
}

// NewStore wraps an open database and migrates the schema.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&LoadRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate history: %w", err)
	}
	return &Store{db: db}, nil
}

// Record inserts one record, assigning an ID if missing.
func (s *Store) Record(ctx context.Context, rec *LoadRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

// Recent returns the newest records first.
func (s *Store) Recent(ctx context.Context, limit int) ([]LoadRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []LoadRecord
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// Summary counts records per status.
func (s *Store) Summary(ctx context.Context) ([]StatusCount, error) {
	var rows []StatusCount
	err := s.db.WithContext(ctx).
		Model(&LoadRecord{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Order("status").
		Scan(&rows).Error
	return rows, err
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// HandleEvent implements lazyload.Listener by recording finished loads.
// Write failures are logged, never propagated into the loader.
func (s *Store) HandleEvent(ev lazyload.Event) {
	if ev.Kind != lazyload.EventLoaded && ev.Kind != lazyload.EventErrored {
		return
	}

	rec := &LoadRecord{
		TicketID:   ev.TicketID,
		ElementID:  ev.ElementID,
		URL:        ev.URL,
		Status:     string(ev.Kind),
		Bytes:      ev.Bytes,
		DurationMs: ev.Duration.Milliseconds(),
		Priority:   int(ev.Priority),
		CreatedAt:  ev.Time,
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
		rec.ErrorKind = string(loaderrors.KindOf(ev.Err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.Record(ctx, rec); err != nil {
		logger.Log.Warn("Failed to record load history", logger.WithURL(ev.URL), zap.Error(err))
	}
}
