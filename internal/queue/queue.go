package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("queue: database handle is required")
	errInvalidCapacity = errors.New("queue: capacity must be positive")
)

// Handler applies one drained entry. An error marks the entry failed; it is
// still discarded (at-most-once replay), the next full refresh or live event
// corrects any gap.
type Handler func(ctx context.Context, data json.RawMessage) error

// OpenSQLite establishes the local queue database and performs schema
// migration. One connection keeps SQLite writes serialized.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("queue: database path is required")
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&PendingEvent{}); err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("offline queue database initialized", zap.String("path", path))
	}
	return db, nil
}

// Config carries the queue dependencies.
type Config struct {
	Database *gorm.DB
	Capacity int
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Queue is a durable, bounded FIFO of unconfirmed events. When full, the
// oldest entry is dropped before the new one is appended; bounded event
// loss is tolerated in favor of availability.
type Queue struct {
	db       *gorm.DB
	capacity int
	clock    func() time.Time
	logger   *zap.Logger
	draining atomic.Bool
}

// DrainReport summarizes one replay pass.
type DrainReport struct {
	Applied int
	Failed  int
	Skipped int
}

// New validates the configuration and returns a Queue.
func New(cfg Config) (*Queue, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Capacity <= 0 {
		return nil, errInvalidCapacity
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		db:       cfg.Database,
		capacity: cfg.Capacity,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Enqueue appends an entry and persists it. Overflow drops the oldest rows
// first; that is a warning, not an error.
func (q *Queue) Enqueue(ctx context.Context, eventType string, payload any) error {
	if eventType == "" {
		return fmt.Errorf("queue: event type is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("queue: payload marshal failed: %w", err)
	}
	entry := PendingEvent{
		EventType:         eventType,
		PayloadJSON:       string(data),
		EnqueuedAtSeconds: q.clock().UTC().Unix(),
	}
	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		var count int64
		if err := tx.Model(&PendingEvent{}).Count(&count).Error; err != nil {
			return err
		}
		if count <= int64(q.capacity) {
			return nil
		}
		overflow := count - int64(q.capacity)
		var oldest []PendingEvent
		if err := tx.Order("seq ASC").Limit(int(overflow)).Find(&oldest).Error; err != nil {
			return err
		}
		for _, dropped := range oldest {
			if err := tx.Delete(&PendingEvent{}, "seq = ?", dropped.Seq).Error; err != nil {
				return err
			}
			q.logger.Warn("offline queue full, dropped oldest entry",
				zap.Int64("seq", dropped.Seq),
				zap.String("event_type", dropped.EventType))
		}
		return nil
	})
}

// Len returns the number of persisted entries.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.WithContext(ctx).Model(&PendingEvent{}).Count(&count).Error
	return count, err
}

// Drain replays the persisted entries in enqueue order, awaiting each
// handler before the next; later events may depend on earlier ones having
// landed in local state. A failing handler is logged and its entry is still
// removed. Re-entrant calls while a drain is running are no-ops.
func (q *Queue) Drain(ctx context.Context, handlers map[string]Handler) (DrainReport, error) {
	var report DrainReport
	if !q.draining.CompareAndSwap(false, true) {
		return report, nil
	}
	defer q.draining.Store(false)

	var entries []PendingEvent
	if err := q.db.WithContext(ctx).Order("seq ASC").Find(&entries).Error; err != nil {
		return report, fmt.Errorf("queue: load failed: %w", err)
	}
	for _, entry := range entries {
		handler, ok := handlers[entry.EventType]
		if !ok {
			report.Skipped++
			q.logger.Warn("no drain handler for entry",
				zap.Int64("seq", entry.Seq),
				zap.String("event_type", entry.EventType))
		} else if err := handler(ctx, json.RawMessage(entry.PayloadJSON)); err != nil {
			report.Failed++
			q.logger.Warn("drain handler failed, entry discarded",
				zap.Int64("seq", entry.Seq),
				zap.String("event_type", entry.EventType),
				zap.Error(err))
		} else {
			report.Applied++
		}
		if err := q.db.WithContext(ctx).Delete(&PendingEvent{}, "seq = ?", entry.Seq).Error; err != nil {
			return report, fmt.Errorf("queue: delete failed: %w", err)
		}
	}
	return report, nil
}
