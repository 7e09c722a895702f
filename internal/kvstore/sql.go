package kvstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/chrissnell/irrigationwx/internal/log"
)

// Entry is one row of the kv_entries table. The primary key on Key is the
// unique constraint that makes SetIfAbsent atomic.
type Entry struct {
	Key       string     `gorm:"primaryKey;column:key"`
	Value     string     `gorm:"column:value;not null"`
	ExpiresAt *time.Time `gorm:"column:expires_at;index"`
	UpdatedAt time.Time  `gorm:"column:updated_at"`
}

// TableName specifies the table name for Entry
func (Entry) TableName() string {
	return "kv_entries"
}

// SQL is a Store backed by a relational table. Expired rows are invisible to
// reads immediately and are physically removed by Sweep.
type SQL struct {
	db     *gorm.DB
	clock  clockwork.Clock
	logger *zap.SugaredLogger
}

// OpenPostgres is a helper to create a PostgreSQL connection with standard GORM configuration
func OpenPostgres(connectionString string) (*gorm.DB, error) {
	dbLogger := logger.New(
		zap.NewStdLog(log.GetZapLogger()),
		logger.Config{
			SlowThreshold:             time.Second, // Slow SQL threshold
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(connectionString), &gorm.Config{Logger: dbLogger})
	if err != nil {
		return nil, fmt.Errorf("unable to create a PostgreSQL connection: %w", err)
	}
	return db, nil
}

// NewSQL migrates the kv_entries table and returns a store on db. The store
// owns db: it is closed here when the migration fails and by Close otherwise.
func NewSQL(ctx context.Context, db *gorm.DB, clock clockwork.Clock, logger *zap.SugaredLogger) (*SQL, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger = log.OrNop(logger)
	logger.Info("creating kv_entries table...")
	if err := db.WithContext(ctx).AutoMigrate(&Entry{}); err != nil {
		if sqlDB, derr := db.DB(); derr == nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("could not create kv_entries table: %w", err)
	}
	return &SQL{db: db, clock: clock, logger: logger}, nil
}

func (s *SQL) notExpired(tx *gorm.DB) *gorm.DB {
	return tx.Where("expires_at IS NULL OR expires_at > ?", s.clock.Now())
}

func (s *SQL) Get(ctx context.Context, key string) (string, bool, error) {
	var rows []Entry
	err := s.notExpired(s.db.WithContext(ctx).Where("key = ?", key)).Limit(1).Find(&rows).Error
	if err != nil {
		return "", false, err
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	return rows[0].Value, true, nil
}

func (s *SQL) Set(ctx context.Context, key, value string) error {
	e := Entry{Key: key, Value: value, UpdatedAt: s.clock.Now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]any{"value": value, "expires_at": nil, "updated_at": e.UpdatedAt}),
	}).Create(&e).Error
}

func (s *SQL) SetIfAbsent(ctx context.Context, key, value string) (bool, error) {
	now := s.clock.Now()
	captured := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// An expired row still holds the unique key; clear it first
		if err := tx.Where("key = ? AND expires_at IS NOT NULL AND expires_at <= ?", key, now).
			Delete(&Entry{}).Error; err != nil {
			return err
		}

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&Entry{Key: key, Value: value, UpdatedAt: now})
		if res.Error != nil {
			return res.Error
		}
		captured = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return captured, nil
}

func (s *SQL) Expire(ctx context.Context, key string, ttl time.Duration) error {
	at := s.clock.Now().Add(ttl)
	return s.notExpired(s.db.WithContext(ctx).Model(&Entry{}).Where("key = ?", key)).
		Update("expires_at", at).Error
}

func (s *SQL) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("key = ?", key).Delete(&Entry{}).Error
}

// Sweep removes expired rows and returns how many were deleted
func (s *SQL) Sweep(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", s.clock.Now()).
		Delete(&Entry{})
	return res.RowsAffected, res.Error
}

// RunSweeper calls Sweep every interval until ctx is cancelled
func (s *SQL) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			n, err := s.Sweep(ctx)
			if err != nil {
				s.logger.Warnf("kv_entries TTL sweep failed: %v", err)
				continue
			}
			if n > 0 {
				s.logger.Debugf("kv_entries TTL sweep removed %d expired rows", n)
			}
		}
	}
}

// Close closes the underlying connection pool
func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
