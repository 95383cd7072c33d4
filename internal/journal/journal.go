// Package journal persists sent alerts and accepted RTT samples to SQLite.
package journal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/trackwatch/trackwatch/internal/errors"
	"github.com/trackwatch/trackwatch/internal/logger"
)

// slowQueryThreshold marks journal writes worth a warning.
const slowQueryThreshold = 200 * time.Millisecond

// GetLogger returns the journal package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("journal")
}

// Journal is the SQLite-backed alert journal.
type Journal struct {
	db *gorm.DB
}

// Open opens or creates the database at path and migrates the schema.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, dbError(err, "mkdir").Context("path", path).Build()
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(GetLogger(), slowQueryThreshold),
	})
	if err != nil {
		return nil, dbError(err, "open").Context("path", path).Build()
	}

	if err := db.AutoMigrate(&AlertRecord{}, &RTTRecord{}); err != nil {
		return nil, dbError(err, "migrate").Context("path", path).Build()
	}

	GetLogger().Info("journal opened", logger.String("path", path))
	return &Journal{db: db}, nil
}

func dbError(err error, op string) *errors.ErrorBuilder {
	return errors.New(err).
		Component("journal").
		Category(errors.CategoryDatabase).
		Context("operation", op)
}

// RecordAlert inserts an alert row.
func (j *Journal) RecordAlert(ctx context.Context, rec *AlertRecord) error {
	if err := j.db.WithContext(ctx).Create(rec).Error; err != nil {
		return dbError(err, "insert_alert").Context("msg_id", rec.MsgID).Build()
	}
	return nil
}

// RecordRTT inserts an RTT sample row.
func (j *Journal) RecordRTT(ctx context.Context, rec *RTTRecord) error {
	if err := j.db.WithContext(ctx).Create(rec).Error; err != nil {
		return dbError(err, "insert_rtt").Context("msg_id", rec.MsgID).Build()
	}
	return nil
}

// RecentAlerts returns up to limit alerts, newest first.
func (j *Journal) RecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	var out []AlertRecord
	err := j.db.WithContext(ctx).Order("sent_at DESC, id DESC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, dbError(err, "query_alerts").Build()
	}
	return out, nil
}

// RTTsFor returns the samples recorded for msgID in arrival order.
func (j *Journal) RTTsFor(ctx context.Context, msgID string) ([]RTTRecord, error) {
	var out []RTTRecord
	err := j.db.WithContext(ctx).Where("msg_id = ?", msgID).Order("id").Find(&out).Error
	if err != nil {
		return nil, dbError(err, "query_rtt").Context("msg_id", msgID).Build()
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
