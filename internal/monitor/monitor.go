// Package monitor records upstream mail API calls for the control API.
package monitor

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/tempmail-nexus/internal/db/models"
	"github.com/pysugar/tempmail-nexus/internal/logging"
	"github.com/pysugar/tempmail-nexus/internal/upstream"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	// MaxMemoryLogs limits the in-memory log cache
	MaxMemoryLogs = 100
	maxErrorSize  = 2048
)

// CallMonitor keeps the most recent calls in memory and persists every call
// to the request_logs table when a database is attached.
type CallMonitor struct {
	db      *gorm.DB
	log     logrus.FieldLogger
	enabled atomic.Bool

	recentLogs []models.RequestLog
	logsMu     sync.RWMutex

	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64

	pending sync.WaitGroup
}

var _ upstream.Observer = (*CallMonitor)(nil)

// New creates an enabled monitor. db may be nil for memory-only use.
func New(db *gorm.DB, log logrus.FieldLogger) *CallMonitor {
	m := &CallMonitor{
		db:         db,
		log:        logging.OrDiscard(log),
		recentLogs: make([]models.RequestLog, 0, MaxMemoryLogs),
	}
	m.enabled.Store(true)
	if db != nil {
		m.loadStatsFromDB()
	}
	return m
}

// SetEnabled enables or disables call logging
func (m *CallMonitor) SetEnabled(enabled bool) {
	m.enabled.Store(enabled)
	m.log.Infof("📊 Call logging %s", map[bool]string{true: "enabled", false: "disabled"}[enabled])
}

func (m *CallMonitor) IsEnabled() bool {
	return m.enabled.Load()
}

// ObserveCall implements upstream.Observer. The database write is async.
func (m *CallMonitor) ObserveCall(rec upstream.CallRecord) {
	if !m.IsEnabled() {
		return
	}

	entry := models.RequestLog{
		ID:        uuid.New().String(),
		RequestID: rec.RequestID,
		Timestamp: rec.Timestamp.UnixMilli(),
		Method:    rec.Method,
		URL:       rec.URL,
		Status:    rec.Status,
		Duration:  rec.Duration.Milliseconds(),
		Attempts:  rec.Attempts,
		Provider:  rec.Provider,
	}
	if rec.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UnixMilli()
	}
	if rec.Err != nil {
		entry.Error = rec.Err.Error()
		if len(entry.Error) > maxErrorSize {
			entry.Error = entry.Error[:maxErrorSize] + "...[truncated]"
		}
		var ue *upstream.Error
		if entry.Status == 0 && errors.As(rec.Err, &ue) {
			entry.Status = ue.Status
		}
	}

	m.totalRequests.Add(1)
	if entry.Error == "" && entry.Status >= 200 && entry.Status < 400 {
		m.successCount.Add(1)
	} else {
		m.errorCount.Add(1)
	}

	m.logsMu.Lock()
	m.recentLogs = append([]models.RequestLog{entry}, m.recentLogs...)
	if len(m.recentLogs) > MaxMemoryLogs {
		m.recentLogs = m.recentLogs[:MaxMemoryLogs]
	}
	m.logsMu.Unlock()

	if m.db == nil {
		return
	}
	m.pending.Add(1)
	go func(entry models.RequestLog) {
		defer m.pending.Done()
		if err := m.db.Create(&entry).Error; err != nil {
			m.log.WithError(err).Warn("⚠️ Failed to save call log")
		}
	}(entry)
}

// Recent returns up to limit calls from memory, newest first.
func (m *CallMonitor) Recent(limit int) []models.RequestLog {
	m.logsMu.RLock()
	defer m.logsMu.RUnlock()
	if limit <= 0 || limit > len(m.recentLogs) {
		limit = len(m.recentLogs)
	}
	out := make([]models.RequestLog, limit)
	copy(out, m.recentLogs[:limit])
	return out
}

// GetLogs returns persisted calls, newest first, optionally restricted to the
// last sinceMinutes. Falls back to memory without a database.
func (m *CallMonitor) GetLogs(limit int, sinceMinutes int) []models.RequestLog {
	if limit <= 0 {
		limit = MaxMemoryLogs
	}
	if m.db == nil {
		return m.Recent(limit)
	}

	var logs []models.RequestLog
	query := m.db.Order("timestamp DESC").Limit(limit)
	if sinceMinutes > 0 {
		since := time.Now().Add(-time.Duration(sinceMinutes) * time.Minute).UnixMilli()
		query = query.Where("timestamp >= ?", since)
	}
	if err := query.Find(&logs).Error; err != nil {
		m.log.WithError(err).Warn("⚠️ Failed to read call logs, using memory")
		return m.Recent(limit)
	}
	return logs
}

// GetStats returns aggregated call statistics
func (m *CallMonitor) GetStats() models.RequestStats {
	return models.RequestStats{
		TotalRequests: m.totalRequests.Load(),
		SuccessCount:  m.successCount.Load(),
		ErrorCount:    m.errorCount.Load(),
	}
}

// Clear removes all logs from memory and the database.
func (m *CallMonitor) Clear() error {
	m.Flush()

	m.logsMu.Lock()
	m.recentLogs = m.recentLogs[:0]
	m.logsMu.Unlock()

	m.totalRequests.Store(0)
	m.successCount.Store(0)
	m.errorCount.Store(0)

	if m.db == nil {
		return nil
	}
	if err := m.db.Where("1 = 1").Delete(&models.RequestLog{}).Error; err != nil {
		m.log.WithError(err).Error("❌ Failed to clear call logs")
		return err
	}
	m.log.Info("🧹 Call logs cleared")
	return nil
}

// Flush waits for pending database writes.
func (m *CallMonitor) Flush() {
	m.pending.Wait()
}

func (m *CallMonitor) loadStatsFromDB() {
	var total, success int64
	m.db.Model(&models.RequestLog{}).Count(&total)
	m.db.Model(&models.RequestLog{}).
		Where("status >= 200 AND status < 400 AND (error IS NULL OR error = '')").
		Count(&success)

	m.totalRequests.Store(total)
	m.successCount.Store(success)
	m.errorCount.Store(total - success)

	m.log.WithFields(logrus.Fields{"total": total, "success": success}).Debug("📊 Loaded call stats")
}
