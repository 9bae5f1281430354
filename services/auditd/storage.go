// Package auditd persists the ledger's escrow event stream into a relational
// history that survives node restarts and supports per-escrow queries.
package auditd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"escrowchain/gateway"
)

// EventRecord is one audited ledger event.
type EventRecord struct {
	ID         uint   `gorm:"primaryKey"`
	Sequence   int64  `gorm:"uniqueIndex;not null"`
	Type       string `gorm:"size:64;index"`
	EscrowID   uint64 `gorm:"index"`
	Attributes string `gorm:"type:text"`
	ObservedAt time.Time
}

// Store wraps the audit database.
type Store struct {
	db *gorm.DB
}

// Open initialises (and migrates) the sqlite-backed audit store.
func Open(path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, errors.New("audit database path must be configured")
	}
	db, err := gorm.Open(sqlite.Open(trimmed), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("migrate audit database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordEvents appends node events, skipping sequences already stored.
func (s *Store) RecordEvents(events []gateway.NodeEvent) error {
	for _, evt := range events {
		attrs, err := json.Marshal(evt.Event.Attributes)
		if err != nil {
			return fmt.Errorf("encode attributes: %w", err)
		}
		record := EventRecord{
			Sequence:   evt.Sequence,
			Type:       evt.Event.Type,
			EscrowID:   escrowIDFromAttributes(evt.Event.Attributes),
			Attributes: string(attrs),
			ObservedAt: time.Now().UTC(),
		}
		result := s.db.Where("sequence = ?", evt.Sequence).FirstOrCreate(&record)
		if result.Error != nil {
			return fmt.Errorf("insert event %d: %w", evt.Sequence, result.Error)
		}
	}
	return nil
}

// LatestSequence returns the highest stored sequence, zero when empty.
func (s *Store) LatestSequence() (int64, error) {
	var record EventRecord
	err := s.db.Order("sequence DESC").First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return record.Sequence, nil
}

// EventsByEscrow lists audited events for one escrow in sequence order.
func (s *Store) EventsByEscrow(escrowID uint64) ([]EventRecord, error) {
	var records []EventRecord
	err := s.db.Where("escrow_id = ?", escrowID).Order("sequence ASC").Find(&records).Error
	return records, err
}

// EventsByType lists audited events of one type in sequence order.
func (s *Store) EventsByType(eventType string) ([]EventRecord, error) {
	var records []EventRecord
	err := s.db.Where("type = ?", eventType).Order("sequence ASC").Find(&records).Error
	return records, err
}

func escrowIDFromAttributes(attrs map[string]string) uint64 {
	raw, ok := attrs["id"]
	if !ok {
		return 0
	}
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
