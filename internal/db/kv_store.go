package db

import (
	"context"
	"errors"

	"github.com/pysugar/tempmail-nexus/internal/db/models"
	"github.com/pysugar/tempmail-nexus/internal/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KVStore implements storage.Store on the settings table.
type KVStore struct {
	db *gorm.DB
}

// NewKVStore wraps an initialized database.
func NewKVStore(db *gorm.DB) *KVStore {
	return &KVStore{db: db}
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	var setting models.Setting
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(setting.Value), nil
}

func (s *KVStore) Put(ctx context.Context, key string, value []byte) error {
	setting := models.Setting{Key: key, Value: string(value)}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&setting).Error
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("key = ?", key).Delete(&models.Setting{}).Error
}
