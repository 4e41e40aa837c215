package models

import "time"

// Setting stores one persisted value of the key/value layout (auth, api-key, cached-domains, ...).
type Setting struct {
	Key       string `gorm:"primaryKey"`
	Value     string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
