package models

import "time"

// SystemSettingsRowID is the fixed primary key of the single settings row.
const SystemSettingsRowID = 1

// SystemSettings holds the branding shown on every screen.
type SystemSettings struct {
	ID            int       `gorm:"column:id;primaryKey"`
	SystemName    string    `gorm:"column:system_name;not null"`
	SystemLogoURL *string   `gorm:"column:system_logo_url"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (SystemSettings) TableName() string {
	return "system_settings"
}
