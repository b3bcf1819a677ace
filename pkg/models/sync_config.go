package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SyncConfig ties one spreadsheet range to one CRM entity type.
// Disabled configs keep their history; deletion is a status flip, never a
// hard delete while snapshots or log entries reference the config.
type SyncConfig struct {
	ID            uuid.UUID     `json:"id" gorm:"type:uuid;primaryKey"`
	Name          string        `json:"name" gorm:"type:varchar(100);not null"`
	SpreadsheetID string        `json:"spreadsheet_id" gorm:"type:varchar(100);not null"`
	SheetRange    string        `json:"sheet_range" gorm:"type:varchar(100);not null;default:'A:Z'"` // A1 notation, headers in first row
	EntityType    string        `json:"entity_type" gorm:"type:varchar(50);not null"`                // crm.lead / crm.deal / crm.contact / crm.company
	Direction     SyncDirection `json:"direction" gorm:"type:varchar(20);not null;default:'sheet_to_crm'"`
	PollInterval  int           `json:"poll_interval_seconds" gorm:"not null;default:300"`
	OwnerEmail    string        `json:"owner_email" gorm:"type:varchar(255)"` // conflict alerts go here
	Enabled       bool          `json:"enabled" gorm:"not null;default:true"`
	LastRunAt     *time.Time    `json:"last_run_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

func (SyncConfig) TableName() string {
	return "sync_configs"
}

func (c *SyncConfig) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// FieldMapping maps one sheet column to one canonical CRM field.
// Identity is (config, column index); once history references it the index
// never moves, corrections rewrite CRMField/DataType in place.
type FieldMapping struct {
	ID            uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	SyncConfigID  uuid.UUID `json:"sync_config_id" gorm:"type:uuid;not null;uniqueIndex:idx_mapping_config_col"`
	ColumnIndex   int       `json:"column_index" gorm:"not null;uniqueIndex:idx_mapping_config_col"`
	ColumnHeader  string    `json:"column_header" gorm:"type:varchar(255);not null"`
	CRMField      string    `json:"crm_field" gorm:"type:varchar(100)"` // canonical field, e.g. EMAIL, OPPORTUNITY
	DataType      DataType  `json:"data_type" gorm:"type:varchar(20);not null;default:'string'"`
	Editable      bool      `json:"editable" gorm:"not null;default:true"`
	Mapped        bool      `json:"mapped" gorm:"not null;default:false"`         // resolver found a canonical field
	UserConfirmed bool      `json:"user_confirmed" gorm:"not null;default:false"` // manual override, never auto-overwritten
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (FieldMapping) TableName() string {
	return "field_mappings"
}

func (m *FieldMapping) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
