package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RowSnapshot is the last-known-good value set for one sheet row — the
// pivot of the three-way diff. It is only ever written after a confirmed
// CRM apply or an explicit manual resolution, never speculatively.
type RowSnapshot struct {
	ID           uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	SyncConfigID uuid.UUID      `json:"sync_config_id" gorm:"type:uuid;not null;uniqueIndex:idx_snapshot_config_row"`
	RowNumber    int            `json:"row_number" gorm:"not null;uniqueIndex:idx_snapshot_config_row"`
	EntityID     string         `json:"entity_id" gorm:"type:varchar(50);index"` // CRM entity the row mirrors
	Values       datatypes.JSON `json:"values" gorm:"type:jsonb"`                // canonical field -> last synced value
	SheetModAt   *time.Time     `json:"sheet_modified_at,omitempty"`
	CRMModAt     *time.Time     `json:"crm_modified_at,omitempty"`
	SyncStatus   SnapshotStatus `json:"sync_status" gorm:"type:varchar(20);not null;default:'synced';index"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (RowSnapshot) TableName() string {
	return "row_snapshots"
}

func (s *RowSnapshot) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// SyncLogEntry is one execution attempt for one row change. Append-only:
// rows are inserted, then only the status/error/finished fields move, and
// only along the transition table in status.go.
type SyncLogEntry struct {
	ID           uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	SyncConfigID uuid.UUID      `json:"sync_config_id" gorm:"type:uuid;not null;index"`
	RowNumber    int            `json:"row_number" gorm:"not null;index"`
	EntityID     string         `json:"entity_id" gorm:"type:varchar(50)"`
	Payload      datatypes.JSON `json:"payload" gorm:"type:jsonb"` // fields sent to the CRM
	Status       SyncStatus     `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	Error        string         `json:"error,omitempty" gorm:"type:text"`
	RetryCount   int            `json:"retry_count" gorm:"not null;default:0"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (SyncLogEntry) TableName() string {
	return "sync_log_entries"
}

func (e *SyncLogEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// ConflictRecord is a field where both sides diverged from the snapshot to
// different values (or a row-level deletion mismatch). Open records block
// auto-apply for their field; the snapshot row carries sync_status=conflict
// exactly while at least one open record exists.
type ConflictRecord struct {
	ID            uuid.UUID          `json:"id" gorm:"type:uuid;primaryKey"`
	SyncConfigID  uuid.UUID          `json:"sync_config_id" gorm:"type:uuid;not null;index"`
	RowNumber     int                `json:"row_number" gorm:"not null;index"`
	EntityID      string             `json:"entity_id" gorm:"type:varchar(50)"`
	CRMField      string             `json:"crm_field" gorm:"type:varchar(100)"`
	Type          ConflictType       `json:"type" gorm:"type:varchar(30);not null;default:'field_diverged'"`
	StoredValue   string             `json:"stored_value" gorm:"type:text"`
	SheetValue    string             `json:"sheet_value" gorm:"type:text"`
	CRMValue      string             `json:"crm_value" gorm:"type:text"`
	Suggested     ResolutionStrategy `json:"suggested_strategy" gorm:"type:varchar(20);not null;default:'manual'"`
	Resolved      bool               `json:"resolved" gorm:"not null;default:false;index"`
	ResolvedWith  ResolutionStrategy `json:"resolved_with,omitempty" gorm:"type:varchar(20)"`
	ResolvedValue string             `json:"resolved_value,omitempty" gorm:"type:text"`
	ResolvedBy    string             `json:"resolved_by,omitempty" gorm:"type:varchar(20)"` // automatic | manual
	ResolvedAt    *time.Time         `json:"resolved_at,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

func (ConflictRecord) TableName() string {
	return "conflict_records"
}

func (c *ConflictRecord) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// WebhookEvent is the raw inbound payload from the sheet side, kept for
// audit and replay. Processed flips once the event has been translated
// into changes and fed through a pass.
type WebhookEvent struct {
	ID           uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	SyncConfigID uuid.UUID      `json:"sync_config_id" gorm:"type:uuid;index"`
	Event        string         `json:"event" gorm:"type:varchar(50);not null"`
	RowNumber    int            `json:"row_number" gorm:"not null"`
	EntityID     string         `json:"entity_id" gorm:"type:varchar(50)"`
	Payload      datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	Processed    bool           `json:"processed" gorm:"not null;default:false;index"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}

func (w *WebhookEvent) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}
