// internal/store/store.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"sheetsync-service/pkg/models"
)

// ErrInvalidTransition is returned when a log entry is asked to move
// against the status transition table.
var ErrInvalidTransition = errors.New("invalid sync status transition")

// Store is the snapshot store: every durable read/write of configs,
// mappings, snapshots, log entries, conflicts and webhook events goes
// through here.
type Store struct {
	db *gorm.DB
}

func New(database *gorm.DB) *Store {
	return &Store{db: database}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

// --- Sync configs ---

func (s *Store) CreateConfig(ctx context.Context, cfg *models.SyncConfig) error {
	return s.db.WithContext(ctx).Create(cfg).Error
}

func (s *Store) GetConfig(ctx context.Context, id uuid.UUID) (*models.SyncConfig, error) {
	var cfg models.SyncConfig
	if err := s.db.WithContext(ctx).First(&cfg, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Store) ListConfigs(ctx context.Context) ([]models.SyncConfig, error) {
	var configs []models.SyncConfig
	err := s.db.WithContext(ctx).Order("created_at ASC").Find(&configs).Error
	return configs, err
}

func (s *Store) EnabledConfigs(ctx context.Context) ([]models.SyncConfig, error) {
	var configs []models.SyncConfig
	err := s.db.WithContext(ctx).Where("enabled = ?", true).Find(&configs).Error
	return configs, err
}

func (s *Store) SetConfigEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	return s.db.WithContext(ctx).Model(&models.SyncConfig{}).
		Where("id = ?", id).
		Update("enabled", enabled).Error
}

// DisableConfig soft-deletes: the config keeps its snapshots and history.
func (s *Store) DisableConfig(ctx context.Context, id uuid.UUID) error {
	return s.SetConfigEnabled(ctx, id, false)
}

func (s *Store) TouchConfigRun(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.SyncConfig{}).
		Where("id = ?", id).
		Update("last_run_at", at).Error
}

// --- Field mappings ---

func (s *Store) MappingsFor(ctx context.Context, configID uuid.UUID) ([]models.FieldMapping, error) {
	var mappings []models.FieldMapping
	err := s.db.WithContext(ctx).
		Where("sync_config_id = ?", configID).
		Order("column_index ASC").
		Find(&mappings).Error
	return mappings, err
}

func (s *Store) GetMapping(ctx context.Context, id uuid.UUID) (*models.FieldMapping, error) {
	var m models.FieldMapping
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// SaveDetectedMappings persists an auto-detection run. A column the user
// already confirmed is never overwritten by detection.
func (s *Store) SaveDetectedMappings(ctx context.Context, configID uuid.UUID, detected []models.FieldMapping) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range detected {
			d := &detected[i]
			d.SyncConfigID = configID

			var existing models.FieldMapping
			err := tx.Where("sync_config_id = ? AND column_index = ?", configID, d.ColumnIndex).
				First(&existing).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				if err := tx.Create(d).Error; err != nil {
					return err
				}
			case err != nil:
				return err
			case existing.UserConfirmed:
				log.Printf("🔒 [MAPPING] Column %d is user-confirmed, keeping %s", d.ColumnIndex, existing.CRMField)
			default:
				existing.ColumnHeader = d.ColumnHeader
				existing.CRMField = d.CRMField
				existing.DataType = d.DataType
				existing.Editable = d.Editable
				existing.Mapped = d.Mapped
				if err := tx.Save(&existing).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// OverrideMapping applies a manual correction and marks it confirmed.
func (s *Store) OverrideMapping(ctx context.Context, id uuid.UUID, crmField string, dataType models.DataType, editable bool) (*models.FieldMapping, error) {
	var m models.FieldMapping
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	m.CRMField = crmField
	m.DataType = dataType
	m.Editable = editable
	m.Mapped = crmField != ""
	m.UserConfirmed = true
	if err := s.db.WithContext(ctx).Save(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// --- Row snapshots ---

func (s *Store) SnapshotsFor(ctx context.Context, configID uuid.UUID) (map[int]*models.RowSnapshot, error) {
	var snaps []models.RowSnapshot
	if err := s.db.WithContext(ctx).Where("sync_config_id = ?", configID).Find(&snaps).Error; err != nil {
		return nil, err
	}
	byRow := make(map[int]*models.RowSnapshot, len(snaps))
	for i := range snaps {
		byRow[snaps[i].RowNumber] = &snaps[i]
	}
	return byRow, nil
}

func (s *Store) GetSnapshot(ctx context.Context, configID uuid.UUID, rowNumber int) (*models.RowSnapshot, error) {
	var snap models.RowSnapshot
	err := s.db.WithContext(ctx).
		Where("sync_config_id = ? AND row_number = ?", configID, rowNumber).
		First(&snap).Error
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// mergeSnapshotValues folds applied fields into a snapshot's value blob.
func mergeSnapshotValues(existing datatypes.JSON, applied map[string]string) (datatypes.JSON, error) {
	values := map[string]string{}
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &values); err != nil {
			return nil, fmt.Errorf("decode snapshot values: %w", err)
		}
	}
	for k, v := range applied {
		values[k] = v
	}
	return json.Marshal(values)
}

// upsertSnapshot merges fields into the (config, row) snapshot inside tx,
// creating it when missing. Exactly one live snapshot per (config, row).
func upsertSnapshot(tx *gorm.DB, configID uuid.UUID, rowNumber int, entityID string, fields map[string]string, status models.SnapshotStatus) error {
	var snap models.RowSnapshot
	err := tx.Where("sync_config_id = ? AND row_number = ?", configID, rowNumber).First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		values, mErr := json.Marshal(fields)
		if mErr != nil {
			return mErr
		}
		now := time.Now()
		return tx.Create(&models.RowSnapshot{
			SyncConfigID: configID,
			RowNumber:    rowNumber,
			EntityID:     entityID,
			Values:       values,
			SheetModAt:   &now,
			SyncStatus:   status,
		}).Error
	}
	if err != nil {
		return err
	}

	merged, err := mergeSnapshotValues(snap.Values, fields)
	if err != nil {
		return err
	}
	now := time.Now()
	snap.Values = merged
	snap.SheetModAt = &now
	snap.SyncStatus = status
	if entityID != "" {
		snap.EntityID = entityID
	}
	return tx.Save(&snap).Error
}

// UpdateSnapshotFields records already-agreed values (convergent changes,
// sheet write-backs, manual resolutions) without an apply cycle.
func (s *Store) UpdateSnapshotFields(ctx context.Context, configID uuid.UUID, rowNumber int, entityID string, fields map[string]string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertSnapshot(tx, configID, rowNumber, entityID, fields, models.SnapshotStatusSynced); err != nil {
			return err
		}
		return recomputeSnapshotStatus(tx, configID, rowNumber)
	})
}

// --- Sync log entries ---

func (s *Store) CreateLogEntry(ctx context.Context, entry *models.SyncLogEntry) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *Store) GetLog(ctx context.Context, id uuid.UUID) (*models.SyncLogEntry, error) {
	var entry models.SyncLogEntry
	if err := s.db.WithContext(ctx).First(&entry, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) LogsByStatus(ctx context.Context, configID uuid.UUID, status models.SyncStatus, limit, offset int) ([]models.SyncLogEntry, error) {
	q := s.db.WithContext(ctx).Where("sync_config_id = ?", configID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var entries []models.SyncLogEntry
	err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&entries).Error
	return entries, err
}

// FailedLogs returns entries eligible for retry under the bounded-retry
// policy: status failed and fewer than maxRetries attempts.
func (s *Store) FailedLogs(ctx context.Context, configID uuid.UUID, maxRetries int) ([]models.SyncLogEntry, error) {
	var entries []models.SyncLogEntry
	err := s.db.WithContext(ctx).
		Where("sync_config_id = ? AND status = ? AND retry_count < ?", configID, models.SyncStatusFailed, maxRetries).
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}

// TransitionLog moves a log entry along the status table; an illegal move
// is rejected with ErrInvalidTransition.
func (s *Store) TransitionLog(ctx context.Context, id uuid.UUID, to models.SyncStatus, errMsg string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return transitionLog(tx, id, to, errMsg)
	})
}

func transitionLog(tx *gorm.DB, id uuid.UUID, to models.SyncStatus, errMsg string) error {
	var entry models.SyncLogEntry
	if err := tx.First(&entry, "id = ?", id).Error; err != nil {
		return err
	}
	if !entry.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, entry.Status, to)
	}

	entry.Status = to
	entry.Error = errMsg
	switch to {
	case models.SyncStatusCompleted, models.SyncStatusFailed:
		now := time.Now()
		entry.FinishedAt = &now
	case models.SyncStatusRetrying:
		entry.RetryCount++
	}
	return tx.Save(&entry).Error
}

// CommitRowSuccess is the single success path: log → completed and the
// snapshot absorbs the applied values, in one transaction. Failed rows
// never reach here, which is what keeps their snapshots untouched.
func (s *Store) CommitRowSuccess(ctx context.Context, logID, configID uuid.UUID, rowNumber int, entityID string, applied map[string]string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := transitionLog(tx, logID, models.SyncStatusCompleted, ""); err != nil {
			return err
		}
		if err := upsertSnapshot(tx, configID, rowNumber, entityID, applied, models.SnapshotStatusSynced); err != nil {
			return err
		}
		return recomputeSnapshotStatus(tx, configID, rowNumber)
	})
}

// --- Conflicts ---

// SaveConflicts persists newly detected conflicts, skipping ones already
// open for the same (row, field, type), and flips the affected snapshots
// to conflict status. Returns the records actually created.
func (s *Store) SaveConflicts(ctx context.Context, configID uuid.UUID, conflicts []models.ConflictRecord) ([]models.ConflictRecord, error) {
	var created []models.ConflictRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range conflicts {
			c := conflicts[i]
			c.SyncConfigID = configID

			var count int64
			if err := tx.Model(&models.ConflictRecord{}).
				Where("sync_config_id = ? AND row_number = ? AND crm_field = ? AND type = ? AND resolved = ?",
					configID, c.RowNumber, c.CRMField, c.Type, false).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}

			if err := tx.Create(&c).Error; err != nil {
				return err
			}
			created = append(created, c)

			if err := tx.Model(&models.RowSnapshot{}).
				Where("sync_config_id = ? AND row_number = ?", configID, c.RowNumber).
				Update("sync_status", models.SnapshotStatusConflict).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return created, err
}

func (s *Store) GetConflict(ctx context.Context, id uuid.UUID) (*models.ConflictRecord, error) {
	var c models.ConflictRecord
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListConflicts(ctx context.Context, configID uuid.UUID, resolved *bool) ([]models.ConflictRecord, error) {
	q := s.db.WithContext(ctx).Where("sync_config_id = ?", configID)
	if resolved != nil {
		q = q.Where("resolved = ?", *resolved)
	}
	var conflicts []models.ConflictRecord
	err := q.Order("created_at ASC").Find(&conflicts).Error
	return conflicts, err
}

func (s *Store) OpenConflictsForRow(ctx context.Context, configID uuid.UUID, rowNumber int) ([]models.ConflictRecord, error) {
	var conflicts []models.ConflictRecord
	err := s.db.WithContext(ctx).
		Where("sync_config_id = ? AND row_number = ? AND resolved = ?", configID, rowNumber, false).
		Find(&conflicts).Error
	return conflicts, err
}

// MarkConflictResolved closes a conflict and re-derives the snapshot
// status so the invariant holds: conflict status iff open records exist.
func (s *Store) MarkConflictResolved(ctx context.Context, id uuid.UUID, strategy models.ResolutionStrategy, value, actor string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c models.ConflictRecord
		if err := tx.First(&c, "id = ?", id).Error; err != nil {
			return err
		}
		now := time.Now()
		c.Resolved = true
		c.ResolvedWith = strategy
		c.ResolvedValue = value
		c.ResolvedBy = actor
		c.ResolvedAt = &now
		if err := tx.Save(&c).Error; err != nil {
			return err
		}
		return recomputeSnapshotStatus(tx, c.SyncConfigID, c.RowNumber)
	})
}

// recomputeSnapshotStatus enforces the invariant that a snapshot carries
// conflict status exactly while an unresolved conflict exists for it.
func recomputeSnapshotStatus(tx *gorm.DB, configID uuid.UUID, rowNumber int) error {
	var open int64
	if err := tx.Model(&models.ConflictRecord{}).
		Where("sync_config_id = ? AND row_number = ? AND resolved = ?", configID, rowNumber, false).
		Count(&open).Error; err != nil {
		return err
	}

	status := models.SnapshotStatusSynced
	if open > 0 {
		status = models.SnapshotStatusConflict
	}
	return tx.Model(&models.RowSnapshot{}).
		Where("sync_config_id = ? AND row_number = ?", configID, rowNumber).
		Update("sync_status", status).Error
}

// --- Webhook events ---

func (s *Store) SaveWebhookEvent(ctx context.Context, event *models.WebhookEvent) error {
	return s.db.WithContext(ctx).Create(event).Error
}

func (s *Store) MarkEventProcessed(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Update("processed", true).Error
}
