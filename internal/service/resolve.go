// internal/service/resolve.go
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"sheetsync-service/internal/engine"
	"sheetsync-service/pkg/models"
)

// ResolveConflict applies an explicit strategy to one open conflict:
// the winning value is written to the losing side, the snapshot entry for
// that field is updated, and the record is closed. skip closes the record
// without touching either side.
func (s *SyncService) ResolveConflict(ctx context.Context, conflictID uuid.UUID, strategy models.ResolutionStrategy, customValue, actor string) (*models.ConflictRecord, error) {
	conflict, err := s.store.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, fmt.Errorf("conflict not found: %w", err)
	}
	if conflict.Resolved {
		return nil, fmt.Errorf("conflict %s is already resolved", conflictID)
	}

	cfg, err := s.store.GetConfig(ctx, conflict.SyncConfigID)
	if err != nil {
		return nil, fmt.Errorf("sync config not found: %w", err)
	}

	// Row-level deletion conflicts have no field to merge; the only
	// automatic way out is acknowledging them.
	if conflict.Type != models.ConflictFieldDiverged && strategy != models.ResolveSkip {
		return nil, fmt.Errorf("%s conflicts can only be skipped (manual cleanup required)", conflict.Type)
	}

	if strategy == models.ResolveUseNewer {
		strategy, err = s.pickNewerSide(ctx, conflict)
		if err != nil {
			return nil, err
		}
	}

	var resolvedValue string
	switch strategy {
	case models.ResolveSkip:
		// Leave both sides as they are.
	case models.ResolveUseLocal:
		resolvedValue = conflict.SheetValue
		if err := s.pushToCRM(ctx, cfg, conflict, resolvedValue); err != nil {
			return nil, err
		}
	case models.ResolveUseRemote:
		resolvedValue = conflict.CRMValue
		if err := s.pushToSheet(ctx, cfg, conflict, resolvedValue); err != nil {
			return nil, err
		}
	case models.ResolveCustom:
		resolvedValue = customValue
		if err := s.pushToCRM(ctx, cfg, conflict, resolvedValue); err != nil {
			return nil, err
		}
		if err := s.pushToSheet(ctx, cfg, conflict, resolvedValue); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported resolution strategy %q", strategy)
	}

	if err := s.store.MarkConflictResolved(ctx, conflictID, strategy, resolvedValue, actor); err != nil {
		return nil, err
	}

	if strategy != models.ResolveSkip && conflict.CRMField != "" {
		err := s.store.UpdateSnapshotFields(ctx, conflict.SyncConfigID, conflict.RowNumber, conflict.EntityID,
			map[string]string{conflict.CRMField: resolvedValue})
		if err != nil {
			return nil, err
		}
	}

	log.Printf("🤝 [RESOLVE] Conflict %s on row %d (%s) resolved via %s by %s",
		conflictID, conflict.RowNumber, conflict.CRMField, strategy, actor)
	return s.store.GetConflict(ctx, conflictID)
}

// pickNewerSide turns use_newer into a concrete side using the snapshot's
// per-side modification timestamps.
func (s *SyncService) pickNewerSide(ctx context.Context, conflict *models.ConflictRecord) (models.ResolutionStrategy, error) {
	snap, err := s.store.GetSnapshot(ctx, conflict.SyncConfigID, conflict.RowNumber)
	if err != nil {
		return "", fmt.Errorf("use_newer needs a snapshot with timestamps: %w", err)
	}
	if snap.CRMModAt != nil && (snap.SheetModAt == nil || snap.CRMModAt.After(*snap.SheetModAt)) {
		return models.ResolveUseRemote, nil
	}
	return models.ResolveUseLocal, nil
}

func (s *SyncService) pushToCRM(ctx context.Context, cfg *models.SyncConfig, conflict *models.ConflictRecord, value string) error {
	m, err := s.mappingForField(ctx, cfg.ID, conflict.CRMField)
	if err != nil {
		return err
	}
	converted, err := engine.Convert(m.DataType, value)
	if err != nil {
		return fmt.Errorf("resolved value rejected by %s converter: %w", m.DataType, err)
	}
	return s.crm.UpdateEntity(ctx, cfg.EntityType, conflict.EntityID, map[string]interface{}{
		conflict.CRMField: converted,
	})
}

func (s *SyncService) pushToSheet(ctx context.Context, cfg *models.SyncConfig, conflict *models.ConflictRecord, value string) error {
	if s.sheets == nil {
		return fmt.Errorf("sheets client not configured")
	}
	m, err := s.mappingForField(ctx, cfg.ID, conflict.CRMField)
	if err != nil {
		return err
	}
	return s.sheets.UpdateCell(ctx, cfg.SpreadsheetID, cfg.SheetRange, conflict.RowNumber, m.ColumnIndex, value)
}

func (s *SyncService) mappingForField(ctx context.Context, configID uuid.UUID, crmField string) (*models.FieldMapping, error) {
	mappings, err := s.store.MappingsFor(ctx, configID)
	if err != nil {
		return nil, err
	}
	for i := range mappings {
		if mappings[i].CRMField == crmField && mappings[i].Mapped {
			return &mappings[i], nil
		}
	}
	return nil, fmt.Errorf("field mapping for %s not found", crmField)
}

// RowResolution is the per-field accounting of a row-level resolution.
type RowResolution struct {
	Resolved int      `json:"resolved"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

// ResolveRow applies one strategy to every open conflict of a row.
// A field that refuses the strategy is reported, not fatal.
func (s *SyncService) ResolveRow(ctx context.Context, configID uuid.UUID, rowNumber int, strategy models.ResolutionStrategy, customValue, actor string) (*RowResolution, error) {
	conflicts, err := s.store.OpenConflictsForRow(ctx, configID, rowNumber)
	if err != nil {
		return nil, err
	}
	if len(conflicts) == 0 {
		return nil, fmt.Errorf("no open conflicts for row %d", rowNumber)
	}

	res := &RowResolution{}
	for _, c := range conflicts {
		if _, err := s.ResolveConflict(ctx, c.ID, strategy, customValue, actor); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", c.CRMField, err))
			continue
		}
		res.Resolved++
	}
	return res, nil
}

// RetryLog re-runs one failed log entry, bounded by the retry budget.
// The entry walks failed → retrying → syncing and then the normal
// completed/failed path.
func (s *SyncService) RetryLog(ctx context.Context, logID uuid.UUID) (*engine.BatchResult, error) {
	entry, err := s.store.GetLog(ctx, logID)
	if err != nil {
		return nil, fmt.Errorf("log entry not found: %w", err)
	}
	if entry.Status != models.SyncStatusFailed {
		return nil, fmt.Errorf("log entry %s is %s, only failed entries can be retried", logID, entry.Status)
	}
	if entry.RetryCount >= s.maxRetries {
		return nil, fmt.Errorf("log entry %s exhausted its %d retries", logID, s.maxRetries)
	}

	cfg, err := s.store.GetConfig(ctx, entry.SyncConfigID)
	if err != nil {
		return nil, err
	}

	item, err := s.reviveEntry(ctx, entry)
	if err != nil {
		return nil, err
	}

	result := s.executor.Execute(ctx, []engine.BatchItem{*item}, s.makeApply(cfg))
	return &result, nil
}

// RetryAllFailed sweeps a config's retry-eligible failures into one batch.
func (s *SyncService) RetryAllFailed(ctx context.Context, configID uuid.UUID) (*engine.BatchResult, error) {
	cfg, err := s.store.GetConfig(ctx, configID)
	if err != nil {
		return nil, fmt.Errorf("sync config not found: %w", err)
	}

	entries, err := s.store.FailedLogs(ctx, configID, s.maxRetries)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return &engine.BatchResult{StartedAt: time.Now(), FinishedAt: time.Now()}, nil
	}

	var items []engine.BatchItem
	for i := range entries {
		item, err := s.reviveEntry(ctx, &entries[i])
		if err != nil {
			log.Printf("⚠️ [RETRY] Skipping log %s: %v", entries[i].ID, err)
			continue
		}
		items = append(items, *item)
	}

	log.Printf("🔁 [RETRY] Re-running %d failed rows for %s", len(items), cfg.Name)
	result := s.executor.Execute(ctx, items, s.makeApply(cfg))
	return &result, nil
}

// reviveEntry moves a failed entry to retrying and rebuilds its payload.
func (s *SyncService) reviveEntry(ctx context.Context, entry *models.SyncLogEntry) (*engine.BatchItem, error) {
	var payload engine.UpdatePayload
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		return nil, fmt.Errorf("log entry %s has no replayable payload: %w", entry.ID, err)
	}
	if err := s.store.TransitionLog(ctx, entry.ID, models.SyncStatusRetrying, ""); err != nil {
		return nil, err
	}
	return &engine.BatchItem{LogID: entry.ID, Payload: payload}, nil
}
