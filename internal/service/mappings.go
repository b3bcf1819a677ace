// internal/service/mappings.go
package service

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"sheetsync-service/internal/mapping"
	"sheetsync-service/pkg/models"
)

// DetectMappings reads the sheet's header row, runs heuristic field
// resolution and persists the result. Columns a user already confirmed
// keep their manual mapping.
func (s *SyncService) DetectMappings(ctx context.Context, configID uuid.UUID) (*mapping.Resolution, error) {
	cfg, err := s.store.GetConfig(ctx, configID)
	if err != nil {
		return nil, fmt.Errorf("sync config not found: %w", err)
	}
	if s.sheets == nil {
		return nil, fmt.Errorf("sheets client not configured")
	}

	headers, _, err := s.sheets.ReadRange(ctx, cfg.SpreadsheetID, cfg.SheetRange)
	if err != nil {
		return nil, fmt.Errorf("failed to read header row: %w", err)
	}
	if len(headers) == 0 {
		return nil, fmt.Errorf("sheet %s has no header row", cfg.SpreadsheetID)
	}

	resolution := s.resolver.Detect(headers)

	detected := make([]models.FieldMapping, 0, len(resolution.Mappings))
	for _, cm := range resolution.Mappings {
		detected = append(detected, models.FieldMapping{
			SyncConfigID: configID,
			ColumnIndex:  cm.ColumnIndex,
			ColumnHeader: cm.Header,
			CRMField:     cm.CRMField,
			DataType:     cm.DataType,
			Editable:     cm.Editable,
			Mapped:       cm.Mapped,
		})
	}
	if err := s.store.SaveDetectedMappings(ctx, configID, detected); err != nil {
		return nil, err
	}

	log.Printf("🧭 [MAPPING] %s: %d/%d columns mapped (avg confidence %.2f)",
		cfg.Name, resolution.Summary.Mapped, resolution.Summary.Total, resolution.Summary.AvgConfidence)
	return &resolution, nil
}

// OverrideMapping pins a column to a field chosen by the user. Later
// auto-detection runs will not touch it.
func (s *SyncService) OverrideMapping(ctx context.Context, mappingID uuid.UUID, crmField string, dataType models.DataType, editable bool) (*models.FieldMapping, error) {
	if !dataType.Valid() {
		return nil, fmt.Errorf("unknown data type %q", dataType)
	}
	m, err := s.store.OverrideMapping(ctx, mappingID, crmField, dataType, editable)
	if err != nil {
		return nil, err
	}
	log.Printf("✏️ [MAPPING] Column %d (%s) pinned to %s", m.ColumnIndex, m.ColumnHeader, m.CRMField)
	return m, nil
}
