// internal/service/webhook.go
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"sheetsync-service/internal/engine"
	"sheetsync-service/pkg/models"
)

// WebhookPayload is the inbound row-edit event from the sheet side.
// old_values/new_values are keyed by column index (JSON object keys, so
// strings on the wire).
type WebhookPayload struct {
	Event     string                 `json:"event"`
	RowID     int                    `json:"row_id"`
	EntityID  string                 `json:"entity_id"`
	OldValues map[string]interface{} `json:"old_values"`
	NewValues map[string]interface{} `json:"new_values"`
}

// Validate enforces the required envelope fields.
func (p WebhookPayload) Validate() error {
	if p.Event == "" {
		return fmt.Errorf("webhook payload missing 'event'")
	}
	if p.RowID <= 0 {
		return fmt.Errorf("webhook payload missing 'row_id'")
	}
	if len(p.NewValues) == 0 {
		return fmt.Errorf("webhook payload missing 'new_values'")
	}
	return nil
}

// FieldChange is a translated cell edit in canonical terms.
type FieldChange struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// TranslateWebhook maps column-index keyed values onto canonical fields
// using the accepted mappings. Unmapped columns are ignored.
func TranslateWebhook(p WebhookPayload, mappings []models.FieldMapping) map[string]FieldChange {
	byIndex := make(map[int]models.FieldMapping, len(mappings))
	for _, m := range mappings {
		if m.Mapped && m.CRMField != "" {
			byIndex[m.ColumnIndex] = m
		}
	}

	changes := map[string]FieldChange{}
	for key, newVal := range p.NewValues {
		idx, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		m, ok := byIndex[idx]
		if !ok {
			continue
		}
		changes[m.CRMField] = FieldChange{
			Old: engine.Normalize(p.OldValues[key]),
			New: engine.Normalize(newVal),
		}
	}
	return changes
}

// WebhookOutcome is what the handler reports back to the sheet side.
type WebhookOutcome struct {
	EventID uuid.UUID              `json:"event_id"`
	Changes map[string]FieldChange `json:"changes"`
	Result  *engine.BatchResult    `json:"result,omitempty"`
}

// HandleWebhook persists the raw event, translates it, and runs the
// reconciliation pipeline for just the edited row. The snapshot — not the
// webhook's old_values — is the diff baseline; the event's old values
// are audit data only.
func (s *SyncService) HandleWebhook(ctx context.Context, configID uuid.UUID, payload WebhookPayload) (*WebhookOutcome, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	cfg, err := s.store.GetConfig(ctx, configID)
	if err != nil {
		return nil, fmt.Errorf("sync config not found: %w", err)
	}

	mappings, err := s.store.MappingsFor(ctx, configID)
	if err != nil {
		return nil, err
	}

	raw, _ := json.Marshal(payload)
	event := &models.WebhookEvent{
		SyncConfigID: configID,
		Event:        payload.Event,
		RowNumber:    payload.RowID,
		EntityID:     payload.EntityID,
		Payload:      raw,
	}
	if err := s.store.SaveWebhookEvent(ctx, event); err != nil {
		return nil, err
	}

	changes := TranslateWebhook(payload, mappings)
	outcome := &WebhookOutcome{EventID: event.ID, Changes: changes}
	if len(changes) == 0 {
		log.Printf("ℹ️ [WEBHOOK] Event %s: no mapped columns touched", event.ID)
		if err := s.store.MarkEventProcessed(ctx, event.ID); err != nil {
			log.Printf("⚠️ [WEBHOOK] Could not mark event processed: %v", err)
		}
		return outcome, nil
	}

	rc, err := s.rowChangeFromWebhook(ctx, cfg, payload, changes, mappings)
	if err != nil {
		return nil, err
	}

	if len(rc.Changes()) == 0 {
		// The edit matches the snapshot already (echo of our own
		// write-back, or a revert). Nothing to reconcile.
		log.Printf("ℹ️ [WEBHOOK] Event %s: row %d already in sync", event.ID, payload.RowID)
	} else {
		// Same in-flight lock as a scheduled pass. The event stays
		// unprocessed on contention; the running pass or a replay
		// picks the row up.
		if !s.tryAcquire(configID) {
			return nil, fmt.Errorf("sync pass already running for config %s", configID)
		}
		outcome.Result = s.reconcile(ctx, cfg, []engine.RowChange{rc})
		s.release(configID)
	}

	if err := s.store.MarkEventProcessed(ctx, event.ID); err != nil {
		log.Printf("⚠️ [WEBHOOK] Could not mark event processed: %v", err)
	}
	return outcome, nil
}

// rowChangeFromWebhook rebuilds a detector-shaped RowChange from an event,
// diffing the event's new values against the stored snapshot.
func (s *SyncService) rowChangeFromWebhook(ctx context.Context, cfg *models.SyncConfig, payload WebhookPayload, changes map[string]FieldChange, mappings []models.FieldMapping) (engine.RowChange, error) {
	rc := engine.RowChange{
		RowNumber: payload.RowID,
		EntityID:  payload.EntityID,
		Type:      models.ChangeModified,
	}

	stored := map[string]string{}
	snap, err := s.store.GetSnapshot(ctx, cfg.ID, payload.RowID)
	switch {
	case err == nil:
		if rc.EntityID == "" {
			rc.EntityID = snap.EntityID
		}
		if len(snap.Values) > 0 {
			if err := json.Unmarshal(snap.Values, &stored); err != nil {
				return rc, fmt.Errorf("decode snapshot for row %d: %w", payload.RowID, err)
			}
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		rc.Type = models.ChangeAdded
	default:
		return rc, err
	}

	for _, m := range mappings {
		if !m.Mapped || m.CRMField == "" {
			continue
		}
		change, touched := changes[m.CRMField]
		cell := engine.ChangeRecord{
			RowNumber:   payload.RowID,
			ColumnIndex: m.ColumnIndex,
			CRMField:    m.CRMField,
			DataType:    m.DataType,
			Editable:    m.Editable,
			OldValue:    stored[m.CRMField],
			Type:        models.ChangeUnchanged,
		}
		if touched {
			cell.NewValue = change.New
		} else {
			// Untouched columns keep their snapshot value so the
			// conflict stage can still spot remote-only drift.
			cell.NewValue = stored[m.CRMField]
		}
		if cell.NewValue != cell.OldValue {
			cell.Type = models.ChangeModified
		}
		rc.Cells = append(rc.Cells, cell)
	}
	return rc, nil
}
