// internal/engine/conflict.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"sheetsync-service/pkg/models"
)

// ErrEntityNotFound is returned by a CRMClient when the remote entity no
// longer exists. The conflict stage turns it into a deleted-in-crm record
// instead of a hard failure.
var ErrEntityNotFound = errors.New("entity not found")

// FieldMeta is the remote system's own description of one field.
type FieldMeta struct {
	Type      string
	ReadOnly  bool
	Immutable bool
	Computed  bool
}

// Sendable reports whether the remote side accepts writes to this field.
func (m FieldMeta) Sendable() bool {
	return !m.ReadOnly && !m.Immutable && !m.Computed
}

// CRMClient is what the engine needs from the CRM transport.
type CRMClient interface {
	GetEntity(ctx context.Context, entityType, id string) (map[string]interface{}, error)
	UpdateEntity(ctx context.Context, entityType, id string, fields map[string]interface{}) error
	FieldMetadata(ctx context.Context, entityType string, force bool) (map[string]FieldMeta, error)
}

// SheetWriter writes a single resolved value back into the sheet.
type SheetWriter interface {
	UpdateCell(ctx context.Context, spreadsheetID, sheetRange string, rowNumber, columnIndex int, value string) error
}

// Classification is the per-field outcome of the three-way comparison.
type Classification int

const (
	FieldUnchanged Classification = iota
	CleanLocal                    // only the sheet moved — apply to CRM
	CleanRemote                   // only the CRM moved — write back to sheet
	Convergent                    // both moved to the same value — snapshot catch-up only
	Conflicted                    // both moved to different values
)

// Classify applies the three-way rule to one field. stored is the snapshot
// value, local the sheet value, remote the live CRM value, all normalized.
func Classify(stored, local, remote string) Classification {
	localMoved := local != stored
	remoteMoved := remote != stored
	switch {
	case !localMoved && !remoteMoved:
		return FieldUnchanged
	case localMoved && !remoteMoved:
		return CleanLocal
	case !localMoved && remoteMoved:
		return CleanRemote
	case local == remote:
		return Convergent
	default:
		return Conflicted
	}
}

// SuggestStrategy picks the deterministic per-type resolution hint.
// Dates lean on timestamps, text prefers the side that has content, and
// numbers are always a human call — 150 vs 200 on a deal amount has no
// safe automatic answer.
func SuggestStrategy(dt models.DataType, sheetVal, crmVal string) models.ResolutionStrategy {
	switch dt {
	case models.DataTypeDate:
		return models.ResolveUseNewer
	case models.DataTypeNumber:
		return models.ResolveManual
	case models.DataTypeString:
		if sheetVal == "" && crmVal != "" {
			return models.ResolveUseRemote
		}
		if crmVal == "" && sheetVal != "" {
			return models.ResolveUseLocal
		}
		return models.ResolveManual
	default:
		return models.ResolveManual
	}
}

// RowAssessment is the conflict stage's verdict for one row.
type RowAssessment struct {
	RowNumber int
	EntityID  string
	Apply     []ChangeRecord          // clean sheet-side changes, go to the processor
	WriteBack []ChangeRecord          // clean CRM-side changes, go back to the sheet
	Converged []ChangeRecord          // both sides already agree, snapshot catch-up
	Conflicts []models.ConflictRecord // unresolved, block auto-apply for their fields
}

// ConflictManager completes the three-way diff by pulling the live CRM
// entity and classifying every mapped field.
type ConflictManager struct {
	crm CRMClient
}

func NewConflictManager(crm CRMClient) *ConflictManager {
	return &ConflictManager{crm: crm}
}

// Inspect classifies one detected row change against the live CRM entity.
// Row-level deletions on either side become a single manual conflict
// record covering the whole row.
func (m *ConflictManager) Inspect(ctx context.Context, entityType string, rc RowChange) (*RowAssessment, error) {
	a := &RowAssessment{RowNumber: rc.RowNumber, EntityID: rc.EntityID}

	if rc.Type == models.ChangeDeleted {
		a.Conflicts = append(a.Conflicts, models.ConflictRecord{
			RowNumber: rc.RowNumber,
			EntityID:  rc.EntityID,
			Type:      models.ConflictDeletedInSheet,
			Suggested: models.ResolveManual,
		})
		return a, nil
	}

	if rc.EntityID == "" {
		return nil, fmt.Errorf("row %d has no CRM entity id", rc.RowNumber)
	}

	entity, err := m.crm.GetEntity(ctx, entityType, rc.EntityID)
	if err != nil {
		if errors.Is(err, ErrEntityNotFound) {
			a.Conflicts = append(a.Conflicts, models.ConflictRecord{
				RowNumber: rc.RowNumber,
				EntityID:  rc.EntityID,
				Type:      models.ConflictDeletedInCRM,
				Suggested: models.ResolveManual,
			})
			return a, nil
		}
		return nil, fmt.Errorf("fetch %s %s: %w", entityType, rc.EntityID, err)
	}

	for _, cell := range rc.Cells {
		remote := Normalize(entity[cell.CRMField])
		switch Classify(cell.OldValue, cell.NewValue, remote) {
		case FieldUnchanged:
			continue
		case CleanLocal:
			a.Apply = append(a.Apply, cell)
		case CleanRemote:
			back := cell
			back.NewValue = remote
			a.WriteBack = append(a.WriteBack, back)
		case Convergent:
			a.Converged = append(a.Converged, cell)
		case Conflicted:
			log.Printf("⚠️ [CONFLICT] Row %d field %s: sheet=%q crm=%q stored=%q",
				rc.RowNumber, cell.CRMField, cell.NewValue, remote, cell.OldValue)
			a.Conflicts = append(a.Conflicts, models.ConflictRecord{
				RowNumber:   rc.RowNumber,
				EntityID:    rc.EntityID,
				CRMField:    cell.CRMField,
				Type:        models.ConflictFieldDiverged,
				StoredValue: cell.OldValue,
				SheetValue:  cell.NewValue,
				CRMValue:    remote,
				Suggested:   SuggestStrategy(cell.DataType, cell.NewValue, remote),
			})
		}
	}

	return a, nil
}
