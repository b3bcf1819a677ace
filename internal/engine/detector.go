// internal/engine/detector.go
package engine

import (
	"encoding/json"
	"log"

	"sheetsync-service/pkg/models"
)

// ChangeRecord is one cell's diff against the snapshot. OldValue is the
// stored (snapshot) value, NewValue the current sheet value, both in
// canonical normalized form.
type ChangeRecord struct {
	RowNumber   int
	ColumnIndex int
	CRMField    string
	DataType    models.DataType
	Editable    bool
	OldValue    string
	NewValue    string
	Type        models.ChangeType
}

// RowChange groups every mapped cell of one sheet row. Cells holds all
// mapped columns (including unchanged ones — the conflict stage needs the
// full field picture), Changes only the ones that moved.
type RowChange struct {
	RowNumber int
	EntityID  string
	Type      models.ChangeType // added | modified | deleted
	Cells     []ChangeRecord
}

// Changes returns the cells that actually differ from the snapshot.
func (rc RowChange) Changes() []ChangeRecord {
	var out []ChangeRecord
	for _, c := range rc.Cells {
		if c.Type != models.ChangeUnchanged {
			out = append(out, c)
		}
	}
	return out
}

// Detector computes the sheet-vs-snapshot half of the three-way diff.
// It is read-only and idempotent: two runs over an unchanged range yield
// an identical (and on the second run, empty) change set.
type Detector struct{}

func NewDetector() *Detector {
	return &Detector{}
}

// Detect compares sheet rows (data rows only, row 1 is the header) against
// the persisted snapshots keyed by row number. Sheet row numbers are
// 1-based including the header, so data starts at row 2.
func (d *Detector) Detect(rows [][]interface{}, snapshots map[int]*models.RowSnapshot, mappings []models.FieldMapping) []RowChange {
	var out []RowChange
	seen := make(map[int]bool, len(rows))

	for i, row := range rows {
		rowNum := i + 2
		seen[rowNum] = true

		snap := snapshots[rowNum]
		if snap == nil {
			rc := d.buildRow(rowNum, row, nil, mappings)
			rc.Type = models.ChangeAdded
			if len(rc.Changes()) > 0 {
				out = append(out, rc)
			}
			continue
		}

		stored := decodeSnapshotValues(snap)
		rc := d.buildRow(rowNum, row, stored, mappings)
		rc.EntityID = snap.EntityID
		rc.Type = models.ChangeModified
		if len(rc.Changes()) > 0 {
			out = append(out, rc)
		}
	}

	// Snapshots whose sheet row vanished: the row was deleted on the
	// sheet side. Surfaced as a row-level change for the conflict stage.
	for rowNum, snap := range snapshots {
		if seen[rowNum] {
			continue
		}
		out = append(out, RowChange{
			RowNumber: rowNum,
			EntityID:  snap.EntityID,
			Type:      models.ChangeDeleted,
		})
	}

	return out
}

func (d *Detector) buildRow(rowNum int, row []interface{}, stored map[string]string, mappings []models.FieldMapping) RowChange {
	rc := RowChange{RowNumber: rowNum}
	for _, m := range mappings {
		if !m.Mapped || m.CRMField == "" {
			continue
		}
		var current string
		if m.ColumnIndex < len(row) {
			current = Normalize(row[m.ColumnIndex])
		}

		cell := ChangeRecord{
			RowNumber:   rowNum,
			ColumnIndex: m.ColumnIndex,
			CRMField:    m.CRMField,
			DataType:    m.DataType,
			Editable:    m.Editable,
			NewValue:    current,
			Type:        models.ChangeUnchanged,
		}

		if stored == nil {
			// No snapshot: every non-empty cell is new material.
			if current != "" {
				cell.Type = models.ChangeAdded
			}
		} else {
			cell.OldValue = stored[m.CRMField]
			if cell.OldValue != current {
				cell.Type = models.ChangeModified
			}
		}

		// An ID column doubles as the CRM entity reference for rows
		// that have no snapshot yet.
		if m.CRMField == "ID" && current != "" && rc.EntityID == "" {
			rc.EntityID = current
		}

		rc.Cells = append(rc.Cells, cell)
	}
	return rc
}

func decodeSnapshotValues(snap *models.RowSnapshot) map[string]string {
	values := map[string]string{}
	if len(snap.Values) == 0 {
		return values
	}
	if err := json.Unmarshal(snap.Values, &values); err != nil {
		log.Printf("⚠️ [DETECT] Corrupt snapshot values for row %d: %v", snap.RowNumber, err)
	}
	return values
}
