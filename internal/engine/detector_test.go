package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"sheetsync-service/pkg/models"
)

func testMappings() []models.FieldMapping {
	return []models.FieldMapping{
		{ColumnIndex: 0, ColumnHeader: "ID", CRMField: "ID", DataType: models.DataTypeString, Editable: false, Mapped: true},
		{ColumnIndex: 1, ColumnHeader: "Title", CRMField: "TITLE", DataType: models.DataTypeString, Editable: true, Mapped: true},
		{ColumnIndex: 2, ColumnHeader: "Amount", CRMField: "OPPORTUNITY", DataType: models.DataTypeNumber, Editable: true, Mapped: true},
		{ColumnIndex: 3, ColumnHeader: "Notes", CRMField: "", Mapped: false},
	}
}

func snapshotWith(rowNumber int, entityID string, values string) *models.RowSnapshot {
	return &models.RowSnapshot{
		RowNumber: rowNumber,
		EntityID:  entityID,
		Values:    datatypes.JSON([]byte(values)),
	}
}

func TestDetectModifiedCell(t *testing.T) {
	rows := [][]interface{}{
		{"101", "New Title", float64(150)},
	}
	snapshots := map[int]*models.RowSnapshot{
		2: snapshotWith(2, "101", `{"ID":"101","TITLE":"Old Title","OPPORTUNITY":"150"}`),
	}

	changes := NewDetector().Detect(rows, snapshots, testMappings())
	require.Len(t, changes, 1)

	rc := changes[0]
	assert.Equal(t, 2, rc.RowNumber)
	assert.Equal(t, "101", rc.EntityID)
	assert.Equal(t, models.ChangeModified, rc.Type)

	moved := rc.Changes()
	require.Len(t, moved, 1)
	assert.Equal(t, "TITLE", moved[0].CRMField)
	assert.Equal(t, "Old Title", moved[0].OldValue)
	assert.Equal(t, "New Title", moved[0].NewValue)
}

func TestDetectIsIdempotent(t *testing.T) {
	rows := [][]interface{}{
		{"101", "Same", float64(99)},
	}
	snapshots := map[int]*models.RowSnapshot{
		2: snapshotWith(2, "101", `{"ID":"101","TITLE":"Same","OPPORTUNITY":"99"}`),
	}

	d := NewDetector()
	assert.Empty(t, d.Detect(rows, snapshots, testMappings()))
	assert.Empty(t, d.Detect(rows, snapshots, testMappings()))
}

func TestDetectAddedRow(t *testing.T) {
	rows := [][]interface{}{
		{"101", "Same", float64(99)},
		{"202", "Brand New", float64(10)},
	}
	snapshots := map[int]*models.RowSnapshot{
		2: snapshotWith(2, "101", `{"ID":"101","TITLE":"Same","OPPORTUNITY":"99"}`),
	}

	changes := NewDetector().Detect(rows, snapshots, testMappings())
	require.Len(t, changes, 1)
	assert.Equal(t, models.ChangeAdded, changes[0].Type)
	assert.Equal(t, 3, changes[0].RowNumber)
	assert.Equal(t, "202", changes[0].EntityID)
	assert.Len(t, changes[0].Changes(), 3)
}

func TestDetectEmptyNewRowIgnored(t *testing.T) {
	rows := [][]interface{}{
		{"", "", ""},
	}
	changes := NewDetector().Detect(rows, map[int]*models.RowSnapshot{}, testMappings())
	assert.Empty(t, changes)
}

func TestDetectDeletedRow(t *testing.T) {
	rows := [][]interface{}{
		{"101", "Same", float64(99)},
	}
	snapshots := map[int]*models.RowSnapshot{
		2: snapshotWith(2, "101", `{"ID":"101","TITLE":"Same","OPPORTUNITY":"99"}`),
		3: snapshotWith(3, "202", `{"ID":"202","TITLE":"Gone","OPPORTUNITY":"10"}`),
	}

	changes := NewDetector().Detect(rows, snapshots, testMappings())
	require.Len(t, changes, 1)
	assert.Equal(t, models.ChangeDeleted, changes[0].Type)
	assert.Equal(t, 3, changes[0].RowNumber)
	assert.Equal(t, "202", changes[0].EntityID)
	assert.Empty(t, changes[0].Cells)
}

func TestDetectShortRowTreatedAsEmptyCells(t *testing.T) {
	// A trailing empty cell is simply absent from the Sheets response.
	rows := [][]interface{}{
		{"101", "Same"},
	}
	snapshots := map[int]*models.RowSnapshot{
		2: snapshotWith(2, "101", `{"ID":"101","TITLE":"Same","OPPORTUNITY":"99"}`),
	}

	changes := NewDetector().Detect(rows, snapshots, testMappings())
	require.Len(t, changes, 1)
	moved := changes[0].Changes()
	require.Len(t, moved, 1)
	assert.Equal(t, "OPPORTUNITY", moved[0].CRMField)
	assert.Equal(t, "", moved[0].NewValue)
}
