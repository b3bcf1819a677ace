package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetsync-service/pkg/models"
)

type fakeCRM struct {
	entities map[string]map[string]interface{}
	updates  []map[string]interface{}
	meta     map[string]FieldMeta
}

func (f *fakeCRM) GetEntity(ctx context.Context, entityType, id string) (map[string]interface{}, error) {
	e, ok := f.entities[id]
	if !ok {
		return nil, ErrEntityNotFound
	}
	return e, nil
}

func (f *fakeCRM) UpdateEntity(ctx context.Context, entityType, id string, fields map[string]interface{}) error {
	f.updates = append(f.updates, fields)
	return nil
}

func (f *fakeCRM) FieldMetadata(ctx context.Context, entityType string, force bool) (map[string]FieldMeta, error) {
	return f.meta, nil
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name                  string
		stored, local, remote string
		want                  Classification
	}{
		{"nothing moved", "a", "a", "a", FieldUnchanged},
		{"only sheet moved", "a", "b", "a", CleanLocal},
		{"only crm moved", "a", "a", "b", CleanRemote},
		{"both moved same", "a", "b", "b", Convergent},
		{"both moved apart", "a", "b", "c", Conflicted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.stored, tt.local, tt.remote))
		})
	}
}

func TestSuggestStrategy(t *testing.T) {
	assert.Equal(t, models.ResolveUseNewer, SuggestStrategy(models.DataTypeDate, "2026-01-01", "2026-02-01"))
	assert.Equal(t, models.ResolveManual, SuggestStrategy(models.DataTypeNumber, "150", "200"))
	assert.Equal(t, models.ResolveUseRemote, SuggestStrategy(models.DataTypeString, "", "filled"))
	assert.Equal(t, models.ResolveUseLocal, SuggestStrategy(models.DataTypeString, "filled", ""))
	assert.Equal(t, models.ResolveManual, SuggestStrategy(models.DataTypeString, "one", "two"))
	assert.Equal(t, models.ResolveManual, SuggestStrategy(models.DataTypeBoolean, "true", "false"))
}

func TestInspectCleanLocalChange(t *testing.T) {
	crm := &fakeCRM{entities: map[string]map[string]interface{}{
		"101": {"TITLE": "Old Title", "OPPORTUNITY": float64(150)},
	}}
	m := NewConflictManager(crm)

	rc := RowChange{
		RowNumber: 2,
		EntityID:  "101",
		Type:      models.ChangeModified,
		Cells: []ChangeRecord{
			{CRMField: "TITLE", DataType: models.DataTypeString, Editable: true, OldValue: "Old Title", NewValue: "New Title", Type: models.ChangeModified},
			{CRMField: "OPPORTUNITY", DataType: models.DataTypeNumber, Editable: true, OldValue: "150", NewValue: "150", Type: models.ChangeUnchanged},
		},
	}

	a, err := m.Inspect(context.Background(), "crm.deal", rc)
	require.NoError(t, err)
	require.Len(t, a.Apply, 1)
	assert.Equal(t, "TITLE", a.Apply[0].CRMField)
	assert.Empty(t, a.Conflicts)
	assert.Empty(t, a.WriteBack)
}

func TestInspectRemoteDriftWritesBack(t *testing.T) {
	// The sheet never touched OPPORTUNITY but the CRM did: the remote
	// value must flow back into the sheet, not be overwritten.
	crm := &fakeCRM{entities: map[string]map[string]interface{}{
		"101": {"TITLE": "Same", "OPPORTUNITY": float64(999)},
	}}
	m := NewConflictManager(crm)

	rc := RowChange{
		RowNumber: 2,
		EntityID:  "101",
		Type:      models.ChangeModified,
		Cells: []ChangeRecord{
			{CRMField: "TITLE", DataType: models.DataTypeString, Editable: true, OldValue: "Same", NewValue: "Same", Type: models.ChangeUnchanged},
			{CRMField: "OPPORTUNITY", DataType: models.DataTypeNumber, Editable: true, OldValue: "150", NewValue: "150", Type: models.ChangeUnchanged},
		},
	}

	a, err := m.Inspect(context.Background(), "crm.deal", rc)
	require.NoError(t, err)
	require.Len(t, a.WriteBack, 1)
	assert.Equal(t, "OPPORTUNITY", a.WriteBack[0].CRMField)
	assert.Equal(t, "999", a.WriteBack[0].NewValue)
	assert.Empty(t, a.Apply)
}

func TestInspectDivergedFieldBecomesConflict(t *testing.T) {
	crm := &fakeCRM{entities: map[string]map[string]interface{}{
		"101": {"OPPORTUNITY": float64(200)},
	}}
	m := NewConflictManager(crm)

	rc := RowChange{
		RowNumber: 5,
		EntityID:  "101",
		Type:      models.ChangeModified,
		Cells: []ChangeRecord{
			{CRMField: "OPPORTUNITY", DataType: models.DataTypeNumber, Editable: true, OldValue: "150", NewValue: "175", Type: models.ChangeModified},
		},
	}

	a, err := m.Inspect(context.Background(), "crm.deal", rc)
	require.NoError(t, err)
	assert.Empty(t, a.Apply)
	require.Len(t, a.Conflicts, 1)

	c := a.Conflicts[0]
	assert.Equal(t, models.ConflictFieldDiverged, c.Type)
	assert.Equal(t, "150", c.StoredValue)
	assert.Equal(t, "175", c.SheetValue)
	assert.Equal(t, "200", c.CRMValue)
	assert.Equal(t, models.ResolveManual, c.Suggested)
}

func TestInspectConvergentChange(t *testing.T) {
	crm := &fakeCRM{entities: map[string]map[string]interface{}{
		"101": {"TITLE": "Agreed"},
	}}
	m := NewConflictManager(crm)

	rc := RowChange{
		RowNumber: 2,
		EntityID:  "101",
		Type:      models.ChangeModified,
		Cells: []ChangeRecord{
			{CRMField: "TITLE", DataType: models.DataTypeString, Editable: true, OldValue: "Old", NewValue: "Agreed", Type: models.ChangeModified},
		},
	}

	a, err := m.Inspect(context.Background(), "crm.deal", rc)
	require.NoError(t, err)
	assert.Empty(t, a.Apply)
	assert.Empty(t, a.Conflicts)
	require.Len(t, a.Converged, 1)
	assert.Equal(t, "TITLE", a.Converged[0].CRMField)
}

func TestInspectDeletedInSheet(t *testing.T) {
	m := NewConflictManager(&fakeCRM{})
	rc := RowChange{RowNumber: 4, EntityID: "101", Type: models.ChangeDeleted}

	a, err := m.Inspect(context.Background(), "crm.deal", rc)
	require.NoError(t, err)
	require.Len(t, a.Conflicts, 1)
	assert.Equal(t, models.ConflictDeletedInSheet, a.Conflicts[0].Type)
	assert.Equal(t, models.ResolveManual, a.Conflicts[0].Suggested)
}

func TestInspectDeletedInCRM(t *testing.T) {
	m := NewConflictManager(&fakeCRM{entities: map[string]map[string]interface{}{}})
	rc := RowChange{
		RowNumber: 3,
		EntityID:  "404",
		Type:      models.ChangeModified,
		Cells: []ChangeRecord{
			{CRMField: "TITLE", DataType: models.DataTypeString, Editable: true, OldValue: "a", NewValue: "b", Type: models.ChangeModified},
		},
	}

	a, err := m.Inspect(context.Background(), "crm.deal", rc)
	require.NoError(t, err)
	require.Len(t, a.Conflicts, 1)
	assert.Equal(t, models.ConflictDeletedInCRM, a.Conflicts[0].Type)
}

func TestInspectMissingEntityID(t *testing.T) {
	m := NewConflictManager(&fakeCRM{})
	rc := RowChange{RowNumber: 2, Type: models.ChangeModified}
	_, err := m.Inspect(context.Background(), "crm.deal", rc)
	assert.Error(t, err)
}
