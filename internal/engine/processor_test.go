package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetsync-service/pkg/models"
)

func TestBuildConvertsAndFilters(t *testing.T) {
	changes := []ChangeRecord{
		{CRMField: "TITLE", DataType: models.DataTypeString, Editable: true, NewValue: "Big Deal"},
		{CRMField: "OPPORTUNITY", DataType: models.DataTypeNumber, Editable: true, NewValue: "150,50"},
		{CRMField: "ID", DataType: models.DataTypeString, Editable: true, NewValue: "101"},      // reserved
		{CRMField: "COMMENTS", DataType: models.DataTypeString, Editable: false, NewValue: "x"}, // not editable
	}

	payload := NewProcessor().Build("101", 2, changes, nil)
	require.False(t, payload.Empty())
	assert.Equal(t, "101", payload.EntityID)
	assert.Equal(t, 2, payload.RowNumber)
	assert.Equal(t, []string{"OPPORTUNITY", "TITLE"}, payload.FieldNames())
	assert.Equal(t, "Big Deal", payload.Fields["TITLE"])
	assert.Equal(t, 150.5, payload.Fields["OPPORTUNITY"])
}

func TestBuildIsDeterministic(t *testing.T) {
	changes := []ChangeRecord{
		{CRMField: "TITLE", DataType: models.DataTypeString, Editable: true, NewValue: "Same"},
		{CRMField: "OPPORTUNITY", DataType: models.DataTypeNumber, Editable: true, NewValue: "99"},
	}
	p := NewProcessor()
	first := p.Build("101", 2, changes, nil)
	second := p.Build("101", 2, changes, nil)
	assert.Equal(t, first, second)
}

func TestBuildSkipsMetadataLockedFields(t *testing.T) {
	meta := map[string]FieldMeta{
		"STAGE_ID":    {ReadOnly: true},
		"OPPORTUNITY": {},
	}
	changes := []ChangeRecord{
		{CRMField: "STAGE_ID", DataType: models.DataTypeString, Editable: true, NewValue: "WON"},
		{CRMField: "OPPORTUNITY", DataType: models.DataTypeNumber, Editable: true, NewValue: "10"},
	}

	payload := NewProcessor().Build("101", 2, changes, meta)
	assert.Equal(t, []string{"OPPORTUNITY"}, payload.FieldNames())
}

func TestBuildDropsOnlyTheBadField(t *testing.T) {
	changes := []ChangeRecord{
		{CRMField: "OPPORTUNITY", DataType: models.DataTypeNumber, Editable: true, NewValue: "not-a-number"},
		{CRMField: "TITLE", DataType: models.DataTypeString, Editable: true, NewValue: "Keeps going"},
	}

	payload := NewProcessor().Build("101", 2, changes, nil)
	assert.Equal(t, []string{"TITLE"}, payload.FieldNames())
}

func TestBuildEmptyPayload(t *testing.T) {
	changes := []ChangeRecord{
		{CRMField: "ID", DataType: models.DataTypeString, Editable: true, NewValue: "101"},
	}
	payload := NewProcessor().Build("101", 2, changes, nil)
	assert.True(t, payload.Empty())
}

func TestFieldMetaSendable(t *testing.T) {
	assert.True(t, FieldMeta{}.Sendable())
	assert.False(t, FieldMeta{ReadOnly: true}.Sendable())
	assert.False(t, FieldMeta{Immutable: true}.Sendable())
	assert.False(t, FieldMeta{Computed: true}.Sendable())
}

func TestIsReservedField(t *testing.T) {
	for _, f := range []string{"ID", "DATE_CREATE", "DATE_MODIFY", "CREATED_BY_ID", "MODIFY_BY_ID"} {
		assert.True(t, IsReservedField(f), f)
	}
	assert.False(t, IsReservedField("TITLE"))
}
