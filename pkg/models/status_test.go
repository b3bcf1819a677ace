package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncStatusTransitions(t *testing.T) {
	allowed := []struct{ from, to SyncStatus }{
		{SyncStatusPending, SyncStatusSyncing},
		{SyncStatusPending, SyncStatusFailed},
		{SyncStatusSyncing, SyncStatusCompleted},
		{SyncStatusSyncing, SyncStatusFailed},
		{SyncStatusFailed, SyncStatusRetrying},
		{SyncStatusRetrying, SyncStatusSyncing},
	}
	for _, tr := range allowed {
		assert.True(t, tr.from.CanTransition(tr.to), "%s → %s", tr.from, tr.to)
	}

	denied := []struct{ from, to SyncStatus }{
		{SyncStatusFailed, SyncStatusCompleted},
		{SyncStatusCompleted, SyncStatusSyncing},
		{SyncStatusCompleted, SyncStatusFailed},
		{SyncStatusPending, SyncStatusCompleted},
		{SyncStatusRetrying, SyncStatusCompleted},
		{SyncStatusPending, SyncStatusPending},
	}
	for _, tr := range denied {
		assert.False(t, tr.from.CanTransition(tr.to), "%s → %s", tr.from, tr.to)
	}
}

func TestSyncStatusIsTerminal(t *testing.T) {
	assert.True(t, SyncStatusCompleted.IsTerminal())
	assert.False(t, SyncStatusFailed.IsTerminal())
	assert.False(t, SyncStatusPending.IsTerminal())
	assert.False(t, SyncStatusRetrying.IsTerminal())
}

func TestDataTypeValid(t *testing.T) {
	for _, dt := range []DataType{DataTypeString, DataTypeNumber, DataTypeDate, DataTypeBoolean} {
		assert.True(t, dt.Valid(), dt)
	}
	assert.False(t, DataType("geo").Valid())
	assert.False(t, DataType("").Valid())
}
