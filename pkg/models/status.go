package models

// SyncStatus is the per-row lifecycle during an apply attempt.
type SyncStatus string

const (
	SyncStatusPending   SyncStatus = "pending"
	SyncStatusSyncing   SyncStatus = "syncing"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
	SyncStatusRetrying  SyncStatus = "retrying"
)

// syncTransitions is the allowed transition table. Anything not listed is
// rejected so a log entry can never jump straight from failed to completed.
var syncTransitions = map[SyncStatus][]SyncStatus{
	SyncStatusPending:  {SyncStatusSyncing, SyncStatusFailed},
	SyncStatusSyncing:  {SyncStatusCompleted, SyncStatusFailed},
	SyncStatusFailed:   {SyncStatusRetrying},
	SyncStatusRetrying: {SyncStatusSyncing},
}

// CanTransition reports whether from → to is a legal status move.
func (from SyncStatus) CanTransition(to SyncStatus) bool {
	for _, next := range syncTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further automatic transition is possible.
// failed is not terminal: an explicit retry may still move it to retrying.
func (s SyncStatus) IsTerminal() bool {
	return s == SyncStatusCompleted
}

// SnapshotStatus is the stored reconciliation state of a row.
type SnapshotStatus string

const (
	SnapshotStatusSynced   SnapshotStatus = "synced"
	SnapshotStatusPending  SnapshotStatus = "pending"
	SnapshotStatusConflict SnapshotStatus = "conflict"
	SnapshotStatusError    SnapshotStatus = "error"
)

// DataType is the closed set of declared column types. Each type is bound
// to exactly one converter in the engine, so a new type here forces a
// compile-time decision there.
type DataType string

const (
	DataTypeString  DataType = "string"
	DataTypeNumber  DataType = "number"
	DataTypeDate    DataType = "date"
	DataTypeBoolean DataType = "boolean"
)

// Valid reports whether t is one of the declared data types.
func (t DataType) Valid() bool {
	switch t {
	case DataTypeString, DataTypeNumber, DataTypeDate, DataTypeBoolean:
		return true
	}
	return false
}

// ChangeType classifies a single detected cell change.
type ChangeType string

const (
	ChangeAdded     ChangeType = "added"
	ChangeModified  ChangeType = "modified"
	ChangeDeleted   ChangeType = "deleted"
	ChangeUnchanged ChangeType = "unchanged"
)

// ConflictType classifies why a row/field needs attention.
type ConflictType string

const (
	ConflictFieldDiverged  ConflictType = "field_diverged"
	ConflictDeletedInSheet ConflictType = "deleted_in_sheet"
	ConflictDeletedInCRM   ConflictType = "deleted_in_crm"
)

// ResolutionStrategy is a suggested or applied way out of a conflict.
type ResolutionStrategy string

const (
	ResolveUseLocal  ResolutionStrategy = "use_local"
	ResolveUseRemote ResolutionStrategy = "use_remote"
	ResolveUseNewer  ResolutionStrategy = "use_newer"
	ResolveCustom    ResolutionStrategy = "custom"
	ResolveSkip      ResolutionStrategy = "skip"
	ResolveManual    ResolutionStrategy = "manual"
)

// SyncDirection controls which sides a config is allowed to write to.
type SyncDirection string

const (
	DirectionSheetToCRM    SyncDirection = "sheet_to_crm"
	DirectionBidirectional SyncDirection = "bidirectional"
)
