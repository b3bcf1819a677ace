package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"sheetsync-service/internal/config"
	"sheetsync-service/internal/engine"
	"sheetsync-service/internal/store"
	"sheetsync-service/pkg/models"
)

type crmUpdate struct {
	entityType string
	id         string
	fields     map[string]interface{}
}

type stubCRM struct {
	mu        sync.Mutex
	entities  map[string]map[string]interface{}
	updates   []crmUpdate
	updateErr error
	onUpdate  func()
	meta      map[string]engine.FieldMeta
}

func (f *stubCRM) GetEntity(ctx context.Context, entityType, id string) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entities[id]
	if !ok {
		return nil, engine.ErrEntityNotFound
	}
	return e, nil
}

func (f *stubCRM) UpdateEntity(ctx context.Context, entityType, id string, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onUpdate != nil {
		f.onUpdate()
	}
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, crmUpdate{entityType: entityType, id: id, fields: fields})
	return nil
}

func (f *stubCRM) FieldMetadata(ctx context.Context, entityType string, force bool) (map[string]engine.FieldMeta, error) {
	return f.meta, nil
}

type cellWrite struct {
	rowNumber   int
	columnIndex int
	value       string
}

type stubSheets struct {
	mu      sync.Mutex
	headers []string
	rows    [][]interface{}
	writes  []cellWrite
}

func (f *stubSheets) ReadRange(ctx context.Context, spreadsheetID, readRange string) ([]string, [][]interface{}, error) {
	return f.headers, f.rows, nil
}

func (f *stubSheets) UpdateCell(ctx context.Context, spreadsheetID, sheetRange string, rowNumber, columnIndex int, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, cellWrite{rowNumber: rowNumber, columnIndex: columnIndex, value: value})
	return nil
}

type stubAlerts struct {
	mu   sync.Mutex
	sent int
	last []models.ConflictRecord
}

func (f *stubAlerts) SendConflictAlert(cfg *models.SyncConfig, conflicts []models.ConflictRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	f.last = conflicts
}

type syncFixture struct {
	svc    *SyncService
	store  *store.Store
	crm    *stubCRM
	sheets *stubSheets
	alerts *stubAlerts
	cfg    *models.SyncConfig
}

func newFixture(t *testing.T) *syncFixture {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, store.Migrate(database))
	st := store.New(database)

	crm := &stubCRM{entities: map[string]map[string]interface{}{}}
	sheets := &stubSheets{headers: []string{"ID", "Title", "Amount"}}
	alerts := &stubAlerts{}

	// Concurrency 1 keeps sqlite happy; production values come from env.
	svc := NewSyncService(st, crm, sheets, alerts, nil, &config.Config{
		BatchConcurrency: 1,
		BatchDelayMS:     0,
		RequestTimeoutS:  5,
		MaxRetries:       3,
	})

	cfg := &models.SyncConfig{
		Name:          "deals",
		SpreadsheetID: "sheet-1",
		SheetRange:    "Deals!A:Z",
		EntityType:    "crm.deal",
		Direction:     models.DirectionSheetToCRM,
		Enabled:       true,
	}
	require.NoError(t, st.CreateConfig(context.Background(), cfg))
	require.NoError(t, st.SaveDetectedMappings(context.Background(), cfg.ID, []models.FieldMapping{
		{ColumnIndex: 0, ColumnHeader: "ID", CRMField: "ID", DataType: models.DataTypeString, Editable: false, Mapped: true},
		{ColumnIndex: 1, ColumnHeader: "Title", CRMField: "TITLE", DataType: models.DataTypeString, Editable: true, Mapped: true},
		{ColumnIndex: 2, ColumnHeader: "Amount", CRMField: "OPPORTUNITY", DataType: models.DataTypeNumber, Editable: true, Mapped: true},
	}))

	return &syncFixture{svc: svc, store: st, crm: crm, sheets: sheets, alerts: alerts, cfg: cfg}
}

func (fx *syncFixture) seedSnapshot(t *testing.T, rowNumber int, entityID string, values map[string]string) {
	t.Helper()
	require.NoError(t, fx.store.UpdateSnapshotFields(context.Background(), fx.cfg.ID, rowNumber, entityID, values))
}

func TestRunPassAppliesCleanChange(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.seedSnapshot(t, 2, "101", map[string]string{"ID": "101", "TITLE": "Old Title", "OPPORTUNITY": "150"})
	fx.crm.entities["101"] = map[string]interface{}{"ID": "101", "TITLE": "Old Title", "OPPORTUNITY": float64(150)}
	fx.sheets.rows = [][]interface{}{
		{"101", "New Title", float64(150)},
	}

	result, err := fx.svc.RunPass(ctx, fx.cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, 1, result.Successful)
	assert.Equal(t, 0, result.Failed)

	require.Len(t, fx.crm.updates, 1)
	assert.Equal(t, "crm.deal", fx.crm.updates[0].entityType)
	assert.Equal(t, "101", fx.crm.updates[0].id)
	assert.Equal(t, "New Title", fx.crm.updates[0].fields["TITLE"])
	_, amountSent := fx.crm.updates[0].fields["OPPORTUNITY"]
	assert.False(t, amountSent, "unchanged field must not be sent")

	snap, err := fx.store.GetSnapshot(ctx, fx.cfg.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, models.SnapshotStatusSynced, snap.SyncStatus)
	assert.Contains(t, string(snap.Values), "New Title")

	logs, err := fx.store.LogsByStatus(ctx, fx.cfg.ID, models.SyncStatusCompleted, 10, 0)
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	// Second pass over the same sheet state finds nothing to do.
	result, err = fx.svc.RunPass(ctx, fx.cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Total)
	assert.Len(t, fx.crm.updates, 1)
}

func TestRunPassDivergedFieldBecomesConflict(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.seedSnapshot(t, 2, "101", map[string]string{"ID": "101", "TITLE": "Same", "OPPORTUNITY": "150"})
	fx.crm.entities["101"] = map[string]interface{}{"ID": "101", "TITLE": "Same", "OPPORTUNITY": float64(200)}
	fx.sheets.rows = [][]interface{}{
		{"101", "Same", float64(175)},
	}

	result, err := fx.svc.RunPass(ctx, fx.cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Total, "conflicted field must not be auto-applied")
	assert.Empty(t, fx.crm.updates)

	open, err := fx.store.OpenConflictsForRow(ctx, fx.cfg.ID, 2)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "OPPORTUNITY", open[0].CRMField)
	assert.Equal(t, "150", open[0].StoredValue)
	assert.Equal(t, "175", open[0].SheetValue)
	assert.Equal(t, "200", open[0].CRMValue)
	assert.Equal(t, models.ResolveManual, open[0].Suggested)

	snap, err := fx.store.GetSnapshot(ctx, fx.cfg.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, models.SnapshotStatusConflict, snap.SyncStatus)

	assert.Equal(t, 1, fx.alerts.sent)
	require.Len(t, fx.alerts.last, 1)

	// A re-run must not duplicate the open conflict or re-alert.
	_, err = fx.svc.RunPass(ctx, fx.cfg.ID)
	require.NoError(t, err)
	open, err = fx.store.OpenConflictsForRow(ctx, fx.cfg.ID, 2)
	require.NoError(t, err)
	assert.Len(t, open, 1)
	assert.Equal(t, 1, fx.alerts.sent)
}

func TestRunPassFailureLeavesSnapshotAndSelfHeals(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.seedSnapshot(t, 2, "101", map[string]string{"ID": "101", "TITLE": "Old", "OPPORTUNITY": "150"})
	fx.crm.entities["101"] = map[string]interface{}{"ID": "101", "TITLE": "Old", "OPPORTUNITY": float64(150)}
	fx.sheets.rows = [][]interface{}{
		{"101", "New", float64(150)},
	}
	fx.crm.updateErr = errors.New("portal down")

	result, err := fx.svc.RunPass(ctx, fx.cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	// Snapshot still carries the old value, so the change is not lost.
	snap, err := fx.store.GetSnapshot(ctx, fx.cfg.ID, 2)
	require.NoError(t, err)
	assert.Contains(t, string(snap.Values), "Old")

	failed, err := fx.store.LogsByStatus(ctx, fx.cfg.ID, models.SyncStatusFailed, 10, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Error, "portal down")

	// Next pass re-detects the same diff and succeeds once the CRM is back.
	fx.crm.updateErr = nil
	result, err = fx.svc.RunPass(ctx, fx.cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Successful)

	snap, err = fx.store.GetSnapshot(ctx, fx.cfg.ID, 2)
	require.NoError(t, err)
	assert.Contains(t, string(snap.Values), "New")
}

func TestCommitFailureMarksLogFailed(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.seedSnapshot(t, 2, "101", map[string]string{"ID": "101", "TITLE": "Old", "OPPORTUNITY": "150"})
	require.NoError(t, fx.store.DB().Model(&models.RowSnapshot{}).
		Where("sync_config_id = ? AND row_number = ?", fx.cfg.ID, 2).
		Update("values", []byte(`{"ID":`)).Error)
	fx.crm.entities["101"] = map[string]interface{}{"ID": "101", "TITLE": "", "OPPORTUNITY": float64(150)}
	fx.sheets.rows = [][]interface{}{{"101", "New Title", float64(150)}}

	result, err := fx.svc.RunPass(ctx, fx.cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, fx.crm.updates, 1, "the CRM call itself succeeded")

	// The commit blew up after the CRM apply; the entry must not be
	// stranded in syncing — it has to show up as failed and retryable.
	stuck, err := fx.store.LogsByStatus(ctx, fx.cfg.ID, models.SyncStatusSyncing, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, stuck)

	failed, err := fx.store.LogsByStatus(ctx, fx.cfg.ID, models.SyncStatusFailed, 10, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Error, "decode snapshot values")

	retry, err := fx.svc.RetryLog(ctx, failed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, retry.Failed)

	got, err := fx.store.GetLog(ctx, failed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)
}

func TestCancelledBatchLeavesNoPendingLogs(t *testing.T) {
	fx := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i, id := range []string{"101", "102", "103"} {
		row := i + 2
		fx.seedSnapshot(t, row, id, map[string]string{"ID": id, "TITLE": "Old", "OPPORTUNITY": "150"})
		fx.crm.entities[id] = map[string]interface{}{"ID": id, "TITLE": "Old", "OPPORTUNITY": float64(150)}
		fx.sheets.rows = append(fx.sheets.rows, []interface{}{id, "New " + id, float64(150)})
	}
	fx.crm.updateErr = errors.New("portal down")
	fx.crm.onUpdate = cancel

	result, err := fx.svc.RunPass(ctx, fx.cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Failed)

	pending, err := fx.store.LogsByStatus(context.Background(), fx.cfg.ID, models.SyncStatusPending, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, pending, "rows cut off by the cancel must not stay pending")

	failed, err := fx.store.LogsByStatus(context.Background(), fx.cfg.ID, models.SyncStatusFailed, 10, 0)
	require.NoError(t, err)
	require.Len(t, failed, 3)

	aborted := 0
	for _, entry := range failed {
		if strings.Contains(entry.Error, "batch aborted") {
			aborted++
		}
	}
	assert.Equal(t, 2, aborted)

	// All three are now visible to the retry sweep.
	retryable, err := fx.store.FailedLogs(context.Background(), fx.cfg.ID, 3)
	require.NoError(t, err)
	assert.Len(t, retryable, 3)
}

func TestWebhookRespectsInFlightLock(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.seedSnapshot(t, 2, "101", map[string]string{"ID": "101", "TITLE": "Old", "OPPORTUNITY": "150"})
	fx.crm.entities["101"] = map[string]interface{}{"ID": "101", "TITLE": "Old", "OPPORTUNITY": float64(150)}

	require.True(t, fx.svc.tryAcquire(fx.cfg.ID))
	defer fx.svc.release(fx.cfg.ID)

	_, err := fx.svc.HandleWebhook(ctx, fx.cfg.ID, WebhookPayload{
		Event:     "row.updated",
		RowID:     2,
		NewValues: map[string]interface{}{"1": "Webhook Title"},
	})
	assert.ErrorContains(t, err, "already running")
	assert.Empty(t, fx.crm.updates)
}

func TestRunPassRemoteDriftAdoptsBaseline(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.seedSnapshot(t, 2, "101", map[string]string{"ID": "101", "TITLE": "Same", "OPPORTUNITY": "150"})
	fx.crm.entities["101"] = map[string]interface{}{"ID": "101", "TITLE": "Same", "OPPORTUNITY": float64(999)}
	fx.sheets.rows = [][]interface{}{
		{"101", "Same", float64(150)},
	}
	// Sheet must report a change for the row to be inspected at all; the
	// CRM-side drift rides along on the TITLE edit.
	fx.sheets.rows[0][1] = "Edited"
	fx.crm.entities["101"]["TITLE"] = "Same"

	_, err := fx.svc.RunPass(ctx, fx.cfg.ID)
	require.NoError(t, err)

	// One-way config: no sheet write, but the baseline adopts 999 so the
	// drift stops resurfacing.
	assert.Empty(t, fx.sheets.writes)
	snap, err := fx.store.GetSnapshot(ctx, fx.cfg.ID, 2)
	require.NoError(t, err)
	assert.Contains(t, string(snap.Values), "999")
}

func TestRunPassBidirectionalWritesBack(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.store.DB().Model(fx.cfg).Update("direction", models.DirectionBidirectional).Error)

	fx.seedSnapshot(t, 2, "101", map[string]string{"ID": "101", "TITLE": "Same", "OPPORTUNITY": "150"})
	fx.crm.entities["101"] = map[string]interface{}{"ID": "101", "TITLE": "Edited", "OPPORTUNITY": float64(150)}
	fx.sheets.rows = [][]interface{}{
		{"101", "Same", float64(175)},
	}

	_, err := fx.svc.RunPass(ctx, fx.cfg.ID)
	require.NoError(t, err)

	require.Len(t, fx.sheets.writes, 1)
	assert.Equal(t, 2, fx.sheets.writes[0].rowNumber)
	assert.Equal(t, 1, fx.sheets.writes[0].columnIndex)
	assert.Equal(t, "Edited", fx.sheets.writes[0].value)
}

func TestRunPassRejectsDisabledConfig(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.store.DisableConfig(ctx, fx.cfg.ID))

	_, err := fx.svc.RunPass(ctx, fx.cfg.ID)
	assert.ErrorContains(t, err, "disabled")
}

func TestRunPassRequiresMappings(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	bare := &models.SyncConfig{Name: "bare", SpreadsheetID: "s", EntityType: "crm.lead", Direction: models.DirectionSheetToCRM, Enabled: true}
	require.NoError(t, fx.store.CreateConfig(ctx, bare))

	_, err := fx.svc.RunPass(ctx, bare.ID)
	assert.ErrorContains(t, err, "field mappings")
}

func TestRetryLogReplaysFailedEntry(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.seedSnapshot(t, 2, "101", map[string]string{"ID": "101", "TITLE": "Old", "OPPORTUNITY": "150"})
	fx.crm.entities["101"] = map[string]interface{}{"ID": "101", "TITLE": "Old", "OPPORTUNITY": float64(150)}
	fx.sheets.rows = [][]interface{}{{"101", "New", float64(150)}}
	fx.crm.updateErr = errors.New("flaky")

	_, err := fx.svc.RunPass(ctx, fx.cfg.ID)
	require.NoError(t, err)

	failed, err := fx.store.LogsByStatus(ctx, fx.cfg.ID, models.SyncStatusFailed, 10, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	fx.crm.updateErr = nil
	result, err := fx.svc.RetryLog(ctx, failed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Successful)

	got, err := fx.store.GetLog(ctx, failed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompleted, got.Status)
	assert.Equal(t, 1, got.RetryCount)
}

func TestRetryLogRefusesCompletedEntry(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.seedSnapshot(t, 2, "101", map[string]string{"ID": "101", "TITLE": "Old", "OPPORTUNITY": "150"})
	fx.crm.entities["101"] = map[string]interface{}{"ID": "101", "TITLE": "Old", "OPPORTUNITY": float64(150)}
	fx.sheets.rows = [][]interface{}{{"101", "New", float64(150)}}

	_, err := fx.svc.RunPass(ctx, fx.cfg.ID)
	require.NoError(t, err)

	done, err := fx.store.LogsByStatus(ctx, fx.cfg.ID, models.SyncStatusCompleted, 10, 0)
	require.NoError(t, err)
	require.Len(t, done, 1)

	_, err = fx.svc.RetryLog(ctx, done[0].ID)
	assert.ErrorContains(t, err, "only failed entries")
}

func TestResolveConflictUseLocal(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.seedSnapshot(t, 2, "101", map[string]string{"ID": "101", "TITLE": "Same", "OPPORTUNITY": "150"})
	fx.crm.entities["101"] = map[string]interface{}{"ID": "101", "TITLE": "Same", "OPPORTUNITY": float64(200)}
	fx.sheets.rows = [][]interface{}{{"101", "Same", float64(175)}}

	_, err := fx.svc.RunPass(ctx, fx.cfg.ID)
	require.NoError(t, err)
	open, err := fx.store.OpenConflictsForRow(ctx, fx.cfg.ID, 2)
	require.NoError(t, err)
	require.Len(t, open, 1)

	resolved, err := fx.svc.ResolveConflict(ctx, open[0].ID, models.ResolveUseLocal, "", "tester")
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	assert.Equal(t, models.ResolveUseLocal, resolved.ResolvedWith)
	assert.Equal(t, "175", resolved.ResolvedValue)

	// The sheet value went to the CRM, type-converted.
	require.Len(t, fx.crm.updates, 1)
	assert.Equal(t, 175.0, fx.crm.updates[0].fields["OPPORTUNITY"])

	snap, err := fx.store.GetSnapshot(ctx, fx.cfg.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, models.SnapshotStatusSynced, snap.SyncStatus)
	assert.Contains(t, string(snap.Values), "175")
}

func TestResolveConflictUseRemoteWritesSheet(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.seedSnapshot(t, 2, "101", map[string]string{"ID": "101", "TITLE": "Same", "OPPORTUNITY": "150"})
	fx.crm.entities["101"] = map[string]interface{}{"ID": "101", "TITLE": "Same", "OPPORTUNITY": float64(200)}
	fx.sheets.rows = [][]interface{}{{"101", "Same", float64(175)}}

	_, err := fx.svc.RunPass(ctx, fx.cfg.ID)
	require.NoError(t, err)
	open, err := fx.store.OpenConflictsForRow(ctx, fx.cfg.ID, 2)
	require.NoError(t, err)
	require.Len(t, open, 1)

	_, err = fx.svc.ResolveConflict(ctx, open[0].ID, models.ResolveUseRemote, "", "tester")
	require.NoError(t, err)

	assert.Empty(t, fx.crm.updates)
	require.Len(t, fx.sheets.writes, 1)
	assert.Equal(t, "200", fx.sheets.writes[0].value)
	assert.Equal(t, 2, fx.sheets.writes[0].columnIndex)
}

func TestResolveRowDeletionOnlyAllowsSkip(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// Snapshot exists, sheet row is gone.
	fx.seedSnapshot(t, 2, "101", map[string]string{"ID": "101", "TITLE": "Gone", "OPPORTUNITY": "150"})
	fx.sheets.rows = nil

	_, err := fx.svc.RunPass(ctx, fx.cfg.ID)
	require.NoError(t, err)

	open, err := fx.store.OpenConflictsForRow(ctx, fx.cfg.ID, 2)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, models.ConflictDeletedInSheet, open[0].Type)

	_, err = fx.svc.ResolveConflict(ctx, open[0].ID, models.ResolveUseLocal, "", "tester")
	assert.Error(t, err)

	resolved, err := fx.svc.ResolveConflict(ctx, open[0].ID, models.ResolveSkip, "", "tester")
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
}

func TestHandleWebhookReconcilesSingleRow(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.seedSnapshot(t, 2, "101", map[string]string{"ID": "101", "TITLE": "Old", "OPPORTUNITY": "150"})
	fx.crm.entities["101"] = map[string]interface{}{"ID": "101", "TITLE": "Old", "OPPORTUNITY": float64(150)}

	outcome, err := fx.svc.HandleWebhook(ctx, fx.cfg.ID, WebhookPayload{
		Event:     "row.updated",
		RowID:     2,
		NewValues: map[string]interface{}{"1": "Webhook Title"},
		OldValues: map[string]interface{}{"1": "Old"},
	})
	require.NoError(t, err)
	require.NotNil(t, outcome.Result)
	assert.Equal(t, 1, outcome.Result.Successful)
	assert.Equal(t, "Webhook Title", outcome.Changes["TITLE"].New)

	require.Len(t, fx.crm.updates, 1)
	assert.Equal(t, "Webhook Title", fx.crm.updates[0].fields["TITLE"])

	snap, err := fx.store.GetSnapshot(ctx, fx.cfg.ID, 2)
	require.NoError(t, err)
	assert.Contains(t, string(snap.Values), "Webhook Title")
}

func TestHandleWebhookEchoIsNoop(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.seedSnapshot(t, 2, "101", map[string]string{"ID": "101", "TITLE": "Same", "OPPORTUNITY": "150"})

	outcome, err := fx.svc.HandleWebhook(ctx, fx.cfg.ID, WebhookPayload{
		Event:     "row.updated",
		RowID:     2,
		NewValues: map[string]interface{}{"1": "Same"},
	})
	require.NoError(t, err)
	assert.Nil(t, outcome.Result)
	assert.Empty(t, fx.crm.updates)
}

func TestHandleWebhookUnmappedColumnsIgnored(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	outcome, err := fx.svc.HandleWebhook(ctx, fx.cfg.ID, WebhookPayload{
		Event:     "row.updated",
		RowID:     9,
		NewValues: map[string]interface{}{"17": "whatever"},
	})
	require.NoError(t, err)
	assert.Empty(t, outcome.Changes)
	assert.Nil(t, outcome.Result)
}

func TestTranslateWebhook(t *testing.T) {
	mappings := []models.FieldMapping{
		{ColumnIndex: 1, CRMField: "TITLE", Mapped: true},
		{ColumnIndex: 2, CRMField: "OPPORTUNITY", Mapped: true},
		{ColumnIndex: 3, CRMField: "", Mapped: false},
	}
	changes := TranslateWebhook(WebhookPayload{
		Event:     "row.updated",
		RowID:     2,
		NewValues: map[string]interface{}{"1": "New", "2": float64(175), "3": "ignored", "bogus": "x"},
		OldValues: map[string]interface{}{"1": "Old"},
	}, mappings)

	require.Len(t, changes, 2)
	assert.Equal(t, FieldChange{Old: "Old", New: "New"}, changes["TITLE"])
	assert.Equal(t, "175", changes["OPPORTUNITY"].New)
}
