// internal/service/sync.go
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"sheetsync-service/internal/config"
	"sheetsync-service/internal/engine"
	"sheetsync-service/internal/mapping"
	"sheetsync-service/internal/store"
	"sheetsync-service/pkg/models"
)

// SheetReader is the read half of the sheet transport.
type SheetReader interface {
	ReadRange(ctx context.Context, spreadsheetID, readRange string) ([]string, [][]interface{}, error)
}

// SheetClient is what a full reconciliation needs from the sheet side.
type SheetClient interface {
	SheetReader
	engine.SheetWriter
}

// AlertSender fans conflict digests out to config owners.
type AlertSender interface {
	SendConflictAlert(cfg *models.SyncConfig, conflicts []models.ConflictRecord)
}

// ReportArchiver stores batch reports off-box, best effort.
type ReportArchiver interface {
	UploadSyncReport(ctx context.Context, configID uuid.UUID, report interface{}) (string, error)
}

// SyncService drives reconciliation passes: detect → classify → transform
// → apply → snapshot commit. One instance is built at startup and handed
// to the transport and the scheduler; it holds no global state beyond the
// in-flight guard.
type SyncService struct {
	store      *store.Store
	crm        engine.CRMClient
	sheets     SheetClient
	resolver   *mapping.Resolver
	detector   *engine.Detector
	conflicts  *engine.ConflictManager
	processor  *engine.Processor
	executor   *engine.Executor
	alerts     AlertSender
	archiver   ReportArchiver
	maxRetries int

	mu       sync.Mutex
	inFlight map[uuid.UUID]bool

	stopCh chan struct{}
}

func NewSyncService(st *store.Store, crm engine.CRMClient, sheets SheetClient, alerts AlertSender, archiver ReportArchiver, cfg *config.Config) *SyncService {
	return &SyncService{
		store:      st,
		crm:        crm,
		sheets:     sheets,
		resolver:   mapping.NewResolver(),
		detector:   engine.NewDetector(),
		conflicts:  engine.NewConflictManager(crm),
		processor:  engine.NewProcessor(),
		executor:   engine.NewExecutor(cfg.BatchConcurrency, time.Duration(cfg.BatchDelayMS)*time.Millisecond, time.Duration(cfg.RequestTimeoutS)*time.Second),
		alerts:     alerts,
		archiver:   archiver,
		maxRetries: cfg.MaxRetries,
		inFlight:   map[uuid.UUID]bool{},
		stopCh:     make(chan struct{}),
	}
}

func (s *SyncService) Store() *store.Store {
	return s.store
}

func (s *SyncService) MaxRetries() int {
	return s.maxRetries
}

// StartScheduler launches the background polling loop: every tick, each
// enabled config whose interval elapsed gets a pass.
func (s *SyncService) StartScheduler() {
	go s.scheduleLoop()
	log.Println("🔄 [SCHED] Sync scheduler started")
}

func (s *SyncService) StopScheduler() {
	close(s.stopCh)
}

func (s *SyncService) scheduleLoop() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		}

		ctx := context.Background()
		configs, err := s.store.EnabledConfigs(ctx)
		if err != nil {
			log.Printf("⚠️ [SCHED] Could not list enabled configs: %v", err)
			continue
		}

		for _, cfg := range configs {
			if !passDue(cfg) {
				continue
			}
			go func(id uuid.UUID, name string) {
				if _, err := s.RunPass(context.Background(), id); err != nil {
					log.Printf("❌ [SCHED] Pass for %s failed: %v", name, err)
				}
			}(cfg.ID, cfg.Name)
		}
	}
}

func passDue(cfg models.SyncConfig) bool {
	if cfg.LastRunAt == nil {
		return true
	}
	return time.Since(*cfg.LastRunAt) >= time.Duration(cfg.PollInterval)*time.Second
}

// tryAcquire guards against two concurrent passes on the same config;
// a single row is never processed by two executions at once.
func (s *SyncService) tryAcquire(configID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[configID] {
		return false
	}
	s.inFlight[configID] = true
	return true
}

func (s *SyncService) release(configID uuid.UUID) {
	s.mu.Lock()
	delete(s.inFlight, configID)
	s.mu.Unlock()
}

// RunPass runs one full reconciliation for a config and returns the batch
// accounting. A pass already in flight for the same config is skipped.
func (s *SyncService) RunPass(ctx context.Context, configID uuid.UUID) (*engine.BatchResult, error) {
	if !s.tryAcquire(configID) {
		return nil, fmt.Errorf("sync pass already running for config %s", configID)
	}
	defer s.release(configID)

	cfg, err := s.store.GetConfig(ctx, configID)
	if err != nil {
		return nil, fmt.Errorf("sync config not found: %w", err)
	}
	if !cfg.Enabled {
		return nil, fmt.Errorf("sync config %s is disabled", cfg.Name)
	}
	if s.sheets == nil {
		return nil, fmt.Errorf("sheets client not configured")
	}

	mappings, err := s.store.MappingsFor(ctx, configID)
	if err != nil {
		return nil, err
	}
	if countMapped(mappings) == 0 {
		return nil, fmt.Errorf("no accepted field mappings for config %s — run detection first", cfg.Name)
	}

	_, rows, err := s.sheets.ReadRange(ctx, cfg.SpreadsheetID, cfg.SheetRange)
	if err != nil {
		return nil, err
	}

	snapshots, err := s.store.SnapshotsFor(ctx, configID)
	if err != nil {
		return nil, err
	}

	rowChanges := s.detector.Detect(rows, snapshots, mappings)
	log.Printf("🔍 [PASS] %s: %d rows read, %d rows changed", cfg.Name, len(rows), len(rowChanges))

	result := s.reconcile(ctx, cfg, rowChanges)

	now := time.Now()
	if err := s.store.TouchConfigRun(ctx, configID, now); err != nil {
		log.Printf("⚠️ [PASS] Could not update last run time for %s: %v", cfg.Name, err)
	}
	return result, nil
}

// reconcile is the shared back half of a pass: classify changed rows,
// queue clean changes, execute, alert and archive.
func (s *SyncService) reconcile(ctx context.Context, cfg *models.SyncConfig, rowChanges []engine.RowChange) *engine.BatchResult {
	if len(rowChanges) == 0 {
		return &engine.BatchResult{StartedAt: time.Now(), FinishedAt: time.Now()}
	}

	// Stale metadata only widens what we try to send; the remote still
	// rejects what it must, so a fetch failure degrades, not aborts.
	meta, err := s.crm.FieldMetadata(ctx, cfg.EntityType, false)
	if err != nil {
		log.Printf("⚠️ [PASS] Field metadata unavailable for %s, using static reserved list only: %v", cfg.EntityType, err)
		meta = nil
	}

	items, prefailed, newConflicts := s.assessRows(ctx, cfg, rowChanges, meta)

	result := s.executor.Execute(ctx, items, s.makeApply(cfg))
	s.failAborted(result.Items)
	result.Items = append(result.Items, prefailed...)
	result.Total += len(prefailed)
	result.Failed += len(prefailed)

	if len(newConflicts) > 0 && s.alerts != nil {
		s.alerts.SendConflictAlert(cfg, newConflicts)
	}
	if s.archiver != nil && result.Total > 0 {
		go func(configID uuid.UUID, report engine.BatchResult) {
			uploadCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if url, err := s.archiver.UploadSyncReport(uploadCtx, configID, report); err != nil {
				log.Printf("⚠️ [PASS] Report archive failed: %v", err)
			} else {
				log.Printf("📦 [PASS] Report archived: %s", url)
			}
		}(cfg.ID, result)
	}
	return &result
}

// assessRows runs the conflict stage per row and builds batch items from
// the clean changes. Every per-row failure is contained here: it becomes
// a detail-list line, never an aborted batch.
func (s *SyncService) assessRows(ctx context.Context, cfg *models.SyncConfig, rowChanges []engine.RowChange, meta map[string]engine.FieldMeta) ([]engine.BatchItem, []engine.ItemResult, []models.ConflictRecord) {
	var (
		items        []engine.BatchItem
		prefailed    []engine.ItemResult
		newConflicts []models.ConflictRecord
	)

	for _, rc := range rowChanges {
		assessment, err := s.conflicts.Inspect(ctx, cfg.EntityType, rc)
		if err != nil {
			log.Printf("❌ [PASS] Row %d assessment failed: %v", rc.RowNumber, err)
			prefailed = append(prefailed, s.failRow(ctx, cfg, rc, err))
			continue
		}

		if len(assessment.Conflicts) > 0 {
			created, err := s.store.SaveConflicts(ctx, cfg.ID, assessment.Conflicts)
			if err != nil {
				log.Printf("❌ [PASS] Could not persist conflicts for row %d: %v", rc.RowNumber, err)
			}
			newConflicts = append(newConflicts, created...)
		}

		s.applyWriteBacks(ctx, cfg, assessment)
		s.catchUpSnapshot(ctx, cfg, rc, assessment.Converged)

		if len(assessment.Apply) == 0 {
			continue
		}

		payload := s.processor.Build(rc.EntityID, rc.RowNumber, assessment.Apply, meta)
		if payload.Empty() {
			log.Printf("ℹ️ [PASS] Row %d: nothing to send after filtering", rc.RowNumber)
			continue
		}

		entry, err := s.createLogEntry(ctx, cfg.ID, payload)
		if err != nil {
			log.Printf("❌ [PASS] Could not create log entry for row %d: %v", rc.RowNumber, err)
			continue
		}
		items = append(items, engine.BatchItem{LogID: entry.ID, Payload: payload})
	}

	return items, prefailed, newConflicts
}

// applyWriteBacks pushes clean CRM-side changes into the sheet when the
// config is bidirectional; one-way configs just adopt the remote value as
// the new baseline so it stops re-surfacing.
func (s *SyncService) applyWriteBacks(ctx context.Context, cfg *models.SyncConfig, a *engine.RowAssessment) {
	if len(a.WriteBack) == 0 {
		return
	}

	fields := map[string]string{}
	for _, wb := range a.WriteBack {
		if cfg.Direction == models.DirectionBidirectional && s.sheets != nil {
			if err := s.sheets.UpdateCell(ctx, cfg.SpreadsheetID, cfg.SheetRange, wb.RowNumber, wb.ColumnIndex, wb.NewValue); err != nil {
				log.Printf("❌ [PASS] Write-back row %d col %d failed: %v", wb.RowNumber, wb.ColumnIndex, err)
				continue
			}
		}
		fields[wb.CRMField] = wb.NewValue
	}
	if len(fields) == 0 {
		return
	}
	if err := s.store.UpdateSnapshotFields(ctx, cfg.ID, a.RowNumber, a.EntityID, fields); err != nil {
		log.Printf("❌ [PASS] Snapshot update after write-back failed for row %d: %v", a.RowNumber, err)
	}
}

// catchUpSnapshot records convergent changes — both sides already agree,
// only the baseline lags.
func (s *SyncService) catchUpSnapshot(ctx context.Context, cfg *models.SyncConfig, rc engine.RowChange, converged []engine.ChangeRecord) {
	if len(converged) == 0 {
		return
	}
	fields := map[string]string{}
	for _, c := range converged {
		fields[c.CRMField] = c.NewValue
	}
	if err := s.store.UpdateSnapshotFields(ctx, cfg.ID, rc.RowNumber, rc.EntityID, fields); err != nil {
		log.Printf("❌ [PASS] Snapshot catch-up failed for row %d: %v", rc.RowNumber, err)
	}
}

// failRow records a row that never reached the executor (validation or
// assessment failure) as a failed log entry plus a detail-list line.
func (s *SyncService) failRow(ctx context.Context, cfg *models.SyncConfig, rc engine.RowChange, cause error) engine.ItemResult {
	entry := &models.SyncLogEntry{
		SyncConfigID: cfg.ID,
		RowNumber:    rc.RowNumber,
		EntityID:     rc.EntityID,
		Status:       models.SyncStatusPending,
		StartedAt:    time.Now(),
	}
	if err := s.store.CreateLogEntry(ctx, entry); err != nil {
		log.Printf("⚠️ [PASS] Could not record failed row %d: %v", rc.RowNumber, err)
	} else if err := s.store.TransitionLog(ctx, entry.ID, models.SyncStatusFailed, cause.Error()); err != nil {
		log.Printf("⚠️ [PASS] Could not mark row %d failed: %v", rc.RowNumber, err)
	}
	return engine.ItemResult{
		LogID:     entry.ID,
		RowNumber: rc.RowNumber,
		EntityID:  rc.EntityID,
		Status:    models.SyncStatusFailed,
		Error:     cause.Error(),
	}
}

func (s *SyncService) createLogEntry(ctx context.Context, configID uuid.UUID, payload engine.UpdatePayload) (*models.SyncLogEntry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	entry := &models.SyncLogEntry{
		SyncConfigID: configID,
		RowNumber:    payload.RowNumber,
		EntityID:     payload.EntityID,
		Payload:      raw,
		Status:       models.SyncStatusPending,
		StartedAt:    time.Now(),
	}
	if err := s.store.CreateLogEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// makeApply builds the per-item operation the executor runs: transition
// the log, call the CRM, and commit snapshot+log atomically on success.
// Failure bookkeeping uses a fresh context — the per-call one may already
// be past its deadline, and the failed status must still be recorded.
func (s *SyncService) makeApply(cfg *models.SyncConfig) engine.ApplyFunc {
	return func(ctx context.Context, item engine.BatchItem) error {
		if err := s.store.TransitionLog(ctx, item.LogID, models.SyncStatusSyncing, ""); err != nil {
			return err
		}

		if item.Payload.EntityID == "" {
			err := fmt.Errorf("row %d: missing CRM entity id", item.Payload.RowNumber)
			s.recordFailure(item.LogID, err)
			return err
		}

		if err := s.crm.UpdateEntity(ctx, cfg.EntityType, item.Payload.EntityID, item.Payload.Fields); err != nil {
			s.recordFailure(item.LogID, err)
			return err
		}

		applied := make(map[string]string, len(item.Payload.Fields))
		for field, value := range item.Payload.Fields {
			applied[field] = engine.Normalize(value)
		}
		if err := s.store.CommitRowSuccess(ctx, item.LogID, cfg.ID, item.Payload.RowNumber, item.Payload.EntityID, applied); err != nil {
			// The CRM apply went through but the commit did not; the
			// entry must still land in failed or it stays stuck in
			// syncing, invisible to status queries and retries.
			s.recordFailure(item.LogID, err)
			return err
		}
		return nil
	}
}

// failAborted sweeps items the executor cut off before their apply ran
// (cancelled batch). Their log entries are still pending and must move to
// failed so status queries and the retry sweep can see them. Bookkeeping
// runs on a fresh context — the batch one is the thing that got cancelled.
func (s *SyncService) failAborted(items []engine.ItemResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, ir := range items {
		if ir.Status != models.SyncStatusFailed || ir.LogID == uuid.Nil {
			continue
		}
		entry, err := s.store.GetLog(ctx, ir.LogID)
		if err != nil || entry.Status != models.SyncStatusPending {
			continue
		}
		if err := s.store.TransitionLog(ctx, ir.LogID, models.SyncStatusFailed, ir.Error); err != nil {
			log.Printf("⚠️ [EXEC] Could not record aborted row %d: %v", ir.RowNumber, err)
		}
	}
}

func (s *SyncService) recordFailure(logID uuid.UUID, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.TransitionLog(ctx, logID, models.SyncStatusFailed, cause.Error()); err != nil {
		log.Printf("⚠️ [EXEC] Could not record failure for log %s: %v", logID, err)
	}
}

func countMapped(mappings []models.FieldMapping) int {
	n := 0
	for _, m := range mappings {
		if m.Mapped && m.CRMField != "" {
			n++
		}
	}
	return n
}
