// internal/engine/executor.go
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"sheetsync-service/pkg/models"
)

// BatchItem is one payload queued for delivery, tied to its log entry.
type BatchItem struct {
	LogID   uuid.UUID
	Payload UpdatePayload
}

// ItemResult is the per-item accounting line of one batch run.
type ItemResult struct {
	LogID     uuid.UUID         `json:"log_id"`
	RowNumber int               `json:"row_number"`
	EntityID  string            `json:"entity_id"`
	Status    models.SyncStatus `json:"status"`
	Error     string            `json:"error,omitempty"`
	Duration  time.Duration     `json:"duration_ns"`
}

// BatchResult is what one Execute invocation hands back. The invariants
// hold by construction: Successful+Failed == Total == len(Items).
type BatchResult struct {
	Total      int          `json:"total"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Items      []ItemResult `json:"items"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// ApplyFunc performs the whole per-item operation: the remote call plus
// the snapshot/log commit on success. It runs under the per-call timeout.
type ApplyFunc func(ctx context.Context, item BatchItem) error

// Executor applies payloads in fixed-size concurrent batches with a pause
// between batches so a rate-limited remote is not hammered. It keeps no
// state across invocations; all accounting is local to one Execute call.
type Executor struct {
	concurrency int
	batchDelay  time.Duration
	callTimeout time.Duration
}

func NewExecutor(concurrency int, batchDelay, callTimeout time.Duration) *Executor {
	if concurrency < 1 {
		concurrency = 5
	}
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &Executor{
		concurrency: concurrency,
		batchDelay:  batchDelay,
		callTimeout: callTimeout,
	}
}

// Execute runs items through apply in batches of the concurrency limit.
// A failing or panicking item is recorded and never aborts its siblings;
// a cancelled ctx stops issuing further batches, in-flight calls finish.
func (e *Executor) Execute(ctx context.Context, items []BatchItem, apply ApplyFunc) BatchResult {
	result := BatchResult{
		Total:     len(items),
		Items:     make([]ItemResult, len(items)),
		StartedAt: time.Now(),
	}

	for start := 0; start < len(items); start += e.concurrency {
		end := start + e.concurrency
		if end > len(items) {
			end = len(items)
		}

		if start > 0 {
			if ctx.Err() != nil {
				// Caller gave up: remaining items are recorded as
				// failed without being attempted.
				for i := start; i < len(items); i++ {
					result.Items[i] = e.skippedResult(items[i], ctx.Err())
				}
				break
			}
			time.Sleep(e.batchDelay)
		}

		done := make(chan struct{})
		for i := start; i < end; i++ {
			go func(idx int) {
				defer func() { done <- struct{}{} }()
				result.Items[idx] = e.applyOne(ctx, items[idx], apply)
			}(i)
		}
		for i := start; i < end; i++ {
			<-done
		}
	}

	for i := range result.Items {
		if result.Items[i].Status == models.SyncStatusCompleted {
			result.Successful++
		} else {
			result.Failed++
		}
	}
	result.FinishedAt = time.Now()

	log.Printf("📊 [EXEC] Batch finished: %d total, %d ok, %d failed in %v",
		result.Total, result.Successful, result.Failed, result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))
	return result
}

func (e *Executor) applyOne(ctx context.Context, item BatchItem, apply ApplyFunc) (res ItemResult) {
	started := time.Now()
	res = ItemResult{
		LogID:     item.LogID,
		RowNumber: item.Payload.RowNumber,
		EntityID:  item.Payload.EntityID,
		Status:    models.SyncStatusCompleted,
	}

	// One bad row must never take the batch loop down with it.
	defer func() {
		if r := recover(); r != nil {
			res.Status = models.SyncStatusFailed
			res.Error = fmt.Sprintf("panic: %v", r)
			log.Printf("🔥 [EXEC] Row %d panicked: %v", item.Payload.RowNumber, r)
		}
		res.Duration = time.Since(started)
	}()

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	if err := apply(callCtx, item); err != nil {
		res.Status = models.SyncStatusFailed
		res.Error = err.Error()
		log.Printf("❌ [EXEC] Row %d (%s) failed: %v", item.Payload.RowNumber, item.Payload.EntityID, err)
		return res
	}

	log.Printf("✅ [EXEC] Row %d (%s) applied: %v", item.Payload.RowNumber, item.Payload.EntityID, item.Payload.FieldNames())
	return res
}

func (e *Executor) skippedResult(item BatchItem, cause error) ItemResult {
	return ItemResult{
		LogID:     item.LogID,
		RowNumber: item.Payload.RowNumber,
		EntityID:  item.Payload.EntityID,
		Status:    models.SyncStatusFailed,
		Error:     fmt.Sprintf("batch aborted: %v", cause),
	}
}
