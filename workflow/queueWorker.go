package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ecofhq/portal_backend/config"
	"github.com/ecofhq/portal_backend/extsys"
	"github.com/ecofhq/portal_backend/models"
	"github.com/ecofhq/portal_backend/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PayloadBuilder maps a document snapshot into the external wire shape and
// returns the serialized payload plus its idempotency key.
type PayloadBuilder interface {
	Build(ctx context.Context, doc *models.Document, version *models.DocumentVersion) ([]byte, string, error)
}

// ExternalClient is the outbound boundary to the accounting system.
type ExternalClient interface {
	CreateOrUpdateDocument(ctx context.Context, payload []byte) (*extsys.ExternalResult, error)
	PostDocument(ctx context.Context, externalRef string) (*extsys.ExternalResult, error)
}

// EnqueueDocument builds the payload for the document's current version
// snapshot and inserts a PENDING queue item. Enqueue is append-only: calling
// it twice for the same document creates two independent items (manual resend
// support); duplicate external side effects are prevented by the idempotency
// key, not here. Returns utils.ErrorRecordNotFound for an unknown document.
func EnqueueDocument(ctx context.Context, builder PayloadBuilder, documentId int, operation models.QueueOperation) (*models.IntegrationQueueItem, error) {
	doc, err := models.GetDocument(ctx, documentId)
	if err != nil {
		return nil, err
	}
	version, err := models.GetDocumentVersion(ctx, doc.ID, doc.CurrentVersionNo)
	if err != nil {
		return nil, err
	}
	payload, idempotencyKey, err := builder.Build(ctx, doc, version)
	if err != nil {
		return nil, err
	}

	item := models.IntegrationQueueItem{
		OrgId:          doc.OrgId,
		DocumentId:     doc.ID,
		Operation:      operation,
		Status:         models.QueueItemStatusPending,
		Payload:        payload,
		IdempotencyKey: idempotencyKey,
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&item).Error; err != nil {
			return err
		}
		// Frozen documents move to QueuedToExternal as an automatic
		// consequence of the enqueue; resends of already-sent documents
		// keep their current status.
		if models.CanTransition(doc.CurrentStatus, models.DocumentStatusQueuedToExternal) {
			if err := models.TransitionDocumentTx(tx, ctx, doc.ID, models.DocumentStatusQueuedToExternal); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ResendDocument is operator sugar for a fresh UpsertDocument enqueue,
// intentionally allowed unlimited times.
func ResendDocument(ctx context.Context, builder PayloadBuilder, documentId int) (*models.IntegrationQueueItem, error) {
	return EnqueueDocument(ctx, builder, documentId, models.QueueOperationUpsertDocument)
}

// QueueWorker drains the integration queue on a fixed interval. Claims are a
// single conditional transition (PENDING -> PROCESSING under FOR UPDATE SKIP
// LOCKED) so concurrent workers never double-process an item; claimed items
// are then pushed to the external system with bounded fan-out.
type QueueWorker struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	Client ExternalClient

	WorkerID    string
	BatchSize   int
	Interval    time.Duration
	LockTTL     time.Duration
	MaxAttempts int
	Concurrency int
}

func NewQueueWorker(db *gorm.DB, logger *logrus.Logger, client ExternalClient) *QueueWorker {
	return &QueueWorker{
		DB:          db,
		Logger:      logger,
		Client:      client,
		WorkerID:    "queue-" + uuid.NewString(),
		BatchSize:   50,
		Interval:    2 * time.Second,
		LockTTL:     60 * time.Second,
		MaxAttempts: 3,
		Concurrency: 8,
	}
}

func (w *QueueWorker) Run(ctx context.Context) {
	if w == nil || w.DB == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.processOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.Interval):
		}
	}
}

func (w *QueueWorker) processOnce(ctx context.Context) {
	claimed := w.claim(ctx)
	if len(claimed) == 0 {
		return
	}

	sem := make(chan struct{}, w.Concurrency)
	var wg sync.WaitGroup
	for i := range claimed {
		item := claimed[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.processItem(ctx, item)
		}()
	}
	wg.Wait()
}

// claim atomically selects eligible items oldest-first and flips them to
// PROCESSING. PROCESSING rows with a stale lock are reclaimed (worker crashed
// mid-batch) and keep their attempt counter.
func (w *QueueWorker) claim(ctx context.Context) []models.IntegrationQueueItem {
	now := time.Now().UTC()
	staleBefore := now.Add(-w.LockTTL)

	var claimed []models.IntegrationQueueItem
	err := w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where(`
				(status = ?)
				OR
				(status = ? AND locked_at IS NOT NULL AND locked_at <= ?)
			`, models.QueueItemStatusPending, models.QueueItemStatusProcessing, staleBefore).
			Order("created_at ASC, id ASC").
			Limit(w.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		for i := range claimed {
			claimed[i].Status = models.QueueItemStatusProcessing
			claimed[i].LockedAt = &now
			claimed[i].LockedBy = &w.WorkerID
			if err := tx.Model(&models.IntegrationQueueItem{}).
				Where("id = ?", claimed[i].ID).
				Updates(map[string]interface{}{
					"status":    models.QueueItemStatusProcessing,
					"locked_at": claimed[i].LockedAt,
					"locked_by": claimed[i].LockedBy,
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if w.Logger != nil {
			w.Logger.WithFields(logrus.Fields{
				"field":     "QueueWorker",
				"worker_id": w.WorkerID,
			}).Error("queue claim failed: " + err.Error())
		}
		return nil
	}
	return claimed
}

func (w *QueueWorker) processItem(ctx context.Context, item models.IntegrationQueueItem) {
	result, portalStatus, err := w.dispatch(ctx, item)
	if err != nil {
		w.markFailure(ctx, item, err)
		return
	}

	if err := models.ApplyExternalResult(ctx, item.DocumentId, result.Ref, result.Status, portalStatus); err != nil {
		w.markFailure(ctx, item, err)
		return
	}
	w.markCompleted(ctx, item)
}

func (w *QueueWorker) dispatch(ctx context.Context, item models.IntegrationQueueItem) (*extsys.ExternalResult, models.DocumentStatus, error) {
	switch item.Operation {
	case models.QueueOperationUpsertDocument:
		result, err := w.Client.CreateOrUpdateDocument(ctx, item.Payload)
		if err != nil {
			return nil, "", err
		}
		return result, models.DocumentStatusSentToExternal, nil

	case models.QueueOperationPostDocument:
		doc, err := models.GetDocument(ctx, item.DocumentId)
		if err != nil {
			return nil, "", err
		}
		if doc.ExternalRef == nil || *doc.ExternalRef == "" {
			return nil, "", fmt.Errorf("document %d has no external reference to post", doc.ID)
		}
		result, err := w.Client.PostDocument(ctx, *doc.ExternalRef)
		if err != nil {
			return nil, "", err
		}
		return result, models.DocumentStatusPostedExternally, nil

	case models.QueueOperationCancelDocument:
		// Accepted at enqueue time, but there is no external cancel call yet.
		return nil, "", fmt.Errorf("%w: operation %s", utils.ErrorNotImplemented, item.Operation)

	default:
		return nil, "", fmt.Errorf("unknown queue operation %q", item.Operation)
	}
}

// markFailure increments the attempt counter. Below the ceiling the item
// returns to PENDING and competes on creation time at the next tick; at the
// ceiling it goes terminal FAILED and the document keeps its last good status
// with the error recorded for operators.
func (w *QueueWorker) markFailure(ctx context.Context, item models.IntegrationQueueItem, cause error) {
	attempts := item.Attempts + 1
	errMsg := cause.Error()
	status := models.QueueItemStatusPending
	if attempts >= w.MaxAttempts {
		status = models.QueueItemStatusFailed
	}

	dbErr := w.DB.WithContext(ctx).Model(&models.IntegrationQueueItem{}).
		Where("id = ?", item.ID).
		Updates(map[string]interface{}{
			"status":     status,
			"attempts":   attempts,
			"last_error": &errMsg,
			"locked_at":  nil,
			"locked_by":  nil,
		}).Error

	if status == models.QueueItemStatusFailed {
		_ = models.RecordDocumentError(ctx, item.DocumentId, errMsg)
	}

	if w.Logger != nil {
		entry := w.Logger.WithFields(logrus.Fields{
			"field":       "QueueWorker",
			"worker_id":   w.WorkerID,
			"org_id":      item.OrgId,
			"document_id": item.DocumentId,
			"item_id":     item.ID,
			"operation":   item.Operation,
			"attempts":    attempts,
			"status":      status,
		})
		if dbErr != nil {
			entry = entry.WithField("db_error", dbErr.Error())
		}
		entry.Error("queue item processing failed: " + errMsg)
	}
}

func (w *QueueWorker) markCompleted(ctx context.Context, item models.IntegrationQueueItem) {
	_ = w.DB.WithContext(ctx).Model(&models.IntegrationQueueItem{}).
		Where("id = ?", item.ID).
		Updates(map[string]interface{}{
			"status":     models.QueueItemStatusCompleted,
			"last_error": nil,
			"locked_at":  nil,
			"locked_by":  nil,
		}).Error

	if w.Logger != nil {
		w.Logger.WithFields(logrus.Fields{
			"field":       "QueueWorker",
			"worker_id":   w.WorkerID,
			"org_id":      item.OrgId,
			"document_id": item.DocumentId,
			"item_id":     item.ID,
			"operation":   item.Operation,
		}).Info("queue item completed")
	}
}
