package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ecofhq/portal_backend/models"
	"github.com/ecofhq/portal_backend/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	resyncRetryBase = 2 * time.Minute
	resyncRetryCap  = time.Hour
)

// ResyncWorker walks pending resync jobs one page per tick. A job stays
// PROCESSING across ticks while its cursor advances; it completes only when a
// page comes back short. Page emission and cursor advance commit in one
// transaction, so a crash between pages re-emits at most one page — consumers
// dedupe on value id, so replays are harmless.
type ResyncWorker struct {
	DB     *gorm.DB
	Logger *logrus.Logger

	WorkerID string
	MaxJobs  int
	Interval time.Duration
	LockTTL  time.Duration
}

func NewResyncWorker(db *gorm.DB, logger *logrus.Logger) *ResyncWorker {
	return &ResyncWorker{
		DB:       db,
		Logger:   logger,
		WorkerID: "resync-" + uuid.NewString(),
		MaxJobs:  5,
		Interval: 5 * time.Second,
		LockTTL:  2 * time.Minute,
	}
}

func (w *ResyncWorker) Run(ctx context.Context) {
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

func (w *ResyncWorker) processOnce(ctx context.Context) {
	for _, job := range w.claim(ctx) {
		w.processPage(ctx, job)
	}
}

// claim picks runnable jobs: Pending jobs past their retry gate, plus
// Processing jobs whose lock went stale (owner crashed mid-walk — the cursor
// is durable, so another worker just continues from it).
func (w *ResyncWorker) claim(ctx context.Context) []models.ResyncJob {
	now := time.Now().UTC()
	staleBefore := now.Add(-w.LockTTL)

	var claimed []models.ResyncJob
	err := w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where(`
				(status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?))
				OR
				(status = ? AND (locked_at IS NULL OR locked_at <= ?))
			`, models.ResyncJobStatusPending, now, models.ResyncJobStatusProcessing, staleBefore).
			Order("created_at ASC, id ASC").
			Limit(w.MaxJobs).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		for i := range claimed {
			claimed[i].Status = models.ResyncJobStatusProcessing
			claimed[i].LockedAt = &now
			claimed[i].LockedBy = &w.WorkerID
			if err := tx.Model(&models.ResyncJob{}).
				Where("id = ?", claimed[i].ID).
				Updates(map[string]interface{}{
					"status":    models.ResyncJobStatusProcessing,
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
				"field":     "ResyncWorker",
				"worker_id": w.WorkerID,
			}).Error("resync claim failed: " + err.Error())
		}
		return nil
	}
	return claimed
}

// processPage reads one page after the job's cursor, appends Snapshot events
// and advances the cursor in the same transaction. A short page completes the
// job.
func (w *ResyncWorker) processPage(ctx context.Context, job models.ResyncJob) {
	// A backfill for a subscriber that vanished or went inactive in the
	// meantime has nobody to deliver to; close it out instead of walking
	// the whole data set.
	sub, err := models.GetWebhookSubscription(ctx, job.OrgId)
	if err != nil && !errors.Is(err, utils.ErrorRecordNotFound) {
		w.markFailure(ctx, job, err)
		return
	}
	if sub == nil || !sub.IsActive {
		w.markCompleted(ctx, job)
		return
	}

	batchSize := models.ClampResyncBatchSize(job.BatchSize)
	page, pageErr := models.GetAnalyticsValuePage(ctx, job.AnalyticsTypeId, job.CursorModifiedAt, job.CursorId, batchSize)
	if pageErr != nil {
		w.markFailure(ctx, job, pageErr)
		return
	}

	err = w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		events := make([]models.AnalyticsEvent, 0, len(page))
		for i := range page {
			payload, err := json.Marshal(&page[i])
			if err != nil {
				return err
			}
			events = append(events, models.AnalyticsEvent{
				AnalyticsTypeId: page[i].AnalyticsTypeId,
				ValueId:         page[i].ID,
				EventType:       models.AnalyticsEventTypeSnapshot,
				Payload:         payload,
			})
		}
		if err := models.AppendAnalyticsEvents(tx, ctx, events); err != nil {
			return err
		}

		updates := map[string]interface{}{
			"failure_count": 0,
			"last_error":    nil,
			"next_retry_at": nil,
			"locked_at":     nil,
			"locked_by":     nil,
		}
		if len(page) > 0 {
			last := page[len(page)-1]
			updates["cursor_modified_at"] = last.ModifiedAt
			updates["cursor_id"] = last.ID
		}
		if len(page) == 0 {
			updates["status"] = models.ResyncJobStatusCompleted
		} else {
			updates["status"] = models.ResyncJobStatusProcessing
		}
		return tx.Model(&models.ResyncJob{}).
			Where("id = ?", job.ID).
			Updates(updates).Error
	})
	if err != nil {
		w.markFailure(ctx, job, err)
		return
	}

	if w.Logger != nil && len(page) == 0 {
		w.Logger.WithFields(logrus.Fields{
			"field":             "ResyncWorker",
			"worker_id":         w.WorkerID,
			"job_id":            job.ID,
			"org_id":            job.OrgId,
			"analytics_type_id": job.AnalyticsTypeId,
		}).Info("resync job completed")
	}
}

// markCompleted closes a job without emitting anything (subscriber gone or
// inactive).
func (w *ResyncWorker) markCompleted(ctx context.Context, job models.ResyncJob) {
	_ = w.DB.WithContext(ctx).Model(&models.ResyncJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":        models.ResyncJobStatusCompleted,
			"last_error":    nil,
			"next_retry_at": nil,
			"locked_at":     nil,
			"locked_by":     nil,
		}).Error
}

// markFailure returns the job to Pending with a backed-off retry gate. Resync
// jobs never go terminal on error: the backfill must eventually finish.
func (w *ResyncWorker) markFailure(ctx context.Context, job models.ResyncJob, cause error) {
	failureCount := job.FailureCount + 1
	errMsg := cause.Error()
	nextRetryAt := time.Now().UTC().Add(resyncBackoff(failureCount))

	dbErr := w.DB.WithContext(ctx).Model(&models.ResyncJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":        models.ResyncJobStatusPending,
			"failure_count": failureCount,
			"last_error":    &errMsg,
			"next_retry_at": nextRetryAt,
			"locked_at":     nil,
			"locked_by":     nil,
		}).Error

	if w.Logger != nil {
		entry := w.Logger.WithFields(logrus.Fields{
			"field":             "ResyncWorker",
			"worker_id":         w.WorkerID,
			"job_id":            job.ID,
			"org_id":            job.OrgId,
			"analytics_type_id": job.AnalyticsTypeId,
			"failure_count":     failureCount,
			"next_retry_at":     nextRetryAt,
		})
		if dbErr != nil {
			entry = entry.WithField("db_error", dbErr.Error())
		}
		entry.Error("resync page failed: " + errMsg)
	}
}

// resyncBackoff doubles from 2 minutes per consecutive failure, capped at one
// hour.
func resyncBackoff(failureCount int) time.Duration {
	if failureCount < 1 {
		failureCount = 1
	}
	delay := resyncRetryBase
	for i := 1; i < failureCount; i++ {
		delay *= 2
		if delay >= resyncRetryCap {
			return resyncRetryCap
		}
	}
	return delay
}
