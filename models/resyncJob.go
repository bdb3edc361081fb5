package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	ResyncBatchSizeDefault = 1000
	ResyncBatchSizeMin     = 10
	ResyncBatchSizeMax     = 5000
)

// ResyncJob backfills one (subscriber, analytics type) pair by walking the
// full reference-data set in (modified_at, id) order and emitting Snapshot
// events. The cursor only moves forward; a job runs until the cursor reaches
// the end of data. Failures back off but never go terminal — completion is
// required for subscriber correctness.
type ResyncJob struct {
	ID               int             `gorm:"primary_key" json:"id"`
	OrgId            string          `gorm:"size:64;index:idx_resync_pair,priority:1;not null" json:"org_id"`
	AnalyticsTypeId  int             `gorm:"index:idx_resync_pair,priority:2;not null" json:"analytics_type_id"`
	Status           ResyncJobStatus `gorm:"size:20;not null;index" json:"status"`
	CursorModifiedAt *time.Time      `json:"cursor_modified_at"`
	CursorId         int             `gorm:"not null;default:0" json:"cursor_id"`
	BatchSize        int             `gorm:"not null" json:"batch_size"`
	FailureCount     int             `gorm:"not null;default:0" json:"failure_count"`
	LastError        *string         `gorm:"type:text" json:"last_error"`
	NextRetryAt      *time.Time      `gorm:"index" json:"next_retry_at"`
	LockedAt         *time.Time      `json:"locked_at"`
	LockedBy         *string         `gorm:"size:64" json:"locked_by"`
	CreatedAt        time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// ClampResyncBatchSize bounds a requested page size to [10, 5000].
func ClampResyncBatchSize(size int) int {
	if size <= 0 {
		return ResyncBatchSizeDefault
	}
	if size < ResyncBatchSizeMin {
		return ResyncBatchSizeMin
	}
	if size > ResyncBatchSizeMax {
		return ResyncBatchSizeMax
	}
	return size
}

// createResyncJobTx inserts a fresh Pending job for the pair unless one is
// already open; re-enabling a subscription twice in a row must not double the
// backfill.
func createResyncJobTx(tx *gorm.DB, ctx context.Context, orgId string, analyticsTypeId int) error {
	var open ResyncJob
	err := tx.WithContext(ctx).
		Where("org_id = ? AND analytics_type_id = ? AND status IN ?",
			orgId, analyticsTypeId,
			[]ResyncJobStatus{ResyncJobStatusPending, ResyncJobStatusProcessing}).
		First(&open).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	job := ResyncJob{
		OrgId:           orgId,
		AnalyticsTypeId: analyticsTypeId,
		Status:          ResyncJobStatusPending,
		BatchSize:       ResyncBatchSizeDefault,
	}
	return tx.WithContext(ctx).Create(&job).Error
}
