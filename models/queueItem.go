package models

import (
	"context"
	"errors"
	"time"

	"github.com/ecofhq/portal_backend/config"
	"github.com/ecofhq/portal_backend/utils"
	"gorm.io/gorm"
)

// IntegrationQueueItem is one "push this document" job. Rows are append-only
// from the caller's point of view: they are never deleted and serve as the
// audit trail of every outbound attempt. Only the worker holding the claim
// (locked_by) mutates a non-terminal row.
type IntegrationQueueItem struct {
	ID             int             `gorm:"primary_key" json:"id"`
	OrgId          string          `gorm:"index;not null" json:"org_id"`
	DocumentId     int             `gorm:"index;not null" json:"document_id"`
	Operation      QueueOperation  `gorm:"size:30;not null" json:"operation"`
	Status         QueueItemStatus `gorm:"size:20;not null;index" json:"status"`
	Attempts       int             `gorm:"not null;default:0" json:"attempts"`
	LastError      *string         `gorm:"type:text" json:"last_error"`
	Payload        []byte          `gorm:"type:json" json:"payload"`
	IdempotencyKey string          `gorm:"size:128;not null;index" json:"idempotency_key"`
	LockedAt       *time.Time      `json:"locked_at"`
	LockedBy       *string         `gorm:"size:64" json:"locked_by"`
	CreatedAt      time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetQueueItem(ctx context.Context, queueItemId int) (*IntegrationQueueItem, error) {
	db := config.GetDB()
	var item IntegrationQueueItem
	if err := db.WithContext(ctx).Where("id = ?", queueItemId).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &item, nil
}

// RetryQueueItem resets a FAILED item back to PENDING with attempts cleared
// so the next worker tick picks it up again.
func RetryQueueItem(ctx context.Context, queueItemId int) (*IntegrationQueueItem, error) {
	db := config.GetDB()
	var item IntegrationQueueItem
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", queueItemId).First(&item).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		if item.Status != QueueItemStatusFailed {
			return errors.New("only failed queue items can be retried")
		}
		if err := tx.Model(&IntegrationQueueItem{}).
			Where("id = ?", item.ID).
			Updates(map[string]interface{}{
				"status":     QueueItemStatusPending,
				"attempts":   0,
				"last_error": nil,
				"locked_at":  nil,
				"locked_by":  nil,
			}).Error; err != nil {
			return err
		}
		item.Status = QueueItemStatusPending
		item.Attempts = 0
		item.LastError = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// QueueStatusView is the operator-facing view of the latest queue item for a
// document.
type QueueStatusView struct {
	QueueItemId int             `json:"queue_item_id"`
	DocumentId  int             `json:"document_id"`
	Operation   QueueOperation  `json:"operation"`
	Status      QueueItemStatus `json:"status"`
	Attempts    int             `json:"attempts"`
	LastError   *string         `json:"last_error"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func GetLatestQueueStatus(ctx context.Context, documentId int) (*QueueStatusView, error) {
	db := config.GetDB()
	var item IntegrationQueueItem
	if err := db.WithContext(ctx).
		Where("document_id = ?", documentId).
		Order("id DESC").
		First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &QueueStatusView{
		QueueItemId: item.ID,
		DocumentId:  item.DocumentId,
		Operation:   item.Operation,
		Status:      item.Status,
		Attempts:    item.Attempts,
		LastError:   item.LastError,
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
	}, nil
}
