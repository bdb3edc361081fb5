package models

import (
	"context"
	"time"

	"github.com/ecofhq/portal_backend/config"
	"gorm.io/gorm"
)

// AnalyticsEvent is one entry of the append-only replication log. Seq is the
// auto-increment primary key and the sole ordering authority consumers rely
// on; rows are never mutated or deleted. Only the reference-data writer and
// the resync processor append here.
type AnalyticsEvent struct {
	Seq             int64              `gorm:"primary_key;autoIncrement" json:"seq"`
	AnalyticsTypeId int                `gorm:"index;not null" json:"analytics_type_id"`
	ValueId         int                `gorm:"index;not null" json:"value_id"`
	EventType       AnalyticsEventType `gorm:"size:20;not null" json:"event_type"`
	Payload         []byte             `gorm:"type:json" json:"payload"`
	CreatedAt       time.Time          `gorm:"autoCreateTime" json:"created_at"`
}

// AppendAnalyticsEvents bulk-appends events inside the caller's transaction.
// Used by the resync processor to emit one page of Snapshot events atomically
// with the job's cursor advance.
func AppendAnalyticsEvents(tx *gorm.DB, ctx context.Context, events []AnalyticsEvent) error {
	if len(events) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(&events).Error
}

// GetEventsAfter reads up to limit events with seq strictly greater than
// afterSeq, restricted to the given analytics types, in ascending seq order.
// An empty typeIds set matches nothing: a subscriber with no enabled types
// receives no events.
func GetEventsAfter(ctx context.Context, afterSeq int64, typeIds []int, limit int) ([]AnalyticsEvent, error) {
	if len(typeIds) == 0 {
		return nil, nil
	}
	db := config.GetDB()
	var events []AnalyticsEvent
	if err := db.WithContext(ctx).
		Where("seq > ? AND analytics_type_id IN ?", afterSeq, typeIds).
		Order("seq ASC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
