package models

import (
	"context"
	"errors"
	"time"

	"github.com/ecofhq/portal_backend/config"
	"github.com/ecofhq/portal_backend/utils"
	"gorm.io/gorm"
)

// WebhookSubscription is one organization's delivery endpoint for analytics
// events. LastDeliveredSeq only moves forward, and only the dispatcher moves
// it; admin actions touch URL/secret/active. A failing subscription backs off
// but is never auto-disabled.
type WebhookSubscription struct {
	ID               int        `gorm:"primary_key" json:"id"`
	OrgId            string     `gorm:"size:64;uniqueIndex;not null" json:"org_id"`
	DeliveryUrl      string     `gorm:"size:2048;not null" json:"delivery_url"`
	Secret           string     `gorm:"size:128;not null" json:"-"`
	IsActive         bool       `gorm:"not null;default:false;index" json:"is_active"`
	LastDeliveredSeq int64      `gorm:"not null;default:0" json:"last_delivered_seq"`
	FailureCount     int        `gorm:"not null;default:0" json:"failure_count"`
	LastError        *string    `gorm:"type:text" json:"last_error"`
	NextRetryAt      *time.Time `gorm:"index" json:"next_retry_at"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// WebhookSubscriptionType marks one analytics type as enabled for a
// subscription. Disabled types are filtered out at event-read time, so
// last_delivered_seq may legitimately lag the global log.
type WebhookSubscriptionType struct {
	ID              int       `gorm:"primary_key" json:"id"`
	SubscriptionId  int       `gorm:"uniqueIndex:uniq_sub_type,priority:1;not null" json:"subscription_id"`
	AnalyticsTypeId int       `gorm:"uniqueIndex:uniq_sub_type,priority:2;not null" json:"analytics_type_id"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type NewWebhookSubscription struct {
	OrgId       string `json:"org_id" binding:"required"`
	DeliveryUrl string `json:"delivery_url" binding:"required,url"`
	Secret      string `json:"secret" binding:"required,min=16"`
	IsActive    bool   `json:"is_active"`
}

func GetWebhookSubscription(ctx context.Context, orgId string) (*WebhookSubscription, error) {
	db := config.GetDB()
	var sub WebhookSubscription
	if err := db.WithContext(ctx).Where("org_id = ?", orgId).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// GetEnabledTypeIds lists the analytics type ids a subscription currently has
// enabled. The dispatcher applies this filter on every read, not at enqueue
// time, so toggling a type takes effect immediately.
func GetEnabledTypeIds(ctx context.Context, subscriptionId int) ([]int, error) {
	db := config.GetDB()
	var typeIds []int
	if err := db.WithContext(ctx).
		Model(&WebhookSubscriptionType{}).
		Where("subscription_id = ?", subscriptionId).
		Order("analytics_type_id ASC").
		Pluck("analytics_type_id", &typeIds).Error; err != nil {
		return nil, err
	}
	return typeIds, nil
}

// UpsertWebhookSubscription creates or reconfigures an organization's
// endpoint. Any change to the delivery configuration (or a re-activation)
// schedules a resync for every enabled type so the consumer sees a consistent
// full copy.
func UpsertWebhookSubscription(ctx context.Context, input *NewWebhookSubscription) (*WebhookSubscription, error) {
	db := config.GetDB()
	var sub WebhookSubscription
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("org_id = ?", input.OrgId).First(&sub).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if errors.Is(err, gorm.ErrRecordNotFound) {
			sub = WebhookSubscription{
				OrgId:       input.OrgId,
				DeliveryUrl: input.DeliveryUrl,
				Secret:      input.Secret,
				IsActive:    input.IsActive,
			}
			return tx.Create(&sub).Error
		}

		if err := tx.Model(&WebhookSubscription{}).
			Where("id = ?", sub.ID).
			Updates(map[string]interface{}{
				"delivery_url":   input.DeliveryUrl,
				"secret":         input.Secret,
				"is_active":      input.IsActive,
				"failure_count":  0,
				"last_error":     nil,
				"next_retry_at":  nil,
			}).Error; err != nil {
			return err
		}
		sub.DeliveryUrl = input.DeliveryUrl
		sub.Secret = input.Secret
		sub.IsActive = input.IsActive

		if !input.IsActive {
			return nil
		}
		typeIds, err := getEnabledTypeIdsTx(tx, ctx, sub.ID)
		if err != nil {
			return err
		}
		for _, typeId := range typeIds {
			if err := createResyncJobTx(tx, ctx, sub.OrgId, typeId); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// EnableSubscriptionType turns on delivery of one analytics type and
// schedules the backfill resync for the (subscriber, type) pair.
func EnableSubscriptionType(ctx context.Context, orgId string, analyticsTypeId int) error {
	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub WebhookSubscription
		if err := tx.Where("org_id = ?", orgId).First(&sub).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		if _, err := GetAnalyticsType(ctx, analyticsTypeId); err != nil {
			return err
		}

		var existing WebhookSubscriptionType
		err := tx.Where("subscription_id = ? AND analytics_type_id = ?", sub.ID, analyticsTypeId).
			First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		enabled := WebhookSubscriptionType{
			SubscriptionId:  sub.ID,
			AnalyticsTypeId: analyticsTypeId,
		}
		if err := tx.Create(&enabled).Error; err != nil {
			return err
		}
		return createResyncJobTx(tx, ctx, orgId, analyticsTypeId)
	})
}

// DisableSubscriptionType stops delivery of one analytics type. Events of the
// type already in the log simply stop matching the read filter.
func DisableSubscriptionType(ctx context.Context, orgId string, analyticsTypeId int) error {
	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub WebhookSubscription
		if err := tx.Where("org_id = ?", orgId).First(&sub).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		return tx.Where("subscription_id = ? AND analytics_type_id = ?", sub.ID, analyticsTypeId).
			Delete(&WebhookSubscriptionType{}).Error
	})
}

func getEnabledTypeIdsTx(tx *gorm.DB, ctx context.Context, subscriptionId int) ([]int, error) {
	var typeIds []int
	if err := tx.WithContext(ctx).
		Model(&WebhookSubscriptionType{}).
		Where("subscription_id = ?", subscriptionId).
		Pluck("analytics_type_id", &typeIds).Error; err != nil {
		return nil, err
	}
	return typeIds, nil
}
