package models

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/ecofhq/portal_backend/config"
	"github.com/ecofhq/portal_backend/utils"
	"gorm.io/gorm"
)

// AnalyticsType is a reference-data ("analytics") dimension replicated to
// subscribers: warehouses, accounts, contracts and the like.
type AnalyticsType struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Code      string    `gorm:"size:50;uniqueIndex;not null" json:"code"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// AnalyticsValue is one row of a reference-data dimension. ModifiedAt together
// with ID forms the stable resync cursor: pages are read strictly after
// (modified_at, id), so concurrent inserts with newer timestamps can never be
// skipped or re-emitted.
type AnalyticsValue struct {
	ID              int       `gorm:"primary_key" json:"id"`
	AnalyticsTypeId int       `gorm:"index:idx_value_cursor,priority:1;not null" json:"analytics_type_id"`
	Code            string    `gorm:"size:100;not null" json:"code"`
	Name            string    `gorm:"size:255;not null" json:"name"`
	Attributes      []byte    `gorm:"type:json" json:"attributes"`
	IsActive        bool      `gorm:"not null;default:true" json:"is_active"`
	ModifiedAt      time.Time `gorm:"index:idx_value_cursor,priority:2;not null" json:"modified_at"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func GetAnalyticsType(ctx context.Context, typeId int) (*AnalyticsType, error) {
	db := config.GetDB()
	var t AnalyticsType
	if err := db.WithContext(ctx).Where("id = ?", typeId).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &t, nil
}

// GetAnalyticsTypeCodeMap maps analytics type ids to their wire codes for
// webhook batch serialization.
func GetAnalyticsTypeCodeMap(ctx context.Context) (map[int]string, error) {
	db := config.GetDB()
	var types []AnalyticsType
	if err := db.WithContext(ctx).Find(&types).Error; err != nil {
		return nil, err
	}
	codes := make(map[int]string, len(types))
	for _, t := range types {
		codes[t.ID] = t.Code
	}
	return codes, nil
}

// LookupAnalyticsName resolves a reference-data value id to its display name
// for payload enrichment, through a short-lived redis cache.
func LookupAnalyticsName(ctx context.Context, valueId int) (string, error) {
	redisKey := "analyticsName:" + strconv.Itoa(valueId)
	var name string
	exists, err := config.GetRedisObject(redisKey, &name)
	if err != nil {
		return "", err
	}
	if exists {
		return name, nil
	}

	db := config.GetDB()
	var value AnalyticsValue
	if err := db.WithContext(ctx).Where("id = ?", valueId).First(&value).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", utils.ErrorRecordNotFound
		}
		return "", err
	}
	if err := config.SetRedisObject(redisKey, value.Name, 10*time.Minute); err != nil {
		return "", err
	}
	return value.Name, nil
}

// UpsertAnalyticsValue writes a reference-data row and appends the matching
// Upsert event in the same transaction, so the event log never diverges from
// the table.
func UpsertAnalyticsValue(ctx context.Context, value *AnalyticsValue) error {
	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		value.ModifiedAt = time.Now().UTC()
		value.IsActive = true
		if err := tx.Save(value).Error; err != nil {
			return err
		}
		_ = config.RemoveRedisKey("analyticsName:" + strconv.Itoa(value.ID))
		return appendValueEvent(tx, ctx, value, AnalyticsEventTypeUpsert)
	})
}

// DeactivateAnalyticsValue flags a row inactive and appends a Deactivate
// event. Rows are never deleted; subscribers learn about removal through the
// event stream.
func DeactivateAnalyticsValue(ctx context.Context, valueId int) error {
	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var value AnalyticsValue
		if err := tx.Where("id = ?", valueId).First(&value).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		now := time.Now().UTC()
		if err := tx.Model(&AnalyticsValue{}).
			Where("id = ?", value.ID).
			Updates(map[string]interface{}{
				"is_active":   false,
				"modified_at": now,
			}).Error; err != nil {
			return err
		}
		value.IsActive = false
		value.ModifiedAt = now
		_ = config.RemoveRedisKey("analyticsName:" + strconv.Itoa(value.ID))
		return appendValueEvent(tx, ctx, &value, AnalyticsEventTypeDeactivate)
	})
}

func appendValueEvent(tx *gorm.DB, ctx context.Context, value *AnalyticsValue, eventType AnalyticsEventType) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	event := AnalyticsEvent{
		AnalyticsTypeId: value.AnalyticsTypeId,
		ValueId:         value.ID,
		EventType:       eventType,
		Payload:         payload,
	}
	return tx.WithContext(ctx).Create(&event).Error
}

// GetAnalyticsValuePage reads one resync page: rows of the given type
// strictly after the (modified_at, id) cursor in ascending cursor order.
// A nil cursorModifiedAt means "from the beginning".
func GetAnalyticsValuePage(ctx context.Context, typeId int, cursorModifiedAt *time.Time, cursorId int, limit int) ([]AnalyticsValue, error) {
	db := config.GetDB()
	q := db.WithContext(ctx).
		Where("analytics_type_id = ?", typeId).
		Order("modified_at ASC, id ASC").
		Limit(limit)
	if cursorModifiedAt != nil {
		q = q.Where("(modified_at > ?) OR (modified_at = ? AND id > ?)",
			*cursorModifiedAt, *cursorModifiedAt, cursorId)
	}
	var page []AnalyticsValue
	if err := q.Find(&page).Error; err != nil {
		return nil, err
	}
	return page, nil
}
