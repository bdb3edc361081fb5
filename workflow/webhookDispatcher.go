package workflow

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ecofhq/portal_backend/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// SignatureHeader carries the lowercase-hex HMAC-SHA-256 of the exact
	// request body, keyed with the subscription secret.
	SignatureHeader = "x-ecof-signature"

	webhookRetryBase  = 30 * time.Second
	webhookRetryCap   = time.Hour
	webhookClaimGrace = 45 * time.Second
)

// WebhookBatch is the wire shape of one delivery. Events are ascending by seq;
// FromSeq/ToSeq bound the batch so consumers can detect gaps on their side.
type WebhookBatch struct {
	OrgId   string         `json:"orgId"`
	FromSeq int64          `json:"fromSeq"`
	ToSeq   int64          `json:"toSeq"`
	Events  []WebhookEvent `json:"events"`
}

type WebhookEvent struct {
	Seq       int64           `json:"seq"`
	TypeCode  string          `json:"typeCode"`
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// WebhookDispatcher pushes analytics events to subscriber endpoints. Each
// subscription's cursor (last_delivered_seq) advances only after a 2xx
// response, so delivery is at-least-once in ascending seq order. Failures back
// off per subscription without ever disabling it.
type WebhookDispatcher struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	HTTP   *http.Client

	WorkerID  string
	BatchSize int
	Interval  time.Duration
	MaxSubs   int
	LockTTL   time.Duration
}

func NewWebhookDispatcher(db *gorm.DB, logger *logrus.Logger) *WebhookDispatcher {
	return &WebhookDispatcher{
		DB:        db,
		Logger:    logger,
		HTTP:      &http.Client{Timeout: 15 * time.Second},
		WorkerID:  "webhook-" + uuid.NewString(),
		BatchSize: 200,
		Interval:  3 * time.Second,
		MaxSubs:   20,
		LockTTL:   30 * time.Second,
	}
}

func (d *WebhookDispatcher) Run(ctx context.Context) {
	if d == nil || d.DB == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.processOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.Interval):
		}
	}
}

func (d *WebhookDispatcher) processOnce(ctx context.Context) {
	for _, sub := range d.claim(ctx) {
		d.deliver(ctx, sub)
	}
}

// claim selects active subscriptions past their retry gate, never-delayed
// first, and pushes next_retry_at a short grace into the future inside the
// claim transaction so another replica's tick skips them while this delivery
// is in flight.
func (d *WebhookDispatcher) claim(ctx context.Context) []models.WebhookSubscription {
	now := time.Now().UTC()
	grace := now.Add(webhookClaimGrace)

	var claimed []models.WebhookSubscription
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("is_active = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)", true, now).
			Order("next_retry_at IS NULL DESC, next_retry_at ASC").
			Limit(d.MaxSubs).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		for i := range claimed {
			if err := tx.Model(&models.WebhookSubscription{}).
				Where("id = ?", claimed[i].ID).
				Updates(map[string]interface{}{"next_retry_at": grace}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if d.Logger != nil {
			d.Logger.WithFields(logrus.Fields{
				"field":     "WebhookDispatcher",
				"worker_id": d.WorkerID,
			}).Error("webhook claim failed: " + err.Error())
		}
		return nil
	}
	return claimed
}

func (d *WebhookDispatcher) deliver(ctx context.Context, sub models.WebhookSubscription) {
	lock, acquired, err := acquireDeliveryLock(ctx, sub.OrgId, d.LockTTL)
	if err != nil || !acquired {
		// Another replica holds the subscriber; its own claim grace will
		// reopen the gate.
		return
	}
	defer releaseDeliveryLock(ctx, lock)

	typeIds, err := models.GetEnabledTypeIds(ctx, sub.ID)
	if err != nil {
		d.markFailure(ctx, sub, err)
		return
	}
	events, err := models.GetEventsAfter(ctx, sub.LastDeliveredSeq, typeIds, d.BatchSize)
	if err != nil {
		d.markFailure(ctx, sub, err)
		return
	}
	if len(events) == 0 {
		d.markIdle(ctx, sub)
		return
	}

	body, toSeq, err := d.buildBatch(ctx, sub, events)
	if err != nil {
		d.markFailure(ctx, sub, err)
		return
	}
	if err := d.post(ctx, sub, body); err != nil {
		d.markFailure(ctx, sub, err)
		return
	}
	d.markDelivered(ctx, sub, toSeq, len(events))
}

func (d *WebhookDispatcher) buildBatch(ctx context.Context, sub models.WebhookSubscription, events []models.AnalyticsEvent) ([]byte, int64, error) {
	typeCodes, err := models.GetAnalyticsTypeCodeMap(ctx)
	if err != nil {
		return nil, 0, err
	}

	batch := WebhookBatch{
		OrgId:   sub.OrgId,
		FromSeq: events[0].Seq,
		ToSeq:   events[len(events)-1].Seq,
		Events:  make([]WebhookEvent, 0, len(events)),
	}
	for _, event := range events {
		batch.Events = append(batch.Events, WebhookEvent{
			Seq:       event.Seq,
			TypeCode:  typeCodes[event.AnalyticsTypeId],
			EventType: string(event.EventType),
			Payload:   json.RawMessage(event.Payload),
			CreatedAt: event.CreatedAt,
		})
	}

	body, err := json.Marshal(batch)
	if err != nil {
		return nil, 0, err
	}
	return body, batch.ToSeq, nil
}

func (d *WebhookDispatcher) post(ctx context.Context, sub models.WebhookSubscription, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.DeliveryUrl, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, SignBody(sub.Secret, body))

	resp, err := d.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("subscriber responded %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

// markDelivered advances the cursor past the acknowledged batch and resets the
// failure state. The last_delivered_seq guard keeps a late duplicate delivery
// from moving the cursor backwards.
func (d *WebhookDispatcher) markDelivered(ctx context.Context, sub models.WebhookSubscription, toSeq int64, eventCount int) {
	err := d.DB.WithContext(ctx).Model(&models.WebhookSubscription{}).
		Where("id = ? AND last_delivered_seq < ?", sub.ID, toSeq).
		Updates(map[string]interface{}{
			"last_delivered_seq": toSeq,
			"failure_count":      0,
			"last_error":         nil,
			"next_retry_at":      nil,
		}).Error

	if d.Logger != nil {
		entry := d.Logger.WithFields(logrus.Fields{
			"field":       "WebhookDispatcher",
			"worker_id":   d.WorkerID,
			"org_id":      sub.OrgId,
			"to_seq":      toSeq,
			"event_count": eventCount,
		})
		if err != nil {
			entry.Error("cursor advance failed: " + err.Error())
			return
		}
		entry.Info("webhook batch delivered")
	}
}

// markIdle reopens the claim gate after a tick that found nothing to send.
func (d *WebhookDispatcher) markIdle(ctx context.Context, sub models.WebhookSubscription) {
	_ = d.DB.WithContext(ctx).Model(&models.WebhookSubscription{}).
		Where("id = ? AND failure_count = 0", sub.ID).
		Updates(map[string]interface{}{"next_retry_at": nil}).Error
}

func (d *WebhookDispatcher) markFailure(ctx context.Context, sub models.WebhookSubscription, cause error) {
	failureCount := sub.FailureCount + 1
	errMsg := cause.Error()
	nextRetryAt := time.Now().UTC().Add(webhookBackoff(failureCount))

	dbErr := d.DB.WithContext(ctx).Model(&models.WebhookSubscription{}).
		Where("id = ?", sub.ID).
		Updates(map[string]interface{}{
			"failure_count": failureCount,
			"last_error":    &errMsg,
			"next_retry_at": nextRetryAt,
		}).Error

	if d.Logger != nil {
		entry := d.Logger.WithFields(logrus.Fields{
			"field":         "WebhookDispatcher",
			"worker_id":     d.WorkerID,
			"org_id":        sub.OrgId,
			"failure_count": failureCount,
			"next_retry_at": nextRetryAt,
		})
		if dbErr != nil {
			entry = entry.WithField("db_error", dbErr.Error())
		}
		entry.Error("webhook delivery failed: " + errMsg)
	}
}

// SignBody computes the delivery signature: HMAC-SHA-256 over the exact body
// bytes, hex-encoded lowercase.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// webhookBackoff doubles from 30 seconds per consecutive failure, capped at
// one hour.
func webhookBackoff(failureCount int) time.Duration {
	if failureCount < 1 {
		failureCount = 1
	}
	delay := webhookRetryBase
	for i := 1; i < failureCount; i++ {
		delay *= 2
		if delay >= webhookRetryCap {
			return webhookRetryCap
		}
	}
	return delay
}
