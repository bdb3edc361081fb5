package workflow

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ecofhq/portal_backend/models"
	"github.com/ecofhq/portal_backend/utils"
	"github.com/gin-gonic/gin"
)

// resolveOrgID trusts the upstream gateway's x-org-id header; auth itself is
// handled before traffic reaches this service.
func resolveOrgID(c *gin.Context) (string, error) {
	orgId := strings.TrimSpace(c.GetHeader("x-org-id"))
	if orgId == "" {
		if fromCtx, ok := utils.GetOrgIdFromContext(c.Request.Context()); ok && fromCtx != "" {
			return fromCtx, nil
		}
		return "", errors.New("missing org id")
	}
	return orgId, nil
}

func RetryQueueItemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid queue item id"})
			return
		}

		item, err := models.RetryQueueItem(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "no failed queue item with that id"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, item)
	}
}

func ResendDocumentHandler(builder PayloadBuilder) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
			return
		}

		item, err := ResendDocument(c.Request.Context(), builder, id)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, item)
	}
}

// FreezeDocumentHandler moves a Validated document to Frozen and enqueues the
// outbound upsert, which is the normal entry point into the integration flow.
func FreezeDocumentHandler(builder PayloadBuilder) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
			return
		}
		ctx := c.Request.Context()

		if _, err := models.TransitionDocument(ctx, id, models.DocumentStatusFrozen); err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
				return
			}
			var invalid *models.InvalidTransitionError
			if errors.As(err, &invalid) {
				c.JSON(http.StatusConflict, gin.H{"error": invalid.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		item, err := EnqueueDocument(ctx, builder, id, models.QueueOperationUpsertDocument)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, item)
	}
}

func QueueStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
			return
		}

		view, err := models.GetLatestQueueStatus(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "document has no queue activity"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

func UpsertSubscriptionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgId, err := resolveOrgID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var input models.NewWebhookSubscription
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		input.OrgId = orgId

		sub, err := models.UpsertWebhookSubscription(c.Request.Context(), &input)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, sub)
	}
}

func EnableSubscriptionTypeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgId, err := resolveOrgID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		typeId, err := strconv.Atoi(c.Param("typeId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid analytics type id"})
			return
		}

		if err := models.EnableSubscriptionType(c.Request.Context(), orgId, typeId); err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "subscription or analytics type not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func DisableSubscriptionTypeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgId, err := resolveOrgID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		typeId, err := strconv.Atoi(c.Param("typeId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid analytics type id"})
			return
		}

		if err := models.DisableSubscriptionType(c.Request.Context(), orgId, typeId); err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// UpsertAnalyticsValueInput is the admin payload for a reference-data row.
type UpsertAnalyticsValueInput struct {
	ID              int             `json:"id"`
	AnalyticsTypeId int             `json:"analytics_type_id" validate:"required,gt=0"`
	Code            string          `json:"code" validate:"required,max=100"`
	Name            string          `json:"name" validate:"required,max=255"`
	Attributes      json.RawMessage `json:"attributes"`
}

func UpsertAnalyticsValueHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input UpsertAnalyticsValueInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := utils.ValidateStruct(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctx := c.Request.Context()

		if _, err := models.GetAnalyticsType(ctx, input.AnalyticsTypeId); err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "analytics type not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		value := models.AnalyticsValue{
			ID:              input.ID,
			AnalyticsTypeId: input.AnalyticsTypeId,
			Code:            input.Code,
			Name:            input.Name,
			Attributes:      []byte(input.Attributes),
		}
		if err := models.UpsertAnalyticsValue(ctx, &value); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, value)
	}
}

func DeactivateAnalyticsValueHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid analytics value id"})
			return
		}

		if err := models.DeactivateAnalyticsValue(c.Request.Context(), id); err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "analytics value not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}
