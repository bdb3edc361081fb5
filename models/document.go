package models

import (
	"context"
	"errors"
	"time"

	"github.com/ecofhq/portal_backend/config"
	"github.com/ecofhq/portal_backend/utils"
	"gorm.io/gorm"
)

// Document is owned by the authoring subsystem; the integration core reads it
// and mutates only the lifecycle status and the external-system fields.
type Document struct {
	ID               int            `gorm:"primary_key" json:"id"`
	OrgId            string         `gorm:"index;not null" json:"org_id"`
	DocumentType     DocumentType   `gorm:"size:20;not null" json:"document_type"`
	DocumentNumber   string         `gorm:"size:50;not null" json:"document_number"`
	CurrentStatus    DocumentStatus `gorm:"size:30;not null;index" json:"current_status"`
	CurrentVersionNo int            `gorm:"not null;default:1" json:"current_version_no"`
	ExternalRef      *string        `gorm:"size:128;index" json:"external_ref"`
	ExternalStatus   *string        `gorm:"size:50" json:"external_status"`
	LastError        *string        `gorm:"type:text" json:"last_error"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// DocumentVersion is an immutable content snapshot. CurrentVersionNo on the
// document points at the snapshot the queue serializes.
type DocumentVersion struct {
	ID         int       `gorm:"primary_key" json:"id"`
	DocumentId int       `gorm:"uniqueIndex:uniq_doc_version,priority:1;not null" json:"document_id"`
	VersionNo  int       `gorm:"uniqueIndex:uniq_doc_version,priority:2;not null" json:"version_no"`
	Content    []byte    `gorm:"type:json" json:"content"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetDocument(ctx context.Context, documentId int) (*Document, error) {
	db := config.GetDB()
	var doc Document
	if err := db.WithContext(ctx).Where("id = ?", documentId).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &doc, nil
}

func GetDocumentVersion(ctx context.Context, documentId int, versionNo int) (*DocumentVersion, error) {
	db := config.GetDB()
	var version DocumentVersion
	if err := db.WithContext(ctx).
		Where("document_id = ? AND version_no = ?", documentId, versionNo).
		First(&version).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &version, nil
}

// TransitionDocument applies a user- or outcome-driven lifecycle transition.
// It validates against the adjacency table and appends a history row in the
// same transaction.
func TransitionDocument(ctx context.Context, documentId int, to DocumentStatus) (*Document, error) {
	db := config.GetDB()
	var doc Document
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", documentId).First(&doc).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		return transitionDocumentTx(tx, ctx, &doc, to)
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// TransitionDocumentTx is the transaction-scoped variant, for callers that
// need the transition to commit or roll back together with their own writes.
func TransitionDocumentTx(tx *gorm.DB, ctx context.Context, documentId int, to DocumentStatus) error {
	var doc Document
	if err := tx.WithContext(ctx).Where("id = ?", documentId).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorRecordNotFound
		}
		return err
	}
	return transitionDocumentTx(tx, ctx, &doc, to)
}

func transitionDocumentTx(tx *gorm.DB, ctx context.Context, doc *Document, to DocumentStatus) error {
	from := doc.CurrentStatus
	if err := ValidateTransition(from, to); err != nil {
		return err
	}
	if err := tx.Model(&Document{}).
		Where("id = ?", doc.ID).
		Update("current_status", to).Error; err != nil {
		return err
	}
	doc.CurrentStatus = to
	return CreateHistory(tx, ctx, &NewHistory{
		OrgId:         doc.OrgId,
		ActionType:    string(HistoryActionTypeTransition),
		Before:        string(from),
		After:         string(to),
		Description:   describeStatusTransition(doc.DocumentType, from, to),
		ReferenceID:   doc.ID,
		ReferenceType: string(doc.DocumentType),
	})
}

// ShouldApplyPortalStatus decides whether a successful external result moves
// the document's lifecycle status. A resend of a document already at or past
// the target (PostedExternally, AcceptedByExternal and friends) is a legal
// duplicate push: the acknowledgement is recorded but the status stays where
// the lifecycle already carried it.
func ShouldApplyPortalStatus(current DocumentStatus, target DocumentStatus) bool {
	return current != target && CanTransition(current, target)
}

// ApplyExternalResult records a successful external-system response. The
// external reference/status and the cleared error persist unconditionally —
// an acknowledged push must never roll back — and the portal status advances
// only where the transition table allows it.
// Only the queue worker calls this, and only after a success for the specific
// queue item it holds, so it never races user-driven transitions.
func ApplyExternalResult(ctx context.Context, documentId int, externalRef string, externalStatus string, portalStatus DocumentStatus) error {
	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc Document
		if err := tx.Where("id = ?", documentId).First(&doc).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}

		updates := map[string]interface{}{
			"external_ref":    &externalRef,
			"external_status": &externalStatus,
			"last_error":      nil,
		}
		if err := tx.Model(&Document{}).Where("id = ?", doc.ID).Updates(updates).Error; err != nil {
			return err
		}

		if !ShouldApplyPortalStatus(doc.CurrentStatus, portalStatus) {
			return nil
		}
		return transitionDocumentTx(tx, ctx, &doc, portalStatus)
	})
}

// RecordDocumentError stores the last integration error on the document
// without touching its lifecycle status (a failed push never silently marks
// the document as sent).
func RecordDocumentError(ctx context.Context, documentId int, errText string) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&Document{}).
		Where("id = ?", documentId).
		Update("last_error", &errText).Error
}
