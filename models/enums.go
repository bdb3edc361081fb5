package models

import (
	"errors"
)

// DocumentType enumerates the business-document kinds the portal exchanges
// with the accounting back office.
type DocumentType string

const (
	DocumentTypeInvoice DocumentType = "Invoice"
	DocumentTypeWaybill DocumentType = "Waybill"
	DocumentTypeAct     DocumentType = "Act"
	DocumentTypeOrder   DocumentType = "Order"
)

func ParseDocumentType(s string) (DocumentType, error) {
	switch s {
	case "Invoice":
		return DocumentTypeInvoice, nil
	case "Waybill":
		return DocumentTypeWaybill, nil
	case "Act":
		return DocumentTypeAct, nil
	case "Order":
		return DocumentTypeOrder, nil
	default:
		return "", errors.New("invalid document type")
	}
}

// DocumentStatus is the portal-side lifecycle state of a document.
type DocumentStatus string

const (
	DocumentStatusDraft              DocumentStatus = "Draft"
	DocumentStatusValidated          DocumentStatus = "Validated"
	DocumentStatusFrozen             DocumentStatus = "Frozen"
	DocumentStatusQueuedToExternal   DocumentStatus = "QueuedToExternal"
	DocumentStatusSentToExternal     DocumentStatus = "SentToExternal"
	DocumentStatusAcceptedByExternal DocumentStatus = "AcceptedByExternal"
	DocumentStatusPostedExternally   DocumentStatus = "PostedExternally"
	DocumentStatusUnpostedExternally DocumentStatus = "UnpostedExternally"
	DocumentStatusRejectedByExternal DocumentStatus = "RejectedByExternal"
	DocumentStatusCancelled          DocumentStatus = "Cancelled"
)

// QueueOperation is the kind of work an integration queue item carries.
type QueueOperation string

const (
	QueueOperationUpsertDocument QueueOperation = "UpsertDocument"
	QueueOperationPostDocument   QueueOperation = "PostDocument"
	QueueOperationCancelDocument QueueOperation = "CancelDocument"
)

func ParseQueueOperation(s string) (QueueOperation, error) {
	switch s {
	case "UpsertDocument":
		return QueueOperationUpsertDocument, nil
	case "PostDocument":
		return QueueOperationPostDocument, nil
	case "CancelDocument":
		return QueueOperationCancelDocument, nil
	default:
		return "", errors.New("invalid queue operation")
	}
}

// QueueItemStatus is the lifecycle of an integration queue item.
// FAILED and COMPLETED are terminal; FAILED rows are kept for operator
// inspection and are excluded from worker claims.
type QueueItemStatus string

const (
	QueueItemStatusPending    QueueItemStatus = "PENDING"
	QueueItemStatusProcessing QueueItemStatus = "PROCESSING"
	QueueItemStatusCompleted  QueueItemStatus = "COMPLETED"
	QueueItemStatusFailed     QueueItemStatus = "FAILED"
)

// AnalyticsEventType is the kind of a replication event in the append-only log.
type AnalyticsEventType string

const (
	AnalyticsEventTypeUpsert     AnalyticsEventType = "Upsert"
	AnalyticsEventTypeDeactivate AnalyticsEventType = "Deactivate"
	AnalyticsEventTypeSnapshot   AnalyticsEventType = "Snapshot"
)

// ResyncJobStatus is the lifecycle of a subscriber backfill job.
// There is intentionally no terminal FAILED state: a resync must eventually
// complete for subscriber correctness, so failed jobs stay retryable.
type ResyncJobStatus string

const (
	ResyncJobStatusPending    ResyncJobStatus = "PENDING"
	ResyncJobStatusProcessing ResyncJobStatus = "PROCESSING"
	ResyncJobStatusCompleted  ResyncJobStatus = "COMPLETED"
)

// HistoryActionType tags document audit rows.
type HistoryActionType string

const (
	HistoryActionTypeCreate     HistoryActionType = "CREATE"
	HistoryActionTypeUpdate     HistoryActionType = "UPDATE"
	HistoryActionTypeTransition HistoryActionType = "TRANSITION"
)
