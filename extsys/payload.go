package extsys

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ecofhq/portal_backend/models"
)

// Builder maps a document snapshot plus looked-up reference data into the
// canonical wire shape. It is injected into the queue so enqueue logic stays
// independent of the external system's payload rules.
type Builder struct{}

func NewBuilder() *Builder {
	return &Builder{}
}

// Build serializes the version snapshot for the document's type and returns
// the payload bytes together with the idempotency key. The key is
// deterministic over (document id, version, snapshot freshness), so a manual
// resend of the same unchanged version carries the same key and the external
// system can deduplicate it.
func (b *Builder) Build(ctx context.Context, doc *models.Document, version *models.DocumentVersion) ([]byte, string, error) {
	var content documentContent
	if err := json.Unmarshal(version.Content, &content); err != nil {
		return nil, "", fmt.Errorf("document %d version %d: invalid content snapshot: %w", doc.ID, version.VersionNo, err)
	}

	payload := DocumentPayload{
		Type:           string(doc.DocumentType),
		Number:         doc.DocumentNumber,
		OrgId:          doc.OrgId,
		Version:        version.VersionNo,
		IdempotencyKey: IdempotencyKey(doc.ID, version.VersionNo, version.UpdatedAt.UnixNano()),
	}

	var err error
	switch doc.DocumentType {
	case models.DocumentTypeInvoice:
		payload.Invoice, err = b.buildInvoice(ctx, doc, &content)
	case models.DocumentTypeWaybill:
		payload.Waybill, err = b.buildWaybill(ctx, doc, &content)
	case models.DocumentTypeAct:
		payload.Act, err = b.buildAct(ctx, doc, &content)
	case models.DocumentTypeOrder:
		payload.Order, err = b.buildOrder(ctx, doc, &content)
	default:
		err = fmt.Errorf("unknown document type %q", doc.DocumentType)
	}
	if err != nil {
		return nil, "", err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, "", err
	}
	return raw, payload.IdempotencyKey, nil
}

func (b *Builder) buildInvoice(ctx context.Context, doc *models.Document, content *documentContent) (*InvoiceSection, error) {
	if err := requireFields(doc, map[string]bool{
		"account_id":  content.AccountId > 0,
		"contract_id": content.ContractId > 0,
		"amount":      content.Amount.IsPositive(),
		"currency":    content.Currency != "",
	}); err != nil {
		return nil, err
	}
	accountName, err := models.LookupAnalyticsName(ctx, content.AccountId)
	if err != nil {
		return nil, err
	}
	contractName, err := models.LookupAnalyticsName(ctx, content.ContractId)
	if err != nil {
		return nil, err
	}
	return &InvoiceSection{
		AccountId:    content.AccountId,
		AccountName:  accountName,
		ContractId:   content.ContractId,
		ContractName: contractName,
		Amount:       content.Amount,
		Currency:     content.Currency,
		Lines:        content.Lines,
	}, nil
}

func (b *Builder) buildWaybill(ctx context.Context, doc *models.Document, content *documentContent) (*WaybillSection, error) {
	if err := requireFields(doc, map[string]bool{
		"warehouse_id": content.WarehouseId > 0,
		"lines":        len(content.Lines) > 0,
	}); err != nil {
		return nil, err
	}
	warehouseName, err := models.LookupAnalyticsName(ctx, content.WarehouseId)
	if err != nil {
		return nil, err
	}
	return &WaybillSection{
		WarehouseId:   content.WarehouseId,
		WarehouseName: warehouseName,
		Lines:         content.Lines,
	}, nil
}

func (b *Builder) buildAct(ctx context.Context, doc *models.Document, content *documentContent) (*ActSection, error) {
	if err := requireFields(doc, map[string]bool{
		"contract_id": content.ContractId > 0,
		"amount":      content.Amount.IsPositive(),
		"currency":    content.Currency != "",
	}); err != nil {
		return nil, err
	}
	contractName, err := models.LookupAnalyticsName(ctx, content.ContractId)
	if err != nil {
		return nil, err
	}
	return &ActSection{
		ContractId:   content.ContractId,
		ContractName: contractName,
		Amount:       content.Amount,
		Currency:     content.Currency,
	}, nil
}

func (b *Builder) buildOrder(ctx context.Context, doc *models.Document, content *documentContent) (*OrderSection, error) {
	if err := requireFields(doc, map[string]bool{
		"warehouse_id": content.WarehouseId > 0,
		"amount":       content.Amount.IsPositive(),
		"lines":        len(content.Lines) > 0,
	}); err != nil {
		return nil, err
	}
	warehouseName, err := models.LookupAnalyticsName(ctx, content.WarehouseId)
	if err != nil {
		return nil, err
	}
	return &OrderSection{
		WarehouseId:   content.WarehouseId,
		WarehouseName: warehouseName,
		Amount:        content.Amount,
		Lines:         content.Lines,
	}, nil
}

func requireFields(doc *models.Document, present map[string]bool) error {
	for field, ok := range present {
		if !ok {
			return fmt.Errorf("document %d (%s): required field %s is missing or empty", doc.ID, doc.DocumentType, field)
		}
	}
	return nil
}

// IdempotencyKey derives the deterministic dedup token for one snapshot of
// one document. The freshness token is the snapshot's updated-at in unix
// nanos: editing a row after an unposted/rejected round produces a new key.
func IdempotencyKey(documentId int, versionNo int, freshness int64) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%d:%d:%d", documentId, versionNo, freshness))
	return hex.EncodeToString(sum[:])
}
