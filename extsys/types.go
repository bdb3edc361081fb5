package extsys

import (
	"github.com/shopspring/decimal"
)

// DocumentPayload is the canonical wire shape the external accounting system
// accepts. Exactly one of the per-type sections is set, matching Type — the
// builder enforces each section's required fields before serialization.
type DocumentPayload struct {
	Type           string          `json:"type"`
	Number         string          `json:"number"`
	OrgId          string          `json:"orgId"`
	Version        int             `json:"version"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Invoice        *InvoiceSection `json:"invoice,omitempty"`
	Waybill        *WaybillSection `json:"waybill,omitempty"`
	Act            *ActSection     `json:"act,omitempty"`
	Order          *OrderSection   `json:"order,omitempty"`
}

type InvoiceSection struct {
	AccountId    int             `json:"accountId"`
	AccountName  string          `json:"accountName"`
	ContractId   int             `json:"contractId"`
	ContractName string          `json:"contractName"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Lines        []PayloadLine   `json:"lines,omitempty"`
}

type WaybillSection struct {
	WarehouseId   int           `json:"warehouseId"`
	WarehouseName string        `json:"warehouseName"`
	Lines         []PayloadLine `json:"lines"`
}

type ActSection struct {
	ContractId   int             `json:"contractId"`
	ContractName string          `json:"contractName"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
}

type OrderSection struct {
	WarehouseId   int             `json:"warehouseId"`
	WarehouseName string          `json:"warehouseName"`
	Amount        decimal.Decimal `json:"amount"`
	Lines         []PayloadLine   `json:"lines"`
}

type PayloadLine struct {
	Name     string          `json:"name"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// documentContent is the authoring subsystem's version snapshot shape. Ids
// reference analytics values; the builder resolves them to names.
type documentContent struct {
	AccountId   int             `json:"account_id"`
	ContractId  int             `json:"contract_id"`
	WarehouseId int             `json:"warehouse_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Lines       []PayloadLine   `json:"lines"`
}

// ExternalResult is the external system's acknowledgement of a document.
type ExternalResult struct {
	Ref    string `json:"ref"`
	Status string `json:"status"`
}
