package extsys

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ecofhq/portal_backend/models"
)

// Build tests stop at the declared-field checks, which run before any
// reference-data lookup, so they need neither a database nor redis.

func testDocument(docType models.DocumentType) *models.Document {
	return &models.Document{
		ID:               42,
		OrgId:            "org-1",
		DocumentType:     docType,
		DocumentNumber:   "INV-0042",
		CurrentStatus:    models.DocumentStatusFrozen,
		CurrentVersionNo: 3,
	}
}

func testVersion(content string) *models.DocumentVersion {
	return &models.DocumentVersion{
		DocumentId: 42,
		VersionNo:  3,
		Content:    []byte(content),
		UpdatedAt:  time.Unix(0, 1700000000000000000),
	}
}

func TestBuildRejectsInvalidSnapshot(t *testing.T) {
	b := NewBuilder()
	_, _, err := b.Build(context.Background(), testDocument(models.DocumentTypeInvoice), testVersion("not json"))
	if err == nil {
		t.Fatal("malformed content snapshot should fail the build")
	}
}

func TestBuildRejectsUnknownDocumentType(t *testing.T) {
	b := NewBuilder()
	doc := testDocument(models.DocumentType("Receipt"))
	_, _, err := b.Build(context.Background(), doc, testVersion("{}"))
	if err == nil || !strings.Contains(err.Error(), "unknown document type") {
		t.Fatalf("expected unknown document type error, got %v", err)
	}
}

func TestBuildChecksRequiredFields(t *testing.T) {
	cases := []struct {
		name    string
		docType models.DocumentType
		content string
		missing string
	}{
		{"invoice without account", models.DocumentTypeInvoice,
			`{"contract_id":2,"amount":"10.50","currency":"USD"}`, "account_id"},
		{"invoice without amount", models.DocumentTypeInvoice,
			`{"account_id":1,"contract_id":2,"currency":"USD"}`, "amount"},
		{"waybill without warehouse", models.DocumentTypeWaybill,
			`{"lines":[{"name":"x","quantity":"1","price":"2"}]}`, "warehouse_id"},
		{"waybill without lines", models.DocumentTypeWaybill,
			`{"warehouse_id":7}`, "lines"},
		{"act without currency", models.DocumentTypeAct,
			`{"contract_id":2,"amount":"10"}`, "currency"},
		{"order without amount", models.DocumentTypeOrder,
			`{"warehouse_id":7,"lines":[{"name":"x","quantity":"1","price":"2"}]}`, "amount"},
	}
	b := NewBuilder()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := b.Build(context.Background(), testDocument(tc.docType), testVersion(tc.content))
			if err == nil {
				t.Fatal("expected a required-field error")
			}
			if !strings.Contains(err.Error(), tc.missing) {
				t.Errorf("error should name %q, got %q", tc.missing, err.Error())
			}
		})
	}
}

func TestBuildRejectsNonPositiveAmount(t *testing.T) {
	b := NewBuilder()
	content := `{"contract_id":2,"amount":"-5","currency":"USD","account_id":1}`
	_, _, err := b.Build(context.Background(), testDocument(models.DocumentTypeInvoice), testVersion(content))
	if err == nil || !strings.Contains(err.Error(), "amount") {
		t.Fatalf("negative amount should fail the amount check, got %v", err)
	}
}

func TestIdempotencyKeyDeterministic(t *testing.T) {
	a := IdempotencyKey(42, 3, 1700000000000000000)
	b := IdempotencyKey(42, 3, 1700000000000000000)
	if a != b {
		t.Fatalf("same inputs must give the same key: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("key should be 64 hex chars, got %d (%s)", len(a), a)
	}
	for _, r := range a {
		if !strings.ContainsRune("0123456789abcdef", r) {
			t.Fatalf("key should be lowercase hex, got %s", a)
		}
	}
}

func TestIdempotencyKeyChangesWithAnyInput(t *testing.T) {
	base := IdempotencyKey(42, 3, 1700000000000000000)
	if IdempotencyKey(43, 3, 1700000000000000000) == base {
		t.Error("different document must change the key")
	}
	if IdempotencyKey(42, 4, 1700000000000000000) == base {
		t.Error("different version must change the key")
	}
	if IdempotencyKey(42, 3, 1700000000000000001) == base {
		t.Error("edited snapshot (new freshness token) must change the key")
	}
}
