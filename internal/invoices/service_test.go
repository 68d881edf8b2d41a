package invoices

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fidelizapay/fideliza-backend/pkg/db/models"
	"github.com/fidelizapay/fideliza-backend/pkg/enums"
	pkgerrors "github.com/fidelizapay/fideliza-backend/pkg/errors"
)

func setupInvoicesTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS invoices (
  id TEXT PRIMARY KEY,
  subscription_id TEXT NOT NULL,
  store_id TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  period_end DATETIME NOT NULL,
  gateway TEXT NOT NULL,
  external_charge_id TEXT,
  status TEXT NOT NULL DEFAULT 'pending',
  paid_at DATETIME,
  card_brand TEXT,
  card_last4 TEXT,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_invoices_gateway_charge ON invoices (gateway, external_charge_id);`
	require.NoError(t, db.Exec(schema).Error)

	return db
}

func newInvoiceService(t *testing.T, db *gorm.DB) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{Repo: NewRepository(db)})
	require.NoError(t, err)
	return svc
}

func seedInvoice(t *testing.T, db *gorm.DB, gateway enums.Gateway, chargeID string, status enums.InvoiceStatus) *models.Invoice {
	t.Helper()
	invoice := &models.Invoice{
		ID:             uuid.New(),
		SubscriptionID: uuid.New(),
		StoreID:        uuid.New(),
		AmountCents:    9900,
		PeriodEnd:      time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Gateway:        gateway,
		Status:         status,
	}
	if chargeID != "" {
		invoice.ExternalChargeID = &chargeID
	}
	require.NoError(t, db.Create(invoice).Error)
	return invoice
}

func TestTransitionPendingToPaid(t *testing.T) {
	db := setupInvoicesTestDB(t)
	svc := newInvoiceService(t, db)
	ctx := context.Background()

	seedInvoice(t, db, enums.GatewayPagarme, "ch_123", enums.InvoiceStatusPending)
	occurred := time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC)

	result, err := svc.Transition(ctx, TransitionInput{
		Gateway:          enums.GatewayPagarme,
		ExternalChargeID: "ch_123",
		Kind:             enums.PaymentEventChargeSucceeded,
		OccurredAt:       occurred,
		Card:             &CardMetadata{Brand: "visa", Last4: "4242"},
	})
	require.NoError(t, err)
	if !result.Applied {
		t.Fatal("expected the transition to apply")
	}
	if result.Invoice.Status != enums.InvoiceStatusPaid {
		t.Fatalf("unexpected status %s", result.Invoice.Status)
	}
	if result.Invoice.PaidAt == nil || !result.Invoice.PaidAt.Equal(occurred) {
		t.Fatalf("paid_at not taken from the event: %v", result.Invoice.PaidAt)
	}
	if result.Invoice.CardBrand == nil || *result.Invoice.CardBrand != "visa" {
		t.Fatal("card metadata not attached at the paid transition")
	}
}

func TestTransitionPaidToPaidIsNoOp(t *testing.T) {
	db := setupInvoicesTestDB(t)
	svc := newInvoiceService(t, db)
	ctx := context.Background()

	seedInvoice(t, db, enums.GatewayPagarme, "ch_123", enums.InvoiceStatusPending)

	input := TransitionInput{
		Gateway:          enums.GatewayPagarme,
		ExternalChargeID: "ch_123",
		Kind:             enums.PaymentEventChargeSucceeded,
		OccurredAt:       time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC),
	}
	first, err := svc.Transition(ctx, input)
	require.NoError(t, err)
	require.True(t, first.Applied)

	second, err := svc.Transition(ctx, input)
	require.NoError(t, err)
	if second.Applied {
		t.Fatal("duplicate paid event must be a no-op")
	}
	if !second.Invoice.PaidAt.Equal(*first.Invoice.PaidAt) {
		t.Fatal("no-op transition must not touch paid_at")
	}
}

func TestTransitionPaidInvoiceIsImmutable(t *testing.T) {
	db := setupInvoicesTestDB(t)
	svc := newInvoiceService(t, db)
	ctx := context.Background()

	seedInvoice(t, db, enums.GatewayOpenPix, "qr_1", enums.InvoiceStatusPaid)

	_, err := svc.Transition(ctx, TransitionInput{
		Gateway:          enums.GatewayOpenPix,
		ExternalChargeID: "qr_1",
		Kind:             enums.PaymentEventChargeFailed,
	})
	if pkgerrors.CodeOf(err) != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}

	var reloaded models.Invoice
	require.NoError(t, db.First(&reloaded, "external_charge_id = ?", "qr_1").Error)
	if reloaded.Status != enums.InvoiceStatusPaid {
		t.Fatalf("paid invoice mutated to %s", reloaded.Status)
	}
}

func TestTransitionUnknownInvoice(t *testing.T) {
	db := setupInvoicesTestDB(t)
	svc := newInvoiceService(t, db)

	_, err := svc.Transition(context.Background(), TransitionInput{
		Gateway:          enums.GatewayMercadoPago,
		ExternalChargeID: "pix_missing",
		Kind:             enums.PaymentEventChargeSucceeded,
	})
	if pkgerrors.CodeOf(err) != pkgerrors.CodeUnknownInvoice {
		t.Fatalf("expected unknown invoice, got %v", err)
	}
}

func TestTransitionPendingToExpired(t *testing.T) {
	db := setupInvoicesTestDB(t)
	svc := newInvoiceService(t, db)
	ctx := context.Background()

	seedInvoice(t, db, enums.GatewayPagHiper, "TX9", enums.InvoiceStatusPending)

	result, err := svc.Transition(ctx, TransitionInput{
		Gateway:          enums.GatewayPagHiper,
		ExternalChargeID: "TX9",
		Kind:             enums.PaymentEventChargeExpired,
	})
	require.NoError(t, err)
	if result.Invoice.Status != enums.InvoiceStatusExpired {
		t.Fatalf("unexpected status %s", result.Invoice.Status)
	}
	if result.Invoice.PaidAt != nil {
		t.Fatal("expired invoice must not carry paid_at")
	}
}

func TestListPendingOlderThan(t *testing.T) {
	db := setupInvoicesTestDB(t)
	svc := newInvoiceService(t, db)
	ctx := context.Background()

	stale := seedInvoice(t, db, enums.GatewayOpenPix, "qr_old", enums.InvoiceStatusPending)
	seedInvoice(t, db, enums.GatewayOpenPix, "qr_new", enums.InvoiceStatusPending)
	seedInvoice(t, db, enums.GatewayOpenPix, "qr_paid", enums.InvoiceStatusPaid)
	// Invoices without a charge yet cannot be polled.
	seedInvoice(t, db, enums.GatewayOpenPix, "", enums.InvoiceStatusPending)

	old := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, db.Model(&models.Invoice{}).Where("id = ?", stale.ID).Update("created_at", old).Error)

	pending, err := svc.ListPendingOlderThan(ctx, 15*time.Minute, 50)
	require.NoError(t, err)
	if len(pending) != 1 || pending[0].ID != stale.ID {
		t.Fatalf("expected only the stale pending invoice, got %d rows", len(pending))
	}
}
