package reconcile

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fidelizapay/fideliza-backend/internal/cashback"
	"github.com/fidelizapay/fideliza-backend/internal/eventledger"
	"github.com/fidelizapay/fideliza-backend/internal/gateways"
	"github.com/fidelizapay/fideliza-backend/internal/invoices"
	"github.com/fidelizapay/fideliza-backend/internal/notify"
	"github.com/fidelizapay/fideliza-backend/internal/subscriptions"
	"github.com/fidelizapay/fideliza-backend/pkg/config"
	"github.com/fidelizapay/fideliza-backend/pkg/db/models"
	"github.com/fidelizapay/fideliza-backend/pkg/enums"
	pkgerrors "github.com/fidelizapay/fideliza-backend/pkg/errors"
	"github.com/fidelizapay/fideliza-backend/pkg/metrics"
)

const webhookSecret = "whsec_test"

func setupReconcileTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS gateway_events (
  id TEXT PRIMARY KEY,
  gateway TEXT NOT NULL,
  external_event_id TEXT NOT NULL,
  external_charge_id TEXT,
  kind TEXT NOT NULL,
  raw_payload TEXT,
  received_at DATETIME NOT NULL,
  processed_at DATETIME,
  outcome TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_gateway_events_dedup ON gateway_events (gateway, external_event_id);
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
CREATE UNIQUE INDEX IF NOT EXISTS idx_invoices_gateway_charge ON invoices (gateway, external_charge_id);
CREATE TABLE IF NOT EXISTS subscriptions (
  id TEXT PRIMARY KEY,
  store_id TEXT NOT NULL,
  plan_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'active',
  current_period_start DATETIME NOT NULL,
  current_period_end DATETIME NOT NULL,
  next_invoice_date DATETIME,
  canceled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS billing_plans (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  price TEXT NOT NULL,
  interval TEXT NOT NULL DEFAULT 'monthly',
  cashback_rate TEXT NOT NULL,
  active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS cashback_transactions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  store_id TEXT NOT NULL,
  invoice_id TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  approved_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS cashback_balances (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  store_id TEXT NOT NULL,
  available_cents INTEGER NOT NULL DEFAULT 0,
  total_credited_cents INTEGER NOT NULL DEFAULT 0,
  total_used_cents INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_cashback_balances_user_store ON cashback_balances (user_id, store_id);`
	require.NoError(t, db.Exec(schema).Error)

	return db
}

type gormTxRunner struct {
	db *gorm.DB
}

func (r *gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

type recordingNotifier struct {
	events []notify.CashbackCredited
}

func (n *recordingNotifier) CashbackCredited(_ context.Context, event notify.CashbackCredited) {
	n.events = append(n.events, event)
}

type world struct {
	db       *gorm.DB
	svc      Service
	notifier *recordingNotifier
}

func newWorld(t *testing.T) *world {
	t.Helper()
	db := setupReconcileTestDB(t)

	ledger, err := eventledger.NewService(eventledger.ServiceParams{Repo: eventledger.NewRepository(db)})
	require.NoError(t, err)
	invoiceSvc, err := invoices.NewService(invoices.ServiceParams{Repo: invoices.NewRepository(db)})
	require.NoError(t, err)
	subSvc, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:        subscriptions.NewRepository(db),
		InvoiceRepo: invoices.NewRepository(db),
	})
	require.NoError(t, err)
	cashbackSvc, err := cashback.NewService(cashback.ServiceParams{Repo: cashback.NewRepository(db)})
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	registry := gateways.NewRegistry(config.GatewaysConfig{
		PagarmeWebhookSecret: webhookSecret,
		SignatureFreshness:   10 * time.Minute,
	}, nil)

	svc, err := NewService(ServiceParams{
		Adapters:      registry,
		Ledger:        ledger,
		Invoices:      invoiceSvc,
		Subscriptions: subSvc,
		Cashback:      cashbackSvc,
		Tx:            &gormTxRunner{db: db},
		Notifier:      notifier,
		Metrics:       metrics.NewWebhookMetrics(nil),
	})
	require.NoError(t, err)

	return &world{db: db, svc: svc, notifier: notifier}
}

type billing struct {
	plan         *models.BillingPlan
	subscription *models.Subscription
	invoice      *models.Invoice
	cashbacks    []*models.CashbackTransaction
}

func (w *world) seedBilling(t *testing.T, gateway enums.Gateway, chargeID string, cashbackCount int) billing {
	t.Helper()

	plan := &models.BillingPlan{
		ID:           uuid.New(),
		Name:         "loja-pro",
		Price:        decimal.NewFromFloat(99.90),
		Interval:     enums.BillingIntervalMonthly,
		CashbackRate: decimal.NewFromFloat(0.05),
		Active:       true,
	}
	require.NoError(t, w.db.Create(plan).Error)

	periodEnd := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	subscription := &models.Subscription{
		ID:                 uuid.New(),
		StoreID:            uuid.New(),
		PlanID:             plan.ID,
		Status:             enums.SubscriptionStatusActive,
		CurrentPeriodStart: periodEnd.AddDate(0, -1, 0),
		CurrentPeriodEnd:   periodEnd,
	}
	require.NoError(t, w.db.Create(subscription).Error)

	invoice := &models.Invoice{
		ID:               uuid.New(),
		SubscriptionID:   subscription.ID,
		StoreID:          subscription.StoreID,
		AmountCents:      9990,
		PeriodEnd:        periodEnd,
		Gateway:          gateway,
		ExternalChargeID: &chargeID,
		Status:           enums.InvoiceStatusPending,
	}
	require.NoError(t, w.db.Create(invoice).Error)

	out := billing{plan: plan, subscription: subscription, invoice: invoice}
	for i := 0; i < cashbackCount; i++ {
		txn := &models.CashbackTransaction{
			ID:          uuid.New(),
			UserID:      uuid.New(),
			StoreID:     subscription.StoreID,
			InvoiceID:   invoice.ID,
			AmountCents: int64(100 * (i + 1)),
			Status:      enums.CashbackStatusPending,
		}
		require.NoError(t, w.db.Create(txn).Error)
		out.cashbacks = append(out.cashbacks, txn)
	}
	return out
}

func signedWebhook(eventID, chargeID string) (http.Header, []byte) {
	body := []byte(fmt.Sprintf(
		`{"id":%q,"type":"charge.paid","created_at":"2026-03-05T12:00:00Z","data":{"object":{"id":%q,"status":"paid","last_transaction":{"card":{"brand":"Visa","last_four_digits":"4242"}}}}}`,
		eventID, chargeID))
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	header := http.Header{}
	header.Set("X-Pagarme-Signature", "t="+ts+",v1="+hex.EncodeToString(mac.Sum(nil)))
	return header, body
}

func (w *world) snapshot(t *testing.T, b billing) (models.Invoice, models.Subscription, int64) {
	t.Helper()
	var invoice models.Invoice
	require.NoError(t, w.db.First(&invoice, "id = ?", b.invoice.ID).Error)
	var subscription models.Subscription
	require.NoError(t, w.db.First(&subscription, "id = ?", b.subscription.ID).Error)
	var totalCredited int64
	require.NoError(t, w.db.Raw("SELECT COALESCE(SUM(total_credited_cents), 0) FROM cashback_balances").Scan(&totalCredited).Error)
	return invoice, subscription, totalCredited
}

// Webhook marks the invoice paid; a duplicate delivery of the same event id
// is acknowledged without reapplying anything.
func TestWebhookThenDuplicateDelivery(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	b := w.seedBilling(t, enums.GatewayPagarme, "ch_123", 2)

	header, body := signedWebhook("evt_1", "ch_123")
	receipt, err := w.svc.HandleWebhook(ctx, enums.GatewayPagarme, header, body)
	require.NoError(t, err)
	require.Equal(t, enums.EventOutcomeSuccess, receipt.Outcome)
	require.Len(t, receipt.Credits, 2)
	require.Len(t, w.notifier.events, 2)

	invoice, subscription, credited := w.snapshot(t, b)
	if invoice.Status != enums.InvoiceStatusPaid {
		t.Fatalf("invoice status %s", invoice.Status)
	}
	if invoice.CardBrand == nil || *invoice.CardBrand != "visa" || invoice.CardLast4 == nil || *invoice.CardLast4 != "4242" {
		t.Fatalf("card metadata not attached: %+v", invoice)
	}
	wantEnd := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	if !subscription.CurrentPeriodEnd.Equal(wantEnd) {
		t.Fatalf("period end %s", subscription.CurrentPeriodEnd)
	}
	require.NotNil(t, invoice.PaidAt)
	if credited != 300 {
		t.Fatalf("total credited %d", credited)
	}

	_, err = w.svc.HandleWebhook(ctx, enums.GatewayPagarme, header, body)
	if pkgerrors.CodeOf(err) != pkgerrors.CodeAlreadyProcessed {
		t.Fatalf("expected already processed, got %v", err)
	}

	invoiceAfter, subscriptionAfter, creditedAfter := w.snapshot(t, b)
	if !subscriptionAfter.CurrentPeriodEnd.Equal(subscription.CurrentPeriodEnd) || creditedAfter != credited {
		t.Fatal("duplicate delivery mutated state")
	}
	if !invoiceAfter.PaidAt.Equal(*invoice.PaidAt) {
		t.Fatal("duplicate delivery touched paid_at")
	}
	if len(w.notifier.events) != 2 {
		t.Fatalf("duplicate delivery re-notified: %d events", len(w.notifier.events))
	}
}

// A poll-synthesized event flows through the identical pipeline and produces
// the same end state as a webhook would have.
func TestPollSynthesizedEvent(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	b := w.seedBilling(t, enums.GatewayOpenPix, "qr_456", 1)

	status := &gateways.ChargeStatus{
		Gateway:          enums.GatewayOpenPix,
		ExternalChargeID: "qr_456",
		Settled:          true,
		Kind:             enums.PaymentEventChargeSucceeded,
		RawStatus:        "COMPLETED",
		OccurredAt:       time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC),
	}
	event, err := gateways.SynthesizeEvent(status)
	require.NoError(t, err)

	receipt, err := w.svc.ProcessEvent(ctx, event)
	require.NoError(t, err)
	require.Equal(t, enums.EventOutcomeSuccess, receipt.Outcome)

	invoice, subscription, credited := w.snapshot(t, b)
	if invoice.Status != enums.InvoiceStatusPaid {
		t.Fatalf("invoice status %s", invoice.Status)
	}
	if !subscription.CurrentPeriodEnd.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("period end %s", subscription.CurrentPeriodEnd)
	}
	if credited != 100 {
		t.Fatalf("total credited %d", credited)
	}

	// Polling again synthesizes the identical event id; the ledger rejects it.
	again, err := gateways.SynthesizeEvent(status)
	require.NoError(t, err)
	_, err = w.svc.ProcessEvent(ctx, again)
	if pkgerrors.CodeOf(err) != pkgerrors.CodeAlreadyProcessed {
		t.Fatalf("expected already processed, got %v", err)
	}
}

// A webhook and a poll result for the same charge carry different event ids,
// so both pass the ledger; the invoice guards make the second a no-op.
func TestWebhookAndPollForSameCharge(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	b := w.seedBilling(t, enums.GatewayPagarme, "ch_789", 2)

	header, body := signedWebhook("evt_hook", "ch_789")
	_, err := w.svc.HandleWebhook(ctx, enums.GatewayPagarme, header, body)
	require.NoError(t, err)

	event, err := gateways.SynthesizeEvent(&gateways.ChargeStatus{
		Gateway:          enums.GatewayPagarme,
		ExternalChargeID: "ch_789",
		Settled:          true,
		Kind:             enums.PaymentEventChargeSucceeded,
		RawStatus:        "paid",
		OccurredAt:       time.Date(2026, 3, 5, 12, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	receipt, err := w.svc.ProcessEvent(ctx, event)
	require.NoError(t, err)
	if len(receipt.Credits) != 0 {
		t.Fatal("second settlement fact must not re-credit")
	}

	_, subscription, credited := w.snapshot(t, b)
	if !subscription.CurrentPeriodEnd.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("subscription advanced more than once: %s", subscription.CurrentPeriodEnd)
	}
	if credited != 300 {
		t.Fatalf("cashback credited more than once: %d", credited)
	}
	if len(w.notifier.events) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(w.notifier.events))
	}
}

// A tampered body with an unchanged signature never touches state.
func TestTamperedSignatureRejectedWithoutMutation(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	b := w.seedBilling(t, enums.GatewayPagarme, "ch_123", 1)

	header, body := signedWebhook("evt_1", "ch_123")
	tampered := append([]byte(nil), body...)
	tampered[len(tampered)-5] = 'X'

	_, err := w.svc.HandleWebhook(ctx, enums.GatewayPagarme, header, tampered)
	if pkgerrors.CodeOf(err) != pkgerrors.CodeInvalidSignature {
		t.Fatalf("expected invalid signature, got %v", err)
	}

	invoice, _, credited := w.snapshot(t, b)
	if invoice.Status != enums.InvoiceStatusPending || credited != 0 {
		t.Fatal("rejected event mutated state")
	}
	var events int64
	require.NoError(t, w.db.Model(&models.GatewayEvent{}).Count(&events).Error)
	if events != 0 {
		t.Fatal("rejected event reached the ledger")
	}
}

// Events for charges with no invoice are committed as unknown_invoice and
// surfaced as acknowledgeable errors.
func TestUnknownInvoiceIsFlaggedAndAcknowledged(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	header, body := signedWebhook("evt_ghost", "ch_ghost")
	_, err := w.svc.HandleWebhook(ctx, enums.GatewayPagarme, header, body)
	if pkgerrors.CodeOf(err) != pkgerrors.CodeUnknownInvoice {
		t.Fatalf("expected unknown invoice, got %v", err)
	}
	if !pkgerrors.MetadataFor(pkgerrors.CodeUnknownInvoice).Acknowledge {
		t.Fatal("unknown invoice must be acknowledged to stop gateway retries")
	}

	var record models.GatewayEvent
	require.NoError(t, w.db.First(&record, "external_event_id = ?", "evt_ghost").Error)
	if record.ProcessedAt == nil || record.Outcome == nil || *record.Outcome != enums.EventOutcomeUnknownInvoice {
		t.Fatalf("ledger outcome not recorded: %+v", record)
	}

	// The duplicate is short-circuited by the ledger.
	_, err = w.svc.HandleWebhook(ctx, enums.GatewayPagarme, header, body)
	if pkgerrors.CodeOf(err) != pkgerrors.CodeAlreadyProcessed {
		t.Fatalf("expected already processed, got %v", err)
	}
}

// After the missing invoice is created, Reprocess reopens the committed
// unknown_invoice event and drives it to success.
func TestReprocessAfterInvoiceCreated(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	header, body := signedWebhook("evt_early", "ch_late")
	_, err := w.svc.HandleWebhook(ctx, enums.GatewayPagarme, header, body)
	if pkgerrors.CodeOf(err) != pkgerrors.CodeUnknownInvoice {
		t.Fatalf("expected unknown invoice, got %v", err)
	}

	b := w.seedBilling(t, enums.GatewayPagarme, "ch_late", 1)

	receipt, err := w.svc.Reprocess(ctx, enums.GatewayPagarme, "evt_early")
	require.NoError(t, err)
	require.Equal(t, enums.EventOutcomeSuccess, receipt.Outcome)

	invoice, _, credited := w.snapshot(t, b)
	if invoice.Status != enums.InvoiceStatusPaid || credited != 100 {
		t.Fatalf("reprocess did not settle the invoice: status=%s credited=%d", invoice.Status, credited)
	}

	var record models.GatewayEvent
	require.NoError(t, w.db.First(&record, "external_event_id = ?", "evt_early").Error)
	if record.Outcome == nil || *record.Outcome != enums.EventOutcomeSuccess {
		t.Fatalf("ledger outcome not rewritten: %+v", record.Outcome)
	}
}

// Connectivity pings are acknowledged without creating ledger rows.
func TestConnectivityPingLeavesNoLedgerRow(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	body := []byte(`{"id":"evt_ping","type":"charge.paid","data":{"object":{"status":"paid"}}}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	header := http.Header{}
	header.Set("X-Pagarme-Signature", "t="+ts+",v1="+hex.EncodeToString(mac.Sum(nil)))

	_, err := w.svc.HandleWebhook(ctx, enums.GatewayPagarme, header, body)
	if pkgerrors.CodeOf(err) != pkgerrors.CodeNotActionable {
		t.Fatalf("expected not actionable, got %v", err)
	}

	var events int64
	require.NoError(t, w.db.Model(&models.GatewayEvent{}).Count(&events).Error)
	if events != 0 {
		t.Fatal("ping created a ledger row")
	}
}
