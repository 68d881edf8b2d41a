package gateways

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/fidelizapay/fideliza-backend/pkg/config"
	"github.com/fidelizapay/fideliza-backend/pkg/enums"
	pkgerrors "github.com/fidelizapay/fideliza-backend/pkg/errors"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func frozenNow() time.Time { return testNow }

func requireCode(t *testing.T, err error, want pkgerrors.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %s, got nil", want)
	}
	if got := pkgerrors.CodeOf(err); got != want {
		t.Fatalf("expected code %s, got %s (%v)", want, got, err)
	}
}

func TestPagarmeVerifySignature(t *testing.T) {
	adapter := NewPagarmeAdapter(config.GatewayConfig{WebhookSecret: "whsec_test"}, 10*time.Minute, nil)
	adapter.now = frozenNow

	body := []byte(`{"id":"evt_1","type":"charge.paid"}`)
	ts := testNow.Add(-time.Minute).Unix()
	sig := hmacSHA256Hex("whsec_test", []byte(timestampString(ts)), []byte("."), body)

	header := http.Header{}
	header.Set(pagarmeSignatureHeader, "t="+timestampString(ts)+",v1="+sig)
	if err := adapter.VerifySignature(header, body); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}

	tampered := append([]byte(nil), body...)
	tampered[len(tampered)-2] = 'X'
	requireCode(t, adapter.VerifySignature(header, tampered), pkgerrors.CodeInvalidSignature)

	header.Set(pagarmeSignatureHeader, "v1="+sig)
	requireCode(t, adapter.VerifySignature(header, body), pkgerrors.CodeInvalidSignature)

	stale := testNow.Add(-time.Hour).Unix()
	staleSig := hmacSHA256Hex("whsec_test", []byte(timestampString(stale)), []byte("."), body)
	header.Set(pagarmeSignatureHeader, "t="+timestampString(stale)+",v1="+staleSig)
	requireCode(t, adapter.VerifySignature(header, body), pkgerrors.CodeInvalidSignature)
}

func TestPagarmeRejectsWithoutSecret(t *testing.T) {
	adapter := NewPagarmeAdapter(config.GatewayConfig{}, 10*time.Minute, nil)
	requireCode(t, adapter.VerifySignature(http.Header{}, []byte(`{}`)), pkgerrors.CodeInvalidSignature)
}

func TestPagarmeNormalize(t *testing.T) {
	adapter := NewPagarmeAdapter(config.GatewayConfig{WebhookSecret: "whsec_test"}, 10*time.Minute, nil)
	adapter.now = frozenNow

	body := []byte(`{"id":"evt_1","type":"charge.paid","created_at":"2026-03-14T11:58:00Z","data":{"object":{"id":"ch_abc","status":"paid"}}}`)
	event, err := adapter.Normalize(http.Header{}, body)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if event.Gateway != enums.GatewayPagarme {
		t.Fatalf("unexpected gateway %s", event.Gateway)
	}
	if event.ExternalEventID != "evt_1" || event.ExternalChargeID != "ch_abc" {
		t.Fatalf("unexpected ids %q/%q", event.ExternalEventID, event.ExternalChargeID)
	}
	if event.Kind != enums.PaymentEventChargeSucceeded {
		t.Fatalf("unexpected kind %s", event.Kind)
	}
	if !event.OccurredAt.Equal(time.Date(2026, 3, 14, 11, 58, 0, 0, time.UTC)) {
		t.Fatalf("unexpected occurred at %s", event.OccurredAt)
	}

	requireCode(t, mustErr(adapter.Normalize(http.Header{}, []byte(`not-json`))), pkgerrors.CodeMalformedPayload)
	requireCode(t, mustErr(adapter.Normalize(http.Header{}, []byte(`{"id":"evt_2","type":"customer.updated"}`))), pkgerrors.CodeNotActionable)
	requireCode(t, mustErr(adapter.Normalize(http.Header{}, []byte(`{"id":"evt_3","type":"charge.paid","data":{"object":{"status":"paid"}}}`))), pkgerrors.CodeNotActionable)
}

func TestMercadoPagoVerifySignature(t *testing.T) {
	adapter := NewMercadoPagoAdapter(config.GatewayConfig{WebhookSecret: "mp_secret"}, 10*time.Minute, nil)
	adapter.now = frozenNow

	body := []byte(`{"id":42,"action":"payment.approved","data":{"id":"pix_1"}}`)
	ts := timestampString(testNow.Add(-30 * time.Second).Unix())
	requestID := "req-123"
	sig := hmacSHA256Hex("mp_secret", []byte(requestID), []byte(ts), body)

	header := http.Header{}
	header.Set(mercadoPagoSignatureHeader, "ts="+ts+",v1="+sig)
	header.Set(mercadoPagoRequestIDHeader, requestID)
	if err := adapter.VerifySignature(header, body); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}

	header.Set(mercadoPagoRequestIDHeader, "req-456")
	requireCode(t, adapter.VerifySignature(header, body), pkgerrors.CodeInvalidSignature)

	header.Del(mercadoPagoRequestIDHeader)
	requireCode(t, adapter.VerifySignature(header, body), pkgerrors.CodeInvalidSignature)
}

func TestMercadoPagoNormalize(t *testing.T) {
	adapter := NewMercadoPagoAdapter(config.GatewayConfig{WebhookSecret: "mp_secret"}, 10*time.Minute, nil)
	adapter.now = frozenNow

	body := []byte(`{"id":42,"action":"payment.rejected","date_created":"2026-03-14T11:00:00Z","data":{"id":"pix_1"}}`)
	event, err := adapter.Normalize(http.Header{}, body)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if event.ExternalEventID != "42" {
		t.Fatalf("expected numeric id carried through, got %q", event.ExternalEventID)
	}
	if event.Kind != enums.PaymentEventChargeFailed {
		t.Fatalf("unexpected kind %s", event.Kind)
	}

	// Connectivity probes have an action but no payment id.
	requireCode(t, mustErr(adapter.Normalize(http.Header{}, []byte(`{"id":1,"action":"payment.approved","data":{}}`))), pkgerrors.CodeNotActionable)
}

func TestOpenPixVerifySignature(t *testing.T) {
	adapter := NewOpenPixAdapter(config.GatewayConfig{WebhookSecret: "opx_secret"}, nil)
	adapter.now = frozenNow

	body := []byte(`{"id":"wh_1","type":"CHARGE_COMPLETED","data":{"id":"qr_1"}}`)
	header := http.Header{}
	header.Set(openPixSignatureHeader, hmacSHA256Hex("opx_secret", body))
	if err := adapter.VerifySignature(header, body); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}

	header.Set(openPixSignatureHeader, hmacSHA256Hex("wrong", body))
	requireCode(t, adapter.VerifySignature(header, body), pkgerrors.CodeInvalidSignature)
}

func TestOpenPixNormalizeTestWebhook(t *testing.T) {
	adapter := NewOpenPixAdapter(config.GatewayConfig{WebhookSecret: "opx_secret"}, nil)
	adapter.now = frozenNow

	requireCode(t, mustErr(adapter.Normalize(http.Header{}, []byte(`{"id":"wh_2","type":"CHARGE_COMPLETED","data":{}}`))), pkgerrors.CodeNotActionable)
}

func TestPagHiperNormalize(t *testing.T) {
	adapter := NewPagHiperAdapter(nil)
	adapter.now = frozenNow

	if err := adapter.VerifySignature(http.Header{}, []byte(`{}`)); err != nil {
		t.Fatalf("paghiper signature check should be a no-op, got %v", err)
	}

	body := []byte(`{"transaction_id":"TX9","status":"paid","status_date":"2026-03-14T10:00:00Z"}`)
	event, err := adapter.Normalize(http.Header{}, body)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if event.Kind != enums.PaymentEventChargeSucceeded {
		t.Fatalf("unexpected kind %s", event.Kind)
	}
	if event.ExternalEventID == "" {
		t.Fatal("expected a synthesized event id")
	}

	// Identical payloads must dedup to the same synthesized id.
	again, err := adapter.Normalize(http.Header{}, body)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if again.ExternalEventID != event.ExternalEventID {
		t.Fatalf("synthesized id not deterministic: %q vs %q", again.ExternalEventID, event.ExternalEventID)
	}

	requireCode(t, mustErr(adapter.Normalize(http.Header{}, []byte(`{"transaction_id":"TX9","status":"processing"}`))), pkgerrors.CodeNotActionable)
}

func TestRegistryResolve(t *testing.T) {
	registry := NewRegistry(config.GatewaysConfig{SignatureFreshness: 10 * time.Minute}, nil)

	for _, gw := range enums.Gateways() {
		adapter, err := registry.Resolve(gw)
		if err != nil {
			t.Fatalf("resolve %s: %v", gw, err)
		}
		if adapter.Gateway() != gw {
			t.Fatalf("adapter for %s identifies as %s", gw, adapter.Gateway())
		}
	}

	_, err := registry.Resolve(enums.Gateway("stripe"))
	requireCode(t, err, pkgerrors.CodeNotFound)
}

func mustErr(_ *PaymentEvent, err error) error { return err }

func timestampString(ts int64) string {
	return strconv.FormatInt(ts, 10)
}
