package gateways

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fidelizapay/fideliza-backend/pkg/enums"
)

// PaymentEvent is the canonical, gateway-neutral form of a provider
// notification. It is produced by an adapter, consumed once by the
// orchestrator, and discarded; the raw payload is retained on the ledger row
// for audit only.
type PaymentEvent struct {
	Gateway          enums.Gateway
	ExternalEventID  string
	ExternalChargeID string
	Kind             enums.PaymentEventKind
	OccurredAt       time.Time
	RawPayload       []byte
}

// Adapter normalizes one provider's webhook payloads and checks its
// signature scheme. Implementations are pure; they never touch storage.
type Adapter interface {
	Gateway() enums.Gateway
	VerifySignature(header http.Header, body []byte) error
	Normalize(header http.Header, body []byte) (*PaymentEvent, error)
}

func hmacSHA256Hex(secret string, parts ...[]byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	for _, part := range parts {
		mac.Write(part)
	}
	return hex.EncodeToString(mac.Sum(nil))
}

func hmacEqualHex(expected, provided string) bool {
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(provided))))
}

// parseSignatureHeader splits "t=123,v1=abc" style headers into their pairs.
func parseSignatureHeader(header string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out
}

func parseUnixOrRFC3339(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		// Providers disagree on seconds vs milliseconds.
		if secs > 1e12 {
			return time.UnixMilli(secs).UTC(), true
		}
		return time.Unix(secs, 0).UTC(), true
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), true
	}
	return time.Time{}, false
}

// syntheticEventID derives a deterministic event id for providers that do not
// send one, so the dedup ledger still keys duplicates to the same row.
func syntheticEventID(gateway enums.Gateway, chargeID, status string, occurredAt time.Time) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		gateway.String(),
		chargeID,
		status,
		occurredAt.UTC().Format(time.RFC3339),
	}, "|")))
	return hex.EncodeToString(sum[:])
}

func withinFreshness(ts time.Time, window time.Duration, now func() time.Time) bool {
	if window <= 0 {
		return true
	}
	age := now().UTC().Sub(ts.UTC())
	return age <= window && age >= -window
}
