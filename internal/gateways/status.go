package gateways

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fidelizapay/fideliza-backend/pkg/config"
	"github.com/fidelizapay/fideliza-backend/pkg/enums"
	pkgerrors "github.com/fidelizapay/fideliza-backend/pkg/errors"
)

const statusBodyReadLimit int64 = 1024

// ChargeStatus is the answer to a poll-path status query. Settled is false
// while the provider still reports the charge as open; Kind is only
// meaningful when Settled is true.
type ChargeStatus struct {
	Gateway          enums.Gateway
	ExternalChargeID string
	Settled          bool
	Kind             enums.PaymentEventKind
	RawStatus        string
	OccurredAt       time.Time
}

// StatusClient queries one provider's charge-status API. It exists for the
// poll fallback only; the webhook path never calls out.
type StatusClient interface {
	Gateway() enums.Gateway
	GetChargeStatus(ctx context.Context, externalChargeID string) (*ChargeStatus, error)
}

// statusClient is the shared HTTP plumbing behind every provider client. The
// pieces that differ per provider are the URL shape, the auth header, and the
// status-word mapping.
type statusClient struct {
	gateway    enums.Gateway
	httpClient *http.Client
	baseURL    string
	pathFormat string
	setAuth    func(req *http.Request)
	decode     func(body io.Reader) (rawStatus string, occurredAt time.Time, err error)
	mapStatus  func(rawStatus string) (enums.PaymentEventKind, bool)
	now        func() time.Time
}

func (c *statusClient) Gateway() enums.Gateway {
	return c.gateway
}

func (c *statusClient) GetChargeStatus(ctx context.Context, externalChargeID string) (*ChargeStatus, error) {
	if c == nil || c.baseURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "status client not configured for gateway "+c.gateway.String())
	}
	chargeID := strings.TrimSpace(externalChargeID)
	if chargeID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external charge id is required")
	}

	endpoint := strings.TrimRight(c.baseURL, "/") + fmt.Sprintf(c.pathFormat, url.PathEscape(chargeID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build charge status request")
	}
	req.Header.Set("Accept", "application/json")
	if c.setAuth != nil {
		c.setAuth(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute charge status request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "charge "+chargeID+" not found at "+c.gateway.String())
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, statusBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "charge status request failed")
	}

	rawStatus, occurredAt, err := c.decode(resp.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode charge status response")
	}
	if occurredAt.IsZero() {
		occurredAt = c.now().UTC()
	}

	result := &ChargeStatus{
		Gateway:          c.gateway,
		ExternalChargeID: chargeID,
		RawStatus:        rawStatus,
		OccurredAt:       occurredAt,
	}
	if kind, ok := c.mapStatus(rawStatus); ok {
		result.Settled = true
		result.Kind = kind
	}
	return result, nil
}

// NewStatusClients builds one client per gateway from config. Providers with
// no API base URL configured are skipped; the poll job logs and moves on.
func NewStatusClients(cfg config.GatewaysConfig, timeout time.Duration) map[enums.Gateway]StatusClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	clients := map[enums.Gateway]StatusClient{}
	if base := strings.TrimSpace(cfg.Pagarme().APIBaseURL); base != "" {
		clients[enums.GatewayPagarme] = newPagarmeStatusClient(base, cfg.Pagarme().APIToken, httpClient)
	}
	if base := strings.TrimSpace(cfg.MercadoPago().APIBaseURL); base != "" {
		clients[enums.GatewayMercadoPago] = newMercadoPagoStatusClient(base, cfg.MercadoPago().APIToken, httpClient)
	}
	if base := strings.TrimSpace(cfg.OpenPix().APIBaseURL); base != "" {
		clients[enums.GatewayOpenPix] = newOpenPixStatusClient(base, cfg.OpenPix().APIToken, httpClient)
	}
	if base := strings.TrimSpace(cfg.PagHiper().APIBaseURL); base != "" {
		clients[enums.GatewayPagHiper] = newPagHiperStatusClient(base, cfg.PagHiper().APIToken, httpClient)
	}
	return clients
}

func newPagarmeStatusClient(baseURL, token string, httpClient *http.Client) *statusClient {
	return &statusClient{
		gateway:    enums.GatewayPagarme,
		httpClient: httpClient,
		baseURL:    baseURL,
		pathFormat: "/charges/%s",
		setAuth: func(req *http.Request) {
			req.SetBasicAuth(token, "")
		},
		decode: func(body io.Reader) (string, time.Time, error) {
			var payload struct {
				Status    string `json:"status"`
				UpdatedAt string `json:"updated_at"`
			}
			if err := json.NewDecoder(body).Decode(&payload); err != nil {
				return "", time.Time{}, err
			}
			ts, _ := parseUnixOrRFC3339(payload.UpdatedAt)
			return payload.Status, ts, nil
		},
		mapStatus: func(status string) (enums.PaymentEventKind, bool) {
			switch strings.ToLower(status) {
			case "paid":
				return enums.PaymentEventChargeSucceeded, true
			case "failed":
				return enums.PaymentEventChargeFailed, true
			case "overpaid", "underpaid":
				return enums.PaymentEventChargeSucceeded, true
			case "expired":
				return enums.PaymentEventChargeExpired, true
			case "canceled":
				return enums.PaymentEventChargeCanceled, true
			default:
				return "", false
			}
		},
		now: time.Now,
	}
}

func newMercadoPagoStatusClient(baseURL, token string, httpClient *http.Client) *statusClient {
	return &statusClient{
		gateway:    enums.GatewayMercadoPago,
		httpClient: httpClient,
		baseURL:    baseURL,
		pathFormat: "/v1/payments/%s",
		setAuth: func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token)
		},
		decode: func(body io.Reader) (string, time.Time, error) {
			var payload struct {
				Status      string `json:"status"`
				DateUpdated string `json:"date_last_updated"`
			}
			if err := json.NewDecoder(body).Decode(&payload); err != nil {
				return "", time.Time{}, err
			}
			ts, _ := parseUnixOrRFC3339(payload.DateUpdated)
			return payload.Status, ts, nil
		},
		mapStatus: func(status string) (enums.PaymentEventKind, bool) {
			switch strings.ToLower(status) {
			case "approved":
				return enums.PaymentEventChargeSucceeded, true
			case "rejected":
				return enums.PaymentEventChargeFailed, true
			case "expired":
				return enums.PaymentEventChargeExpired, true
			case "cancelled", "canceled":
				return enums.PaymentEventChargeCanceled, true
			default:
				return "", false
			}
		},
		now: time.Now,
	}
}

func newOpenPixStatusClient(baseURL, token string, httpClient *http.Client) *statusClient {
	return &statusClient{
		gateway:    enums.GatewayOpenPix,
		httpClient: httpClient,
		baseURL:    baseURL,
		pathFormat: "/api/v1/charge/%s",
		setAuth: func(req *http.Request) {
			req.Header.Set("Authorization", token)
		},
		decode: func(body io.Reader) (string, time.Time, error) {
			var payload struct {
				Charge struct {
					Status    string `json:"status"`
					UpdatedAt string `json:"updatedAt"`
				} `json:"charge"`
			}
			if err := json.NewDecoder(body).Decode(&payload); err != nil {
				return "", time.Time{}, err
			}
			ts, _ := parseUnixOrRFC3339(payload.Charge.UpdatedAt)
			return payload.Charge.Status, ts, nil
		},
		mapStatus: func(status string) (enums.PaymentEventKind, bool) {
			switch strings.ToUpper(status) {
			case "COMPLETED":
				return enums.PaymentEventChargeSucceeded, true
			case "FAILED":
				return enums.PaymentEventChargeFailed, true
			case "EXPIRED":
				return enums.PaymentEventChargeExpired, true
			case "CANCELED":
				return enums.PaymentEventChargeCanceled, true
			default:
				return "", false
			}
		},
		now: time.Now,
	}
}

func newPagHiperStatusClient(baseURL, token string, httpClient *http.Client) *statusClient {
	return &statusClient{
		gateway:    enums.GatewayPagHiper,
		httpClient: httpClient,
		baseURL:    baseURL,
		pathFormat: "/transaction/%s/status",
		setAuth: func(req *http.Request) {
			req.Header.Set("Apikey", token)
		},
		decode: func(body io.Reader) (string, time.Time, error) {
			var payload struct {
				Status     string `json:"status"`
				StatusDate string `json:"status_date"`
			}
			if err := json.NewDecoder(body).Decode(&payload); err != nil {
				return "", time.Time{}, err
			}
			ts, _ := parseUnixOrRFC3339(payload.StatusDate)
			return payload.Status, ts, nil
		},
		mapStatus: func(status string) (enums.PaymentEventKind, bool) {
			return pagHiperEventKind(status)
		},
		now: time.Now,
	}
}

// SynthesizeEvent turns a settled poll answer into the same canonical event a
// webhook would have produced, so both paths share one processing pipeline.
func SynthesizeEvent(status *ChargeStatus) (*PaymentEvent, error) {
	if status == nil || !status.Settled {
		return nil, pkgerrors.New(pkgerrors.CodeNotActionable, "charge status is not settled")
	}
	payload, err := json.Marshal(map[string]any{
		"source":             "poll",
		"gateway":            status.Gateway.String(),
		"external_charge_id": status.ExternalChargeID,
		"status":             status.RawStatus,
		"occurred_at":        status.OccurredAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal synthesized event payload")
	}
	return &PaymentEvent{
		Gateway:          status.Gateway,
		ExternalEventID:  syntheticEventID(status.Gateway, status.ExternalChargeID, status.RawStatus, status.OccurredAt),
		ExternalChargeID: status.ExternalChargeID,
		Kind:             status.Kind,
		OccurredAt:       status.OccurredAt,
		RawPayload:       payload,
	}, nil
}
