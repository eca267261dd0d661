package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WompiGateway serves the COP market through Wompi payment links.
type WompiGateway struct {
	baseURL      string
	privateKey   string
	eventsSecret string
	redirectURL  string
	httpClient   *http.Client
}

// NewWompiGateway configures the Wompi adapter.
func NewWompiGateway(baseURL, privateKey, eventsSecret, redirectURL string, timeout time.Duration) *WompiGateway {
	return &WompiGateway{
		baseURL:      baseURL,
		privateKey:   privateKey,
		eventsSecret: eventsSecret,
		redirectURL:  redirectURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name implements CheckoutGateway.
func (g *WompiGateway) Name() string { return "wompi" }

// SignatureHeader implements CheckoutGateway.
func (g *WompiGateway) SignatureHeader() string { return "X-Event-Checksum" }

type wompiPaymentLinkRequest struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	SingleUse     bool   `json:"single_use"`
	Currency      string `json:"currency"`
	AmountInCents int64  `json:"amount_in_cents"`
	RedirectURL   string `json:"redirect_url"`
	Reference     string `json:"reference"`
}

type wompiPaymentLinkResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

// CreateCheckoutSession creates a single-use Wompi payment link and returns
// the hosted checkout URL for it.
func (g *WompiGateway) CreateCheckoutSession(ctx context.Context, amount int64, currency string, metadata map[string]string) (*Session, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	name := metadata["plan_name"]
	if name == "" {
		name = "TradeSight subscription"
	}

	reqBody := wompiPaymentLinkRequest{
		Name:          name,
		Description:   fmt.Sprintf("Plan %s", metadata["plan_id"]),
		SingleUse:     true,
		Currency:      currency,
		AmountInCents: amount,
		RedirectURL:   g.redirectURL,
		Reference:     metadata["payment_id"],
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payment link request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/payment_links", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.privateKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, ErrGatewayUnavailable
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return nil, ErrGatewayUnavailable
	}

	var linkResp wompiPaymentLinkResponse
	if err := json.Unmarshal(respBody, &linkResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if resp.StatusCode >= 400 {
		reason := linkResp.Error.Reason
		if reason == "" {
			reason = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return nil, &RejectedError{Gateway: g.Name(), Reason: reason}
	}

	return &Session{
		Gateway:     g.Name(),
		SessionID:   linkResp.Data.ID,
		RedirectURL: fmt.Sprintf("https://checkout.wompi.co/l/%s", linkResp.Data.ID),
	}, nil
}

// VerifyWebhookSignature checks the HMAC-SHA256 checksum Wompi sends with
// each event.
func (g *WompiGateway) VerifyWebhookSignature(payload []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(g.eventsSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SignPayload computes the checksum Wompi would attach to payload. Used by
// tests and by local event replay tooling.
func (g *WompiGateway) SignPayload(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(g.eventsSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

type wompiEvent struct {
	Event string `json:"event"`
	Data  struct {
		Transaction struct {
			ID            string `json:"id"`
			Status        string `json:"status"`
			AmountInCents int64  `json:"amount_in_cents"`
			Currency      string `json:"currency"`
			Reference     string `json:"reference"`
		} `json:"transaction"`
	} `json:"data"`
	SentAt time.Time `json:"sent_at"`
}

// ParseWebhookEvent translates a verified Wompi event payload. Wompi carries
// only the payment reference; the subscription is resolved through it.
func (g *WompiGateway) ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var ev wompiEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, err
	}

	if ev.Event != "transaction.updated" {
		return nil, ErrUnknownEvent
	}

	tx := ev.Data.Transaction
	out := &WebhookEvent{
		ID:         tx.ID,
		Gateway:    g.Name(),
		OccurredAt: ev.SentAt,
		PaymentID:  tx.Reference,
		Amount:     tx.AmountInCents,
		Currency:   tx.Currency,
	}

	switch tx.Status {
	case "APPROVED":
		out.Kind = EventPaymentCompleted
	case "DECLINED", "ERROR", "VOIDED":
		out.Kind = EventPaymentFailed
	default:
		return nil, ErrUnknownEvent
	}

	return out, nil
}
