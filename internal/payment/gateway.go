package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/netflow-hotspot/netflow-server/internal/config"
	"github.com/netflow-hotspot/netflow-server/internal/models"
	"github.com/netflow-hotspot/netflow-server/pkg/crypto"
)

// ErrGatewayUnavailable means the gateway could not be reached or gave
// an unusable answer. The payment stays PENDING for the poller.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// Gateway is the mobile-money gateway client.
type Gateway struct {
	baseURL       string
	apiKey        string
	webhookSecret string
	currency      string
	httpClient    *http.Client
}

// NewGateway creates a gateway client from config.
func NewGateway(cfg config.PaymentConfig) *Gateway {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Gateway{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		webhookSecret: cfg.WebhookSecret,
		currency:      cfg.Currency,
		httpClient:    &http.Client{Timeout: timeout},
	}
}

// InitiateRequest describes a charge to push to the customer's phone.
type InitiateRequest struct {
	Amount      int64
	PhoneNumber string
	Method      models.PaymentMethod
	Reference   string
	Description string
}

// InitiateResponse is the gateway's answer to an initiation.
type InitiateResponse struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Message       string `json:"message"`
	PaymentURL    string `json:"payment_url"`
}

// Initiate pushes a charge request to the gateway. The returned
// transaction ID becomes the payment's external reference.
func (g *Gateway) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	payload := map[string]interface{}{
		"amount":         req.Amount,
		"currency":       g.currency,
		"phone_number":   FormatPhoneNumber(req.PhoneNumber),
		"payment_method": string(req.Method),
		"reference":      req.Reference,
		"description":    req.Description,
	}

	var resp InitiateResponse
	if err := g.post(ctx, "/api/v1/payments/initiate", payload, &resp); err != nil {
		return nil, err
	}

	log.Info().
		Str("reference", req.Reference).
		Str("transactionID", resp.TransactionID).
		Str("status", resp.Status).
		Msg("Payment initiated with gateway")

	return &resp, nil
}

// CheckStatus queries the gateway for a transaction's current state.
func (g *Gateway) CheckStatus(ctx context.Context, transactionID string) (models.PaymentStatus, error) {
	var resp struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := g.get(ctx, "/api/v1/payments/"+transactionID, &resp); err != nil {
		return models.PaymentPending, err
	}
	return ClassifyStatus(resp.Status), nil
}

// VerifySignature checks an HMAC-SHA256 webhook signature against the
// raw body. With no secret configured every payload passes, which is
// the development mode.
func (g *Gateway) VerifySignature(body []byte, signature string) bool {
	if g.webhookSecret == "" {
		return true
	}
	return crypto.VerifyHMACSHA256(g.webhookSecret, body, signature)
}

func (g *Gateway) post(ctx context.Context, path string, payload, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	return g.send(req, out)
}

func (g *Gateway) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	return g.send(req, out)
}

func (g *Gateway) send(req *http.Request, out interface{}) error {
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: gateway returned %d", ErrGatewayUnavailable, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrGatewayUnavailable, err)
		}
	}

	return nil
}

// FormatPhoneNumber normalizes a Tanzanian mobile number to the
// 255XXXXXXXXX form the gateway expects.
func FormatPhoneNumber(phone string) string {
	var digits strings.Builder
	for _, c := range phone {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	s := digits.String()

	switch {
	case strings.HasPrefix(s, "255"):
		return s
	case strings.HasPrefix(s, "0") && len(s) == 10:
		return "255" + s[1:]
	case len(s) == 9 && (s[0] == '6' || s[0] == '7'):
		return "255" + s
	default:
		return s
	}
}
