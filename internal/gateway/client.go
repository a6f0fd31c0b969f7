package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/EduOpsSolutions/EduOps-sub002/pkg/config"
)

// Gateway-side intent statuses. The provider reports awaiting_payment_method
// both for brand-new intents and for intents whose last attempt failed; the
// last_payment_error attribute disambiguates the two.
const (
	IntentStatusAwaitingMethod     = "awaiting_payment_method"
	IntentStatusAwaitingNextAction = "awaiting_next_action"
	IntentStatusProcessing         = "processing"
	IntentStatusSucceeded          = "succeeded"
)

// Intent is the provider's record of one attempted payment.
type Intent struct {
	ID          string
	Status      string
	ClientKey   string
	Amount      int64
	Currency    string
	Description string
	RedirectURL string
	LastError   string
}

// Method is the provider's tokenized representation of a funding source.
type Method struct {
	ID   string
	Type string
}

// BillingInfo identifies the payer on gateway records.
type BillingInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// CardDetails carries raw card input forwarded to the gateway for
// tokenization. Never persisted.
type CardDetails struct {
	Number   string `json:"card_number"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
	CVC      string `json:"cvc"`
}

// APIError is a gateway-reported request failure (4xx with a decoded body).
type APIError struct {
	StatusCode int
	Code       string
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway error %d (%s): %s", e.StatusCode, e.Code, e.Detail)
}

// NotFound reports whether the gateway has no visible record of the resource.
// The provider is eventually consistent; a fresh intent may 404 briefly.
func (e *APIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound || e.Code == "resource_not_found"
}

// Client is a thin HTTP adapter over the payment provider's API. It reports
// transport failures, gateway validation errors, and unexpected payloads as
// distinct error shapes and performs no retries of its own.
type Client struct {
	baseURL   string
	secretKey string
	http      *http.Client
	logger    *zap.Logger
}

// NewClient constructs a gateway client from config.
func NewClient(cfg config.GatewayConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		secretKey: cfg.SecretKey,
		http:      &http.Client{Timeout: cfg.CallTimeout},
		logger:    logger,
	}
}

type attributesEnvelope struct {
	Data struct {
		Attributes map[string]interface{} `json:"attributes"`
	} `json:"data"`
}

type resourceEnvelope struct {
	Data struct {
		ID         string          `json:"id"`
		Attributes json.RawMessage `json:"attributes"`
	} `json:"data"`
}

type errorEnvelope struct {
	Errors []struct {
		Code   string `json:"code"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

type intentAttributes struct {
	Status      string `json:"status"`
	ClientKey   string `json:"client_key"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	NextAction  *struct {
		Type     string `json:"type"`
		Redirect struct {
			URL string `json:"url"`
		} `json:"redirect"`
	} `json:"next_action"`
	LastPaymentError json.RawMessage `json:"last_payment_error"`
}

type methodAttributes struct {
	Type string `json:"type"`
}

// CreateIntent registers a new payment intent for the given amount.
func (c *Client) CreateIntent(ctx context.Context, amount int64, currency, description string) (*Intent, error) {
	body := attributesEnvelope{}
	body.Data.Attributes = map[string]interface{}{
		"amount":                 amount,
		"currency":               currency,
		"description":            description,
		"payment_method_allowed": []string{"card", "gcash", "grab_pay"},
		"capture_type":           "automatic",
	}

	raw, err := c.do(ctx, http.MethodPost, "/payment_intents", body)
	if err != nil {
		return nil, err
	}
	return decodeIntent(raw)
}

// CreatePaymentMethod tokenizes the payer's funding source.
func (c *Client) CreatePaymentMethod(ctx context.Context, methodType string, billing BillingInfo, card *CardDetails) (*Method, error) {
	attrs := map[string]interface{}{
		"type":    methodType,
		"billing": billing,
	}
	if card != nil {
		attrs["details"] = card
	}
	body := attributesEnvelope{}
	body.Data.Attributes = attrs

	raw, err := c.do(ctx, http.MethodPost, "/payment_methods", body)
	if err != nil {
		return nil, err
	}

	var envelope resourceEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode payment method: %w", err)
	}
	var attributes methodAttributes
	if err := json.Unmarshal(envelope.Data.Attributes, &attributes); err != nil {
		return nil, fmt.Errorf("decode payment method attributes: %w", err)
	}
	if envelope.Data.ID == "" {
		return nil, fmt.Errorf("gateway returned payment method without id")
	}
	return &Method{ID: envelope.Data.ID, Type: attributes.Type}, nil
}

// AttachMethod associates a tokenized method with an intent to attempt
// settlement. The returned intent status decides synchronous vs redirect flow.
func (c *Client) AttachMethod(ctx context.Context, intentID, methodID, returnURL string) (*Intent, error) {
	body := attributesEnvelope{}
	body.Data.Attributes = map[string]interface{}{
		"payment_method": methodID,
		"return_url":     returnURL,
	}

	raw, err := c.do(ctx, http.MethodPost, "/payment_intents/"+url.PathEscape(intentID)+"/attach", body)
	if err != nil {
		return nil, err
	}
	return decodeIntent(raw)
}

// RetrieveIntent fetches the current intent state using its client key. Used
// by the reconciliation poller after a redirect-based confirmation.
func (c *Client) RetrieveIntent(ctx context.Context, intentID, clientKey string) (*Intent, error) {
	path := "/payment_intents/" + url.PathEscape(intentID) + "?client_key=" + url.QueryEscape(clientKey)
	raw, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return decodeIntent(raw)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode gateway request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(c.secretKey+":")))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return raw, nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var envelope errorEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Errors) > 0 {
		apiErr.Code = envelope.Errors[0].Code
		apiErr.Detail = envelope.Errors[0].Detail
	} else {
		apiErr.Detail = string(raw)
	}
	c.logger.Warn("gateway call failed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.String("code", apiErr.Code),
	)
	return nil, apiErr
}

func decodeIntent(raw json.RawMessage) (*Intent, error) {
	var envelope resourceEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode intent: %w", err)
	}
	var attributes intentAttributes
	if err := json.Unmarshal(envelope.Data.Attributes, &attributes); err != nil {
		return nil, fmt.Errorf("decode intent attributes: %w", err)
	}
	if envelope.Data.ID == "" {
		return nil, fmt.Errorf("gateway returned intent without id")
	}

	intent := &Intent{
		ID:          envelope.Data.ID,
		Status:      attributes.Status,
		ClientKey:   attributes.ClientKey,
		Amount:      attributes.Amount,
		Currency:    attributes.Currency,
		Description: attributes.Description,
	}
	if attributes.NextAction != nil {
		intent.RedirectURL = attributes.NextAction.Redirect.URL
	}
	if len(attributes.LastPaymentError) > 0 && string(attributes.LastPaymentError) != "null" {
		intent.LastError = string(attributes.LastPaymentError)
	}
	return intent, nil
}
