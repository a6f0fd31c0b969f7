package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EduOpsSolutions/EduOps-sub002/pkg/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(config.GatewayConfig{
		BaseURL:     server.URL,
		SecretKey:   "sk_test_123",
		CallTimeout: 2 * time.Second,
	}, nil)
	return client, server
}

func TestCreateIntentDecodesResponse(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/payment_intents", r.URL.Path)

		user, _, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "sk_test_123", user)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"id":"pi_1","attributes":{
			"status":"awaiting_payment_method","client_key":"pi_1_ck",
			"amount":150000,"currency":"PHP","description":"tuition"}}}`))
	})

	intent, err := client.CreateIntent(context.Background(), 150000, "PHP", "tuition")
	require.NoError(t, err)
	assert.Equal(t, "pi_1", intent.ID)
	assert.Equal(t, IntentStatusAwaitingMethod, intent.Status)
	assert.Equal(t, "pi_1_ck", intent.ClientKey)
	assert.Equal(t, int64(150000), intent.Amount)
}

func TestAttachMethodExposesRedirectURL(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/payment_intents/pi_1/attach", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":{"id":"pi_1","attributes":{
			"status":"awaiting_next_action","client_key":"pi_1_ck",
			"next_action":{"type":"redirect","redirect":{"url":"https://bank.example/3ds"}}}}}`))
	})

	intent, err := client.AttachMethod(context.Background(), "pi_1", "pm_1", "https://edu.example/return")
	require.NoError(t, err)
	assert.Equal(t, IntentStatusAwaitingNextAction, intent.Status)
	assert.Equal(t, "https://bank.example/3ds", intent.RedirectURL)
}

func TestRetrieveIntentCarriesLastError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "pi_1_ck", r.URL.Query().Get("client_key"))
		_, _ = w.Write([]byte(`{"data":{"id":"pi_1","attributes":{
			"status":"awaiting_payment_method","client_key":"pi_1_ck",
			"last_payment_error":{"failed_code":"card_declined","failed_message":"The card was declined"}}}}`))
	})

	intent, err := client.RetrieveIntent(context.Background(), "pi_1", "pi_1_ck")
	require.NoError(t, err)
	assert.Contains(t, intent.LastError, "card_declined")
}

func TestGatewayValidationErrorIsTyped(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":[{"code":"parameter_invalid","detail":"card number is invalid"}]}`))
	})

	_, err := client.CreatePaymentMethod(context.Background(), "card", BillingInfo{Name: "Juan"}, &CardDetails{Number: "bad"})
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "parameter_invalid", apiErr.Code)
	assert.Contains(t, apiErr.Detail, "card number")
}

func TestNotFoundIsDistinguishable(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errors":[{"code":"resource_not_found","detail":"No such payment_intent"}]}`))
	})

	_, err := client.RetrieveIntent(context.Background(), "pi_missing", "ck")
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.True(t, apiErr.NotFound())
}

func TestTransportFailureIsNotAPIError(t *testing.T) {
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	server.Close()

	_, err := client.CreateIntent(context.Background(), 1000, "PHP", "tuition")
	require.Error(t, err)

	_, ok := err.(*APIError)
	assert.False(t, ok)
}
