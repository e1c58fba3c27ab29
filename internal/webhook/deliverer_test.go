package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catherinevee/costopt/internal/models"
)

// fastConfig keeps retry backoff in the low milliseconds so tests stay quick
func fastConfig(maxAttempts int) Config {
	return Config{
		Timeout:     5 * time.Second,
		MaxAttempts: maxAttempts,
		BackoffBase: 2,
		MinWait:     time.Millisecond,
		MaxWait:     5 * time.Millisecond,
		RateLimit:   0, // unlimited
	}
}

func testDecision() *models.Decision {
	savings := decimal.RequireFromString("42.50")
	return &models.Decision{
		ID:                      7,
		Recommendation:          "Archive bucket 'bucket-logs'",
		ActionType:              models.ActionArchive,
		Confidence:              0.85,
		EstimatedSavingsMonthly: &savings,
		Currency:                "USD",
		WebhookSecret:           "s3cret",
		WebhookStatus:           models.WebhookPending,
		Context:                 map[string]interface{}{"resource_id": "bucket-logs"},
	}
}

func TestDeliverSuccess(t *testing.T) {
	var gotBody []byte
	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"received":true}`))
	}))
	defer server.Close()

	d := NewDeliverer(fastConfig(3), server.Client())
	decision := testDecision()
	decision.WebhookURL = server.URL

	attempts, err := d.DeliverWithRetry(context.Background(), decision)
	require.NoError(t, err)
	require.Len(t, attempts, 1)

	entry := attempts[0]
	assert.Equal(t, models.WebhookLogStatusSuccess, entry.Status)
	assert.Equal(t, 1, entry.AttemptNumber)
	require.NotNil(t, entry.StatusCode)
	assert.Equal(t, http.StatusOK, *entry.StatusCode)
	assert.Equal(t, `{"received":true}`, entry.ResponseBody)
	require.NotNil(t, entry.CompletedAt)

	assert.Equal(t, models.WebhookDelivered, decision.WebhookStatus)
	assert.Equal(t, 1, decision.WebhookAttempts)
	assert.Empty(t, decision.WebhookError)
	require.NotNil(t, decision.WebhookLastAttempt)

	// request headers and signature
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, EventType, gotHeaders.Get("X-Webhook-Event"))
	assert.Equal(t, PayloadVersion, gotHeaders.Get("X-Webhook-Version"))
	assert.Equal(t, Sign(gotBody, "s3cret"), gotHeaders.Get("X-Webhook-Signature"))

	var payload Payload
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, EventType, payload.Event)
	assert.Equal(t, int64(7), payload.Decision.ID)
	require.NotNil(t, payload.Decision.EstimatedSavingsMonthly)
	assert.Equal(t, "42.5", *payload.Decision.EstimatedSavingsMonthly)
}

func TestDeliverWithRetryExhaustsAttempts(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	d := NewDeliverer(fastConfig(3), server.Client())
	decision := testDecision()
	decision.WebhookURL = server.URL

	attempts, err := d.DeliverWithRetry(context.Background(), decision)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, int32(3), hits.Load())
	require.Len(t, attempts, 3)

	for i, entry := range attempts {
		assert.Equal(t, i+1, entry.AttemptNumber)
		assert.Equal(t, models.WebhookLogStatusFailure, entry.Status)
		assert.Contains(t, entry.ErrorMessage, "HTTP 500")
	}

	assert.Equal(t, models.WebhookFailed, decision.WebhookStatus)
	assert.Equal(t, 3, decision.WebhookAttempts)
	assert.Contains(t, decision.WebhookError, "HTTP 500")
}

func TestDeliverWithRetrySucceedsAfterFailures(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "not yet", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	d := NewDeliverer(fastConfig(5), server.Client())
	decision := testDecision()
	decision.WebhookURL = server.URL

	attempts, err := d.DeliverWithRetry(context.Background(), decision)
	require.NoError(t, err)
	require.Len(t, attempts, 3)

	assert.Equal(t, models.WebhookLogStatusFailure, attempts[0].Status)
	assert.Equal(t, models.WebhookLogStatusFailure, attempts[1].Status)
	assert.Equal(t, models.WebhookLogStatusSuccess, attempts[2].Status)

	assert.Equal(t, models.WebhookDelivered, decision.WebhookStatus)
	assert.Equal(t, 3, decision.WebhookAttempts)
	assert.Empty(t, decision.WebhookError)
}

func TestDeliverRetriesClientErrors(t *testing.T) {
	// 4xx responses are treated like any other failure and retried
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "bad payload", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	d := NewDeliverer(fastConfig(2), server.Client())
	decision := testDecision()
	decision.WebhookURL = server.URL

	_, err := d.DeliverWithRetry(context.Background(), decision)
	require.Error(t, err)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, models.WebhookFailed, decision.WebhookStatus)
}

func TestDeliverTransportFailure(t *testing.T) {
	d := NewDeliverer(fastConfig(2), &http.Client{Timeout: time.Second})
	decision := testDecision()
	decision.WebhookURL = "http://127.0.0.1:1/webhook"

	attempts, err := d.DeliverWithRetry(context.Background(), decision)
	require.Error(t, err)
	require.Len(t, attempts, 2)
	assert.Nil(t, attempts[0].StatusCode)
	assert.NotEmpty(t, attempts[0].ErrorMessage)
	assert.Equal(t, models.WebhookFailed, decision.WebhookStatus)
}

func TestDeliverWithRetryHonorsContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	config := fastConfig(5)
	config.MinWait = time.Minute
	config.MaxWait = time.Minute
	d := NewDeliverer(config, server.Client())

	decision := testDecision()
	decision.WebhookURL = server.URL

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	attempts, err := d.DeliverWithRetry(ctx, decision)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	// first attempt ran, the backoff before the second was cut short
	assert.Len(t, attempts, 1)
}

func TestSign(t *testing.T) {
	payload := []byte(`{"event":"cost_optimization_recommendation"}`)

	sig := Sign(payload, "secret-key")
	assert.Len(t, sig, 64)
	assert.Regexp(t, "^[0-9a-f]{64}$", sig)
	assert.Equal(t, sig, Sign(payload, "secret-key"))
	assert.NotEqual(t, sig, Sign(payload, "other-key"))
	assert.NotEqual(t, sig, Sign([]byte(`{}`), "secret-key"))
}

func TestSignatureUsesGlobalKeyWhenDecisionHasNoSecret(t *testing.T) {
	var gotBody []byte
	var gotSignature string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSignature = r.Header.Get("X-Webhook-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	config := fastConfig(1)
	config.SigningKey = "global-key"
	d := NewDeliverer(config, server.Client())

	decision := testDecision()
	decision.WebhookSecret = ""
	decision.WebhookURL = server.URL

	_, err := d.DeliverWithRetry(context.Background(), decision)
	require.NoError(t, err)
	assert.Equal(t, Sign(gotBody, "global-key"), gotSignature)
}

func TestCustomSignatureHeader(t *testing.T) {
	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	config := fastConfig(1)
	config.SignatureHeader = "X-Costopt-Signature"
	d := NewDeliverer(config, server.Client())

	decision := testDecision()
	decision.WebhookURL = server.URL

	_, err := d.DeliverWithRetry(context.Background(), decision)
	require.NoError(t, err)
	assert.NotEmpty(t, gotHeaders.Get("X-Costopt-Signature"))
	assert.Empty(t, gotHeaders.Get("X-Webhook-Signature"))
}

func TestBuildPayloadNullSavings(t *testing.T) {
	d := NewDeliverer(fastConfig(1), nil)

	decision := testDecision()
	decision.EstimatedSavingsMonthly = nil

	data, err := d.BuildPayload(decision)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"estimated_savings_monthly":null`)

	var payload Payload
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Nil(t, payload.Decision.EstimatedSavingsMonthly)
	assert.Equal(t, "archive", payload.Decision.ActionType)

	_, err = time.Parse(time.RFC3339Nano, payload.Timestamp)
	assert.NoError(t, err)

	_, err = uuid.Parse(payload.EventID)
	assert.NoError(t, err)
}

func TestBuildPayloadEventIDUniquePerAttempt(t *testing.T) {
	d := NewDeliverer(fastConfig(1), nil)
	decision := testDecision()

	first, err := d.BuildPayload(decision)
	require.NoError(t, err)
	second, err := d.BuildPayload(decision)
	require.NoError(t, err)

	var a, b Payload
	require.NoError(t, json.Unmarshal(first, &a))
	require.NoError(t, json.Unmarshal(second, &b))
	assert.NotEqual(t, a.EventID, b.EventID)
	assert.Equal(t, a.Decision.ID, b.Decision.ID)
}

func TestGenerateSecret(t *testing.T) {
	d := NewDeliverer(fastConfig(1), nil)

	first, err := d.GenerateSecret()
	require.NoError(t, err)
	assert.Len(t, first, 64)

	second, err := d.GenerateSecret()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestNewDelivererFillsDefaults(t *testing.T) {
	d := NewDeliverer(Config{}, nil)

	assert.Equal(t, 5, d.config.MaxAttempts)
	assert.Equal(t, 30*time.Second, d.config.Timeout)
	assert.Equal(t, float64(2), d.config.BackoffBase)
	assert.Equal(t, time.Second, d.config.MinWait)
	assert.Equal(t, 60*time.Second, d.config.MaxWait)
	assert.Equal(t, "X-Webhook-Signature", d.config.SignatureHeader)
}
