package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/catherinevee/costopt/internal/logger"
	"github.com/catherinevee/costopt/internal/metrics"
	"github.com/catherinevee/costopt/internal/models"
)

const (
	// EventType is the event name carried in the payload and headers
	EventType = "cost_optimization_recommendation"

	// PayloadVersion is the webhook payload schema version
	PayloadVersion = "1.0"

	maxResponseBodyBytes = 1000
	maxErrorMessageBytes = 500
)

// Config controls delivery behavior. Every non-2xx response is retried,
// including 4xx; receivers that reject a payload permanently still see
// MaxAttempts deliveries.
type Config struct {
	Timeout         time.Duration `json:"timeout" yaml:"timeout" validate:"gte=0"`
	MaxAttempts     int           `json:"max_attempts" yaml:"max_attempts" validate:"gte=1,lte=10"`
	BackoffBase     float64       `json:"backoff_base" yaml:"backoff_base" validate:"gte=1"`
	MinWait         time.Duration `json:"min_wait" yaml:"min_wait" validate:"gte=0"`
	MaxWait         time.Duration `json:"max_wait" yaml:"max_wait" validate:"gtefield=MinWait"`
	SignatureHeader string        `json:"signature_header" yaml:"signature_header"`
	SigningKey      string        `json:"signing_key" yaml:"signing_key"`
	RateLimit       float64       `json:"rate_limit" yaml:"rate_limit" validate:"gte=0"`
}

// DefaultConfig returns the default delivery configuration
func DefaultConfig() Config {
	return Config{
		Timeout:         30 * time.Second,
		MaxAttempts:     5,
		BackoffBase:     2,
		MinWait:         time.Second,
		MaxWait:         60 * time.Second,
		SignatureHeader: "X-Webhook-Signature",
		RateLimit:       10,
	}
}

// Payload is the wire format posted to webhook endpoints. EventID is
// generated per delivery attempt; the decision id inside the envelope is
// the stable key for receivers that dedupe retries.
type Payload struct {
	EventID   string          `json:"event_id"`
	Event     string          `json:"event"`
	Timestamp string          `json:"timestamp"`
	Decision  DecisionPayload `json:"decision"`
}

// DecisionPayload is the decision section of the webhook payload.
// Savings are serialized as a string to avoid float rounding on the
// receiving side; null when no estimate exists.
type DecisionPayload struct {
	ID                      int64                  `json:"id"`
	Recommendation          string                 `json:"recommendation"`
	ActionType              string                 `json:"action_type"`
	Confidence              float64                `json:"confidence"`
	EstimatedSavingsMonthly *string                `json:"estimated_savings_monthly"`
	IsAutomated             bool                   `json:"is_automated"`
	Context                 map[string]interface{} `json:"context"`
}

// Deliverer posts signed recommendation payloads to webhook endpoints
// with bounded retries.
type Deliverer struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
	log     logger.Logger
	now     func() time.Time
}

// NewDeliverer creates a deliverer. Pass a nil client to use one built
// from the configured timeout.
func NewDeliverer(config Config, client *http.Client) *Deliverer {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.BackoffBase <= 1 {
		config.BackoffBase = 2
	}
	if config.MinWait <= 0 {
		config.MinWait = time.Second
	}
	if config.MaxWait <= 0 {
		config.MaxWait = 60 * time.Second
	}
	if config.SignatureHeader == "" {
		config.SignatureHeader = "X-Webhook-Signature"
	}
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}

	return &Deliverer{
		config:  config,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		log:     logger.New("webhook"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// GenerateSecret returns a new random per-decision signing secret
func (d *Deliverer) GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate webhook secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Sign computes the lowercase hex HMAC-SHA256 of the payload bytes
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// BuildPayload serializes the webhook envelope for a decision. The exact
// returned bytes are what gets signed and posted.
func (d *Deliverer) BuildPayload(decision *models.Decision) ([]byte, error) {
	var savings *string
	if decision.EstimatedSavingsMonthly != nil {
		s := decision.EstimatedSavingsMonthly.String()
		savings = &s
	}

	payload := Payload{
		EventID:   uuid.NewString(),
		Event:     EventType,
		Timestamp: d.now().Format(time.RFC3339Nano),
		Decision: DecisionPayload{
			ID:                      decision.ID,
			Recommendation:          decision.Recommendation,
			ActionType:              string(decision.ActionType),
			Confidence:              decision.Confidence,
			EstimatedSavingsMonthly: savings,
			IsAutomated:             decision.IsAutomated,
			Context:                 decision.Context,
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook payload: %w", err)
	}
	return data, nil
}

// Deliver performs a single delivery attempt and returns its log entry.
// Any non-2xx response or transport error is recorded as a failure; the
// caller decides whether to retry.
func (d *Deliverer) Deliver(ctx context.Context, decision *models.Decision, attempt int) (*models.WebhookLog, error) {
	payload, err := d.BuildPayload(decision)
	if err != nil {
		return nil, err
	}

	secret := decision.WebhookSecret
	if secret == "" {
		secret = d.config.SigningKey
	}
	signature := Sign(payload, secret)

	entry := &models.WebhookLog{
		DecisionID:     decision.ID,
		AttemptNumber:  attempt,
		RequestPayload: string(payload),
		TriggeredAt:    d.now(),
	}

	start := time.Now()
	statusCode, body, sendErr := d.send(ctx, decision.WebhookURL, payload, signature)
	duration := time.Since(start)

	completed := d.now()
	entry.CompletedAt = &completed
	entry.DurationMs = duration.Milliseconds()
	metrics.WebhookDeliveryDuration.Observe(duration.Seconds())

	if statusCode != 0 {
		entry.StatusCode = &statusCode
	}

	switch {
	case sendErr != nil:
		entry.Status = models.WebhookLogStatusFailure
		entry.ErrorMessage = truncate(sendErr.Error(), maxErrorMessageBytes)
		metrics.WebhookAttempts.WithLabelValues("failure").Inc()
	case statusCode < 200 || statusCode >= 300:
		entry.Status = models.WebhookLogStatusFailure
		entry.ErrorMessage = truncate(fmt.Sprintf("HTTP %d: %s", statusCode, body), maxErrorMessageBytes)
		metrics.WebhookAttempts.WithLabelValues("failure").Inc()
	default:
		entry.Status = models.WebhookLogStatusSuccess
		entry.ResponseBody = truncate(body, maxResponseBodyBytes)
		metrics.WebhookAttempts.WithLabelValues("success").Inc()
	}

	return entry, nil
}

// DeliverWithRetry runs the bounded retry loop, producing one log entry
// per attempt and updating the decision's delivery fields. HTTP error
// responses are retried the same as transport failures.
func (d *Deliverer) DeliverWithRetry(ctx context.Context, decision *models.Decision) ([]*models.WebhookLog, error) {
	var attempts []*models.WebhookLog

	for attempt := 1; attempt <= d.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := d.wait(ctx, attempt-1); err != nil {
				return attempts, err
			}
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return attempts, err
		}

		entry, err := d.Deliver(ctx, decision, attempt)
		if err != nil {
			return attempts, err
		}
		attempts = append(attempts, entry)

		lastAttempt := d.now()
		decision.WebhookAttempts = attempt
		decision.WebhookLastAttempt = &lastAttempt

		if entry.Status == models.WebhookLogStatusSuccess {
			decision.WebhookStatus = models.WebhookDelivered
			decision.WebhookError = ""
			d.log.Info("webhook delivered",
				logger.Int64("decision_id", decision.ID),
				logger.Int("attempt", attempt),
			)
			return attempts, nil
		}

		decision.WebhookStatus = models.WebhookRetrying
		if attempt == d.config.MaxAttempts {
			decision.WebhookStatus = models.WebhookFailed
		}
		decision.WebhookError = entry.ErrorMessage
		d.log.Warn("webhook attempt failed",
			logger.Int64("decision_id", decision.ID),
			logger.Int("attempt", attempt),
			logger.String("error", entry.ErrorMessage),
		)
	}

	return attempts, fmt.Errorf("webhook delivery failed after %d attempts", d.config.MaxAttempts)
}

// send posts the signed payload and reads a bounded response body
func (d *Deliverer) send(ctx context.Context, url string, payload []byte, signature string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(d.config.SignatureHeader, signature)
	req.Header.Set("X-Webhook-Event", EventType)
	req.Header.Set("X-Webhook-Version", PayloadVersion)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("failed to read response: %w", err)
	}

	return resp.StatusCode, string(body), nil
}

// wait sleeps for the exponential backoff delay before retry n,
// clamped to [MinWait, MaxWait]
func (d *Deliverer) wait(ctx context.Context, retry int) error {
	delay := time.Duration(math.Pow(d.config.BackoffBase, float64(retry))) * time.Second
	if delay < d.config.MinWait {
		delay = d.config.MinWait
	}
	if delay > d.config.MaxWait {
		delay = d.config.MaxWait
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
