package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/catherinevee/costopt/internal/decisions"
	"github.com/catherinevee/costopt/internal/models"
)

// SQLiteStore persists decisions and webhook delivery logs in a local
// SQLite database. The remaining stores stay in memory; decisions carry
// the approval audit trail and must survive restarts.
type SQLiteStore struct {
	db *sql.DB
}

// SQLiteConfig configures the on-disk database
type SQLiteConfig struct {
	Path string `json:"path" yaml:"path"`
}

// DefaultSQLiteConfig places the database under the user's home directory
func DefaultSQLiteConfig() SQLiteConfig {
	homeDir, _ := os.UserHomeDir()
	return SQLiteConfig{
		Path: filepath.Join(homeDir, ".costopt", "costopt.db"),
	}
}

// NewSQLiteStore opens (and if necessary creates) the database
func NewSQLiteStore(config SQLiteConfig) (*SQLiteStore, error) {
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", config.Path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS decisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cost_record_id INTEGER,
		recommendation TEXT NOT NULL,
		action_type TEXT NOT NULL,
		confidence REAL NOT NULL,
		estimated_savings_monthly TEXT,
		estimated_cost_to_implement TEXT,
		currency TEXT,
		rule_id TEXT,
		rule_explanation TEXT,
		is_automated INTEGER NOT NULL DEFAULT 0,
		approved_at TIMESTAMP,
		approved_by TEXT,
		executed_at TIMESTAMP,
		execution_result TEXT,
		webhook_url TEXT,
		webhook_secret TEXT,
		webhook_status TEXT NOT NULL DEFAULT 'pending',
		webhook_attempts INTEGER NOT NULL DEFAULT 0,
		webhook_last_attempt TIMESTAMP,
		webhook_error TEXT,
		context TEXT,
		dismissed_at TIMESTAMP,
		dismissed_by TEXT,
		dismiss_reason TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_decisions_rule ON decisions(cost_record_id, rule_id);
	CREATE INDEX IF NOT EXISTS idx_decisions_action ON decisions(action_type);

	CREATE TABLE IF NOT EXISTS webhook_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		decision_id INTEGER NOT NULL,
		attempt_number INTEGER NOT NULL,
		status TEXT NOT NULL,
		status_code INTEGER,
		response_body TEXT,
		error_message TEXT,
		request_payload TEXT NOT NULL,
		triggered_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (decision_id) REFERENCES decisions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_webhook_logs_decision ON webhook_logs(decision_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

const decisionColumns = `id, cost_record_id, recommendation, action_type, confidence,
	estimated_savings_monthly, estimated_cost_to_implement, currency,
	rule_id, rule_explanation, is_automated,
	approved_at, approved_by, executed_at, execution_result,
	webhook_url, webhook_secret, webhook_status, webhook_attempts,
	webhook_last_attempt, webhook_error, context,
	dismissed_at, dismissed_by, dismiss_reason, created_at, updated_at`

// Create inserts a decision and sets its assigned ID
func (s *SQLiteStore) Create(ctx context.Context, d *models.Decision) error {
	contextJSON, err := marshalContext(d.Context)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (
			cost_record_id, recommendation, action_type, confidence,
			estimated_savings_monthly, estimated_cost_to_implement, currency,
			rule_id, rule_explanation, is_automated,
			approved_at, approved_by, executed_at, execution_result,
			webhook_url, webhook_secret, webhook_status, webhook_attempts,
			webhook_last_attempt, webhook_error, context,
			dismissed_at, dismissed_by, dismiss_reason, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.CostRecordID, d.Recommendation, string(d.ActionType), d.Confidence,
		decimalPtr(d.EstimatedSavingsMonthly), decimalPtr(d.EstimatedCostToImplement), d.Currency,
		d.RuleID, d.RuleExplanation, d.IsAutomated,
		d.ApprovedAt, d.ApprovedBy, d.ExecutedAt, d.ExecutionResult,
		d.WebhookURL, d.WebhookSecret, string(d.WebhookStatus), d.WebhookAttempts,
		d.WebhookLastAttempt, d.WebhookError, contextJSON,
		d.DismissedAt, d.DismissedBy, d.DismissReason, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read decision id: %w", err)
	}
	d.ID = id
	return nil
}

// GetByID returns a decision by ID, nil when absent
func (s *SQLiteStore) GetByID(ctx context.Context, id int64) (*models.Decision, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+decisionColumns+" FROM decisions WHERE id = ?", id)

	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query decision: %w", err)
	}
	return d, nil
}

// Update rewrites all mutable decision fields
func (s *SQLiteStore) Update(ctx context.Context, d *models.Decision) error {
	contextJSON, err := marshalContext(d.Context)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE decisions SET
			recommendation = ?, action_type = ?, confidence = ?,
			estimated_savings_monthly = ?, estimated_cost_to_implement = ?,
			is_automated = ?,
			approved_at = ?, approved_by = ?, executed_at = ?, execution_result = ?,
			webhook_url = ?, webhook_secret = ?, webhook_status = ?, webhook_attempts = ?,
			webhook_last_attempt = ?, webhook_error = ?, context = ?,
			dismissed_at = ?, dismissed_by = ?, dismiss_reason = ?, updated_at = ?
		WHERE id = ?`,
		d.Recommendation, string(d.ActionType), d.Confidence,
		decimalPtr(d.EstimatedSavingsMonthly), decimalPtr(d.EstimatedCostToImplement),
		d.IsAutomated,
		d.ApprovedAt, d.ApprovedBy, d.ExecutedAt, d.ExecutionResult,
		d.WebhookURL, d.WebhookSecret, string(d.WebhookStatus), d.WebhookAttempts,
		d.WebhookLastAttempt, d.WebhookError, contextJSON,
		d.DismissedAt, d.DismissedBy, d.DismissReason, d.UpdatedAt,
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update decision: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns decisions matching the filter, ordered by ID
func (s *SQLiteStore) List(ctx context.Context, filter decisions.DecisionFilter) ([]*models.Decision, error) {
	query := "SELECT " + decisionColumns + " FROM decisions"
	var clauses []string
	var args []interface{}

	if filter.ActionType != "" {
		clauses = append(clauses, "action_type = ?")
		args = append(args, string(filter.ActionType))
	}
	if filter.RuleID != "" {
		clauses = append(clauses, "rule_id = ?")
		args = append(args, filter.RuleID)
	}
	switch filter.Status {
	case "pending":
		clauses = append(clauses, "approved_at IS NULL AND dismissed_at IS NULL AND executed_at IS NULL")
	case "approved":
		clauses = append(clauses, "approved_at IS NOT NULL AND dismissed_at IS NULL AND executed_at IS NULL")
	case "executed":
		clauses = append(clauses, "executed_at IS NOT NULL AND dismissed_at IS NULL")
	case "dismissed":
		clauses = append(clauses, "dismissed_at IS NOT NULL")
	}

	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer rows.Close()

	var out []*models.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ExistsForRule reports whether a decision already exists for the
// (cost record, rule) pair
func (s *SQLiteStore) ExistsForRule(ctx context.Context, costRecordID int64, ruleID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM decisions WHERE cost_record_id = ? AND rule_id = ?",
		costRecordID, ruleID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check decision existence: %w", err)
	}
	return count > 0, nil
}

// Statistics aggregates the decision table
func (s *SQLiteStore) Statistics(ctx context.Context) (*decisions.Statistics, error) {
	stats := &decisions.Statistics{
		ByStatus:              make(map[string]int64),
		ByActionType:          make(map[string]int64),
		TotalEstimatedSavings: decimal.Zero,
	}

	all, err := s.List(ctx, decisions.DecisionFilter{})
	if err != nil {
		return nil, err
	}

	for _, d := range all {
		stats.Total++
		status := d.Status()
		stats.ByStatus[status]++
		stats.ByActionType[string(d.ActionType)]++
		if status == "pending" {
			stats.PendingApproval++
		}
		if d.IsAutomated && d.ExecutedAt != nil {
			stats.AutomatedExecutions++
		}
		if d.EstimatedSavingsMonthly != nil && d.DismissedAt == nil {
			stats.TotalEstimatedSavings = stats.TotalEstimatedSavings.Add(*d.EstimatedSavingsMonthly)
		}
	}
	return stats, nil
}

// WebhookLogs returns a view implementing decisions.WebhookLogStore
func (s *SQLiteStore) WebhookLogs() decisions.WebhookLogStore {
	return sqliteWebhookLogStore{s}
}

type sqliteWebhookLogStore struct{ store *SQLiteStore }

func (w sqliteWebhookLogStore) Create(ctx context.Context, log *models.WebhookLog) error {
	result, err := w.store.db.ExecContext(ctx, `
		INSERT INTO webhook_logs (
			decision_id, attempt_number, status, status_code,
			response_body, error_message, request_payload,
			triggered_at, completed_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.DecisionID, log.AttemptNumber, log.Status, log.StatusCode,
		log.ResponseBody, log.ErrorMessage, log.RequestPayload,
		log.TriggeredAt, log.CompletedAt, log.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to insert webhook log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read webhook log id: %w", err)
	}
	log.ID = id
	return nil
}

func (w sqliteWebhookLogStore) ListByDecision(ctx context.Context, decisionID int64) ([]*models.WebhookLog, error) {
	rows, err := w.store.db.QueryContext(ctx, `
		SELECT id, decision_id, attempt_number, status, status_code,
			response_body, error_message, request_payload,
			triggered_at, completed_at, duration_ms
		FROM webhook_logs WHERE decision_id = ? ORDER BY attempt_number`,
		decisionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook logs: %w", err)
	}
	defer rows.Close()

	var out []*models.WebhookLog
	for rows.Next() {
		var l models.WebhookLog
		var responseBody, errorMessage sql.NullString
		if err := rows.Scan(
			&l.ID, &l.DecisionID, &l.AttemptNumber, &l.Status, &l.StatusCode,
			&responseBody, &errorMessage, &l.RequestPayload,
			&l.TriggeredAt, &l.CompletedAt, &l.DurationMs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan webhook log: %w", err)
		}
		l.ResponseBody = responseBody.String
		l.ErrorMessage = errorMessage.String
		out = append(out, &l)
	}
	return out, rows.Err()
}

func (w sqliteWebhookLogStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := w.store.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM webhook_logs").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count webhook logs: %w", err)
	}
	return count, nil
}

// PruneWebhookLogs deletes logs triggered before the cutoff and returns
// the number removed
func (s *SQLiteStore) PruneWebhookLogs(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM webhook_logs WHERE triggered_at < ?", before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune webhook logs: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDecision(row rowScanner) (*models.Decision, error) {
	var d models.Decision
	var actionType, webhookStatus string
	var savings, implement, contextJSON sql.NullString
	var currency, ruleID, ruleExplanation, approvedBy, executionResult sql.NullString
	var webhookURL, webhookSecret, webhookError, dismissedBy, dismissReason sql.NullString

	err := row.Scan(
		&d.ID, &d.CostRecordID, &d.Recommendation, &actionType, &d.Confidence,
		&savings, &implement, &currency,
		&ruleID, &ruleExplanation, &d.IsAutomated,
		&d.ApprovedAt, &approvedBy, &d.ExecutedAt, &executionResult,
		&webhookURL, &webhookSecret, &webhookStatus, &d.WebhookAttempts,
		&d.WebhookLastAttempt, &webhookError, &contextJSON,
		&d.DismissedAt, &dismissedBy, &dismissReason, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.ActionType = models.DecisionAction(actionType)
	d.WebhookStatus = models.WebhookStatus(webhookStatus)
	d.Currency = currency.String
	d.RuleID = ruleID.String
	d.RuleExplanation = ruleExplanation.String
	d.ApprovedBy = approvedBy.String
	d.ExecutionResult = executionResult.String
	d.WebhookURL = webhookURL.String
	d.WebhookSecret = webhookSecret.String
	d.WebhookError = webhookError.String
	d.DismissedBy = dismissedBy.String
	d.DismissReason = dismissReason.String

	if savings.Valid {
		v, err := decimal.NewFromString(savings.String)
		if err != nil {
			return nil, fmt.Errorf("invalid savings value %q: %w", savings.String, err)
		}
		d.EstimatedSavingsMonthly = &v
	}
	if implement.Valid {
		v, err := decimal.NewFromString(implement.String)
		if err != nil {
			return nil, fmt.Errorf("invalid cost value %q: %w", implement.String, err)
		}
		d.EstimatedCostToImplement = &v
	}
	if contextJSON.Valid && contextJSON.String != "" {
		if err := json.Unmarshal([]byte(contextJSON.String), &d.Context); err != nil {
			return nil, fmt.Errorf("invalid decision context: %w", err)
		}
	}

	return &d, nil
}

func marshalContext(ctx map[string]interface{}) (interface{}, error) {
	if ctx == nil {
		return nil, nil
	}
	data, err := json.Marshal(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal decision context: %w", err)
	}
	return string(data), nil
}

func decimalPtr(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}
