package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/EduOpsSolutions/EduOps-sub002/internal/models"
)

// PaymentIntentRepository handles persistence of payment intents. Intent IDs
// are gateway-assigned; rows are audit records retained permanently.
type PaymentIntentRepository struct {
	db *sqlx.DB
}

// NewPaymentIntentRepository constructs the repository.
func NewPaymentIntentRepository(db *sqlx.DB) *PaymentIntentRepository {
	return &PaymentIntentRepository{db: db}
}

// Create persists a new payment intent.
func (r *PaymentIntentRepository) Create(ctx context.Context, intent *models.PaymentIntent) error {
	now := time.Now().UTC()
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = now
	}
	intent.UpdatedAt = now
	const query = `INSERT INTO payment_intents (id, enrollment_id, client_key, amount, currency, description, status, last_error, payment_method_id, created_at, updated_at)
        VALUES (:id, :enrollment_id, :client_key, :amount, :currency, :description, :status, :last_error, :payment_method_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, intent); err != nil {
		return fmt.Errorf("create payment intent: %w", err)
	}
	return nil
}

// FindByID returns a payment intent by its gateway-assigned ID.
func (r *PaymentIntentRepository) FindByID(ctx context.Context, id string) (*models.PaymentIntent, error) {
	const query = `SELECT id, enrollment_id, client_key, amount, currency, description, status, last_error, payment_method_id, created_at, updated_at
        FROM payment_intents WHERE id = $1`
	var intent models.PaymentIntent
	if err := r.db.GetContext(ctx, &intent, query, id); err != nil {
		return nil, err
	}
	return &intent, nil
}

// FindByClientKey returns the intent referenced by a client correlation key.
// Used by the reconciliation poller.
func (r *PaymentIntentRepository) FindByClientKey(ctx context.Context, clientKey string) (*models.PaymentIntent, error) {
	const query = `SELECT id, enrollment_id, client_key, amount, currency, description, status, last_error, payment_method_id, created_at, updated_at
        FROM payment_intents WHERE client_key = $1`
	var intent models.PaymentIntent
	if err := r.db.GetContext(ctx, &intent, query, clientKey); err != nil {
		return nil, err
	}
	return &intent, nil
}

// FindActiveByEnrollment returns the non-failed intent for an enrollment, or
// sql.ErrNoRows. At most one can exist at a time.
func (r *PaymentIntentRepository) FindActiveByEnrollment(ctx context.Context, enrollmentID string) (*models.PaymentIntent, error) {
	const query = `SELECT id, enrollment_id, client_key, amount, currency, description, status, last_error, payment_method_id, created_at, updated_at
        FROM payment_intents WHERE enrollment_id = $1 AND status <> $2 ORDER BY created_at DESC LIMIT 1`
	var intent models.PaymentIntent
	if err := r.db.GetContext(ctx, &intent, query, enrollmentID, models.PaymentIntentStatusFailed); err != nil {
		return nil, err
	}
	return &intent, nil
}

// ListByEnrollment returns every intent recorded for an enrollment, newest
// first, including failed attempts.
func (r *PaymentIntentRepository) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.PaymentIntent, error) {
	const query = `SELECT id, enrollment_id, client_key, amount, currency, description, status, last_error, payment_method_id, created_at, updated_at
        FROM payment_intents WHERE enrollment_id = $1 ORDER BY created_at DESC`
	var intents []models.PaymentIntent
	if err := r.db.SelectContext(ctx, &intents, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list payment intents: %w", err)
	}
	return intents, nil
}

// UpdateStatus moves an intent forward. Succeeded is terminal: the guard in
// the WHERE clause refuses to overwrite it.
func (r *PaymentIntentRepository) UpdateStatus(ctx context.Context, id string, status models.PaymentIntentStatus, methodID *string) error {
	const query = `UPDATE payment_intents SET status = $2, payment_method_id = COALESCE($3, payment_method_id), updated_at = $4
        WHERE id = $1 AND status <> $5`
	res, err := r.db.ExecContext(ctx, query, id, status, methodID, time.Now().UTC(), models.PaymentIntentStatusSucceeded)
	if err != nil {
		return fmt.Errorf("update payment intent status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("payment intent rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkFailed records a terminal failure with the gateway-reported detail.
func (r *PaymentIntentRepository) MarkFailed(ctx context.Context, id, lastError string) error {
	const query = `UPDATE payment_intents SET status = $2, last_error = $3, updated_at = $4
        WHERE id = $1 AND status <> $5`
	if _, err := r.db.ExecContext(ctx, query, id, models.PaymentIntentStatusFailed, lastError, time.Now().UTC(), models.PaymentIntentStatusSucceeded); err != nil {
		return fmt.Errorf("mark payment intent failed: %w", err)
	}
	return nil
}
