package models

import "time"

// PaymentIntentStatus mirrors the gateway-side lifecycle of a payment attempt.
type PaymentIntentStatus string

// Possible payment intent statuses.
const (
	PaymentIntentStatusRequiresMethod     PaymentIntentStatus = "requires_method"
	PaymentIntentStatusAwaitingNextAction PaymentIntentStatus = "awaiting_next_action"
	PaymentIntentStatusSucceeded          PaymentIntentStatus = "succeeded"
	PaymentIntentStatusFailed             PaymentIntentStatus = "failed"
)

// Active reports whether the intent still occupies the single-active-intent
// slot for its enrollment. Failed intents are kept as audit records only.
func (s PaymentIntentStatus) Active() bool {
	return s != PaymentIntentStatusFailed
}

// PaymentIntent records one attempted payment for an enrollment. Rows are
// retained permanently, including after failure.
type PaymentIntent struct {
	ID              string              `db:"id" json:"id"`
	EnrollmentID    string              `db:"enrollment_id" json:"enrollment_id"`
	ClientKey       string              `db:"client_key" json:"-"`
	Amount          int64               `db:"amount" json:"amount"`
	Currency        string              `db:"currency" json:"currency"`
	Description     string              `db:"description" json:"description"`
	Status          PaymentIntentStatus `db:"status" json:"status"`
	LastError       *string             `db:"last_error" json:"last_error,omitempty"`
	PaymentMethodID *string             `db:"payment_method_id" json:"payment_method_id,omitempty"`
	CreatedAt       time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time           `db:"updated_at" json:"updated_at"`
}

// PaymentOutcome is the orchestrator's verdict handed to the workflow.
type PaymentOutcome string

// Possible payment outcomes.
const (
	PaymentOutcomeSucceeded    PaymentOutcome = "succeeded"
	PaymentOutcomeFailed       PaymentOutcome = "failed"
	PaymentOutcomeStillPending PaymentOutcome = "still_pending"
)

// IntentHandle is returned to the caller when a payment attempt needs an
// out-of-band confirmation step before it can settle.
type IntentHandle struct {
	IntentID    string `json:"intent_id"`
	ClientKey   string `json:"client_key"`
	Status      string `json:"status"`
	RedirectURL string `json:"redirect_url,omitempty"`
}
