package models

import "time"

// ActorSystem is the reserved actor recorded for transitions applied by the
// payment orchestrator and poller rather than a human operator.
const ActorSystem = "system"

// TransitionRecord is an append-only audit entry for one committed status
// change. Records are never mutated after insertion.
type TransitionRecord struct {
	ID           string           `db:"id" json:"id"`
	EnrollmentID string           `db:"enrollment_id" json:"enrollment_id"`
	FromStatus   EnrollmentStatus `db:"from_status" json:"from_status"`
	ToStatus     EnrollmentStatus `db:"to_status" json:"to_status"`
	Actor        string           `db:"actor" json:"actor"`
	Reason       *string          `db:"reason" json:"reason,omitempty"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
}
