package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment application.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusPending        EnrollmentStatus = "pending"
	EnrollmentStatusVerified       EnrollmentStatus = "verified"
	EnrollmentStatusPaymentPending EnrollmentStatus = "payment_pending"
	EnrollmentStatusApproved       EnrollmentStatus = "approved"
	EnrollmentStatusCompleted      EnrollmentStatus = "completed"
	EnrollmentStatusRejected       EnrollmentStatus = "rejected"
)

// CanonicalOrder is the fixed forward progression of enrollment statuses.
// Rejected sits outside the ordering and is handled separately.
var CanonicalOrder = []EnrollmentStatus{
	EnrollmentStatusPending,
	EnrollmentStatusVerified,
	EnrollmentStatusPaymentPending,
	EnrollmentStatusApproved,
	EnrollmentStatusCompleted,
}

// OrderIndex returns the position of a status in the canonical order,
// or -1 for rejected and unknown values.
func (s EnrollmentStatus) OrderIndex() int {
	for i, status := range CanonicalOrder {
		if status == s {
			return i
		}
	}
	return -1
}

// IsTerminal reports whether no further transitions are possible.
func (s EnrollmentStatus) IsTerminal() bool {
	return s == EnrollmentStatusCompleted
}

// Valid reports whether the value is a member of the closed enum.
func (s EnrollmentStatus) Valid() bool {
	return s == EnrollmentStatusRejected || s.OrderIndex() >= 0
}

// Enrollment is a prospective student's application moving through the
// verification and payment gates.
type Enrollment struct {
	ID              string           `db:"id" json:"id"`
	FirstName       string           `db:"first_name" json:"first_name"`
	LastName        string           `db:"last_name" json:"last_name"`
	Email           string           `db:"email" json:"email"`
	Status          EnrollmentStatus `db:"status" json:"status"`
	AccountLinked   bool             `db:"account_linked" json:"account_linked"`
	HasPaymentProof bool             `db:"has_payment_proof" json:"has_payment_proof"`
	// HadProofAtRejection snapshots the proof flag at the moment of the most
	// recent rejection; it decides where a resumed application re-enters.
	HadProofAtRejection bool       `db:"had_proof_at_rejection" json:"-"`
	Remarks             string     `db:"remarks" json:"remarks,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt           *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
