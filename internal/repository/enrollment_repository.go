package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/EduOpsSolutions/EduOps-sub002/internal/models"
)

// ErrStatusConflict signals that the conditional status update matched no
// row: another writer moved the enrollment first.
var ErrStatusConflict = fmt.Errorf("enrollment status changed concurrently")

// EnrollmentRepository handles persistence of enrollments and their
// transition audit trail.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	base := "FROM enrollments WHERE deleted_at IS NULL"
	var args []interface{}

	if filter.Status != "" {
		base += fmt.Sprintf(" AND status = $%d", len(args)+1)
		args = append(args, filter.Status)
	}

	allowedSorts := map[string]string{
		"created_at": "created_at",
		"updated_at": "updated_at",
		"status":     "status",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT id, first_name, last_name, email, status, account_linked, has_payment_proof, had_proof_at_rejection, remarks, created_at, updated_at, deleted_at
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base, orderBy, order, size, offset)

	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := "SELECT COUNT(*) " + base
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT id, first_name, last_name, email, status, account_linked, has_payment_proof, had_proof_at_rejection, remarks, created_at, updated_at, deleted_at
        FROM enrollments WHERE id = $1 AND deleted_at IS NULL`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// Create persists a new enrollment record in the pending state.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}
	enrollment.UpdatedAt = now
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusPending
	}
	const query = `INSERT INTO enrollments (id, first_name, last_name, email, status, account_linked, has_payment_proof, had_proof_at_rejection, remarks, created_at, updated_at)
        VALUES (:id, :first_name, :last_name, :email, :status, :account_linked, :has_payment_proof, :had_proof_at_rejection, :remarks, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// TransitionCommit bundles everything persisted atomically when a
// guard-approved transition is applied.
type TransitionCommit struct {
	EnrollmentID string
	From         models.EnrollmentStatus
	To           models.EnrollmentStatus
	Actor        string
	Reason       *string
	Remarks      *string
	// SetHasProof updates has_payment_proof inside the same transaction, so a
	// storage failure never leaves the flag changed without the status.
	SetHasProof *bool
	// SnapshotProofFlag records has_payment_proof into had_proof_at_rejection,
	// taken only when transitioning into rejected.
	SnapshotProofFlag bool
}

// CommitTransition applies the status change and appends the transition
// record in one transaction. The UPDATE is conditional on the expected
// current status; zero affected rows aborts with ErrStatusConflict so the
// guard check and the write stay atomic per enrollment.
func (r *EnrollmentRepository) CommitTransition(ctx context.Context, commit TransitionCommit) (*models.Enrollment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()

	set := []string{"status = $1", "updated_at = $2"}
	args := []interface{}{commit.To, now}
	if commit.Remarks != nil {
		set = append(set, fmt.Sprintf("remarks = $%d", len(args)+1))
		args = append(args, *commit.Remarks)
	}
	if commit.SnapshotProofFlag {
		set = append(set, "had_proof_at_rejection = has_payment_proof")
	}
	if commit.SetHasProof != nil {
		set = append(set, fmt.Sprintf("has_payment_proof = $%d", len(args)+1))
		args = append(args, *commit.SetHasProof)
	}
	args = append(args, commit.EnrollmentID, commit.From)
	query := fmt.Sprintf(`UPDATE enrollments SET %s WHERE id = $%d AND status = $%d AND deleted_at IS NULL`,
		strings.Join(set, ", "), len(args)-1, len(args))

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update enrollment status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("transition rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrStatusConflict
	}

	record := models.TransitionRecord{
		ID:           uuid.NewString(),
		EnrollmentID: commit.EnrollmentID,
		FromStatus:   commit.From,
		ToStatus:     commit.To,
		Actor:        commit.Actor,
		Reason:       commit.Reason,
		CreatedAt:    now,
	}
	const insert = `INSERT INTO transition_records (id, enrollment_id, from_status, to_status, actor, reason, created_at)
        VALUES (:id, :enrollment_id, :from_status, :to_status, :actor, :reason, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insert, record); err != nil {
		return nil, fmt.Errorf("append transition record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}

	return r.FindByID(ctx, commit.EnrollmentID)
}

// SetAccountLinked flips the account flag once a user record exists.
func (r *EnrollmentRepository) SetAccountLinked(ctx context.Context, id string, linked bool) error {
	const query = `UPDATE enrollments SET account_linked = $2, updated_at = $3 WHERE id = $1 AND deleted_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, id, linked, time.Now().UTC()); err != nil {
		return fmt.Errorf("set account linked: %w", err)
	}
	return nil
}

// SetPaymentProof flips the proof flag once an artifact or settled intent is
// associated.
func (r *EnrollmentRepository) SetPaymentProof(ctx context.Context, id string, hasProof bool) error {
	const query = `UPDATE enrollments SET has_payment_proof = $2, updated_at = $3 WHERE id = $1 AND deleted_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, id, hasProof, time.Now().UTC()); err != nil {
		return fmt.Errorf("set payment proof: %w", err)
	}
	return nil
}

// SoftDelete archives an enrollment. Rows are never hard-deleted while
// payment records reference them.
func (r *EnrollmentRepository) SoftDelete(ctx context.Context, id string) error {
	const query = `UPDATE enrollments SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("archive enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("archive rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
