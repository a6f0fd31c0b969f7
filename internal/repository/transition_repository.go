package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/EduOpsSolutions/EduOps-sub002/internal/models"
)

// TransitionRepository reads the append-only transition audit trail. Inserts
// happen only inside EnrollmentRepository.CommitTransition so that a status
// change and its record are never persisted separately.
type TransitionRepository struct {
	db *sqlx.DB
}

// NewTransitionRepository constructs the repository.
func NewTransitionRepository(db *sqlx.DB) *TransitionRepository {
	return &TransitionRepository{db: db}
}

// ListByEnrollment returns transition records in commit order.
func (r *TransitionRepository) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.TransitionRecord, error) {
	const query = `SELECT id, enrollment_id, from_status, to_status, actor, reason, created_at
        FROM transition_records WHERE enrollment_id = $1 ORDER BY created_at ASC`
	var records []models.TransitionRecord
	if err := r.db.SelectContext(ctx, &records, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list transition records: %w", err)
	}
	return records, nil
}
