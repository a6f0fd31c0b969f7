package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/EduOpsSolutions/EduOps-sub002/internal/models"
)

func newPaymentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func paymentIntentColumns() []string {
	return []string{"id", "enrollment_id", "client_key", "amount", "currency", "description", "status", "last_error", "payment_method_id", "created_at", "updated_at"}
}

func TestPaymentIntentRepositoryCreateAndFind(t *testing.T) {
	db, mock, cleanup := newPaymentRepoMock(t)
	defer cleanup()

	repo := NewPaymentIntentRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payment_intents")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	intent := &models.PaymentIntent{
		ID:           "pi_1",
		EnrollmentID: "e1",
		ClientKey:    "pi_1_client",
		Amount:       250000,
		Currency:     "PHP",
		Status:       models.PaymentIntentStatusRequiresMethod,
	}
	require.NoError(t, repo.Create(context.Background(), intent))

	rows := sqlmock.NewRows(paymentIntentColumns()).
		AddRow("pi_1", "e1", "pi_1_client", 250000, "PHP", "", "requires_method", nil, nil, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, enrollment_id, client_key")).
		WithArgs("pi_1").
		WillReturnRows(rows)

	found, err := repo.FindByID(context.Background(), "pi_1")
	require.NoError(t, err)
	require.Equal(t, "pi_1", found.ID)
	require.Equal(t, int64(250000), found.Amount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentIntentRepositoryFindActiveExcludesFailed(t *testing.T) {
	db, mock, cleanup := newPaymentRepoMock(t)
	defer cleanup()

	repo := NewPaymentIntentRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, enrollment_id, client_key")).
		WithArgs("e1", string(models.PaymentIntentStatusFailed)).
		WillReturnRows(sqlmock.NewRows(paymentIntentColumns()))

	_, err := repo.FindActiveByEnrollment(context.Background(), "e1")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentIntentRepositoryUpdateStatusGuardsSucceeded(t *testing.T) {
	db, mock, cleanup := newPaymentRepoMock(t)
	defer cleanup()

	repo := NewPaymentIntentRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payment_intents SET status")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	methodID := "pm_1"
	require.NoError(t, repo.UpdateStatus(context.Background(), "pi_1", models.PaymentIntentStatusSucceeded, &methodID))

	// Settled rows are immutable: the guarded update matches nothing.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payment_intents SET status")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.UpdateStatus(context.Background(), "pi_1", models.PaymentIntentStatusFailed, nil)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentIntentRepositoryMarkFailed(t *testing.T) {
	db, mock, cleanup := newPaymentRepoMock(t)
	defer cleanup()

	repo := NewPaymentIntentRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payment_intents SET status")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkFailed(context.Background(), "pi_1", "card was declined"))
	require.NoError(t, mock.ExpectationsWereMet())
}
