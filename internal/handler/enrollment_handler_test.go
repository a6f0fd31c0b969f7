package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EduOpsSolutions/EduOps-sub002/internal/accounts"
	"github.com/EduOpsSolutions/EduOps-sub002/internal/middleware"
	"github.com/EduOpsSolutions/EduOps-sub002/internal/models"
	"github.com/EduOpsSolutions/EduOps-sub002/internal/repository"
	"github.com/EduOpsSolutions/EduOps-sub002/internal/service"
	"github.com/EduOpsSolutions/EduOps-sub002/pkg/response"
)

type enrollmentRepoMock struct {
	enrollments map[string]*models.Enrollment
	records     []models.TransitionRecord
}

func (m *enrollmentRepoMock) List(context.Context, models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	var out []models.Enrollment
	for _, e := range m.enrollments {
		out = append(out, *e)
	}
	return out, len(out), nil
}

func (m *enrollmentRepoMock) FindByID(_ context.Context, id string) (*models.Enrollment, error) {
	e, ok := m.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *e
	return &copied, nil
}

func (m *enrollmentRepoMock) Create(_ context.Context, e *models.Enrollment) error {
	e.ID = "e-new"
	m.enrollments[e.ID] = e
	return nil
}

func (m *enrollmentRepoMock) CommitTransition(_ context.Context, commit repository.TransitionCommit) (*models.Enrollment, error) {
	e := m.enrollments[commit.EnrollmentID]
	if e == nil || e.Status != commit.From {
		return nil, repository.ErrStatusConflict
	}
	e.Status = commit.To
	m.records = append(m.records, models.TransitionRecord{
		EnrollmentID: commit.EnrollmentID,
		FromStatus:   commit.From,
		ToStatus:     commit.To,
		Actor:        commit.Actor,
	})
	copied := *e
	return &copied, nil
}

func (m *enrollmentRepoMock) SetAccountLinked(_ context.Context, id string, linked bool) error {
	m.enrollments[id].AccountLinked = linked
	return nil
}

func (m *enrollmentRepoMock) SetPaymentProof(_ context.Context, id string, hasProof bool) error {
	m.enrollments[id].HasPaymentProof = hasProof
	return nil
}

func (m *enrollmentRepoMock) SoftDelete(_ context.Context, id string) error {
	delete(m.enrollments, id)
	return nil
}

func (m *enrollmentRepoMock) ListByEnrollment(_ context.Context, enrollmentID string) ([]models.TransitionRecord, error) {
	return m.records, nil
}

type intentReaderMock struct{}

func (intentReaderMock) FindActiveByEnrollment(context.Context, string) (*models.PaymentIntent, error) {
	return nil, sql.ErrNoRows
}

type provisionerMock struct{}

func (provisionerMock) CreateAccount(context.Context, accounts.Profile) (string, error) {
	return "acct-1", nil
}

func newEnrollmentTestContext(t *testing.T, seed ...*models.Enrollment) (*EnrollmentHandler, *enrollmentRepoMock) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	repo := &enrollmentRepoMock{enrollments: map[string]*models.Enrollment{}}
	for _, e := range seed {
		repo.enrollments[e.ID] = e
	}
	svc := service.NewEnrollmentService(repo, intentReaderMock{}, repo, provisionerMock{}, nil, nil, nil, nil)
	return NewEnrollmentHandler(svc), repo
}

func postJSON(c *gin.Context, path string, payload interface{}) {
	body, _ := json.Marshal(payload)
	req, _ := http.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) response.Envelope {
	t.Helper()
	var env response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestEnrollmentHandlerTransitionDenied(t *testing.T) {
	h, _ := newEnrollmentTestContext(t, &models.Enrollment{ID: "e1", Status: models.EnrollmentStatusPending})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	postJSON(c, "/enrollments/e1/transition", service.TransitionRequest{Target: models.EnrollmentStatusApproved})
	c.Params = gin.Params{{Key: "id", Value: "e1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "reg-1", Role: models.RoleRegistrar})

	h.Transition(c)
	require.Equal(t, http.StatusPreconditionFailed, w.Code)
	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, "ACCOUNT_REQUIRED", env.Error.Code)
}

func TestEnrollmentHandlerTransitionRecordsActor(t *testing.T) {
	h, repo := newEnrollmentTestContext(t, &models.Enrollment{ID: "e1", Status: models.EnrollmentStatusPending})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	postJSON(c, "/enrollments/e1/transition", service.TransitionRequest{Target: models.EnrollmentStatusVerified})
	c.Params = gin.Params{{Key: "id", Value: "e1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "reg-1", Role: models.RoleRegistrar})

	h.Transition(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, repo.records, 1)
	assert.Equal(t, "reg-1", repo.records[0].Actor)
}

func TestEnrollmentHandlerCreateInvalidPayload(t *testing.T) {
	h, _ := newEnrollmentTestContext(t)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/enrollments", bytes.NewReader([]byte(`not json`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	h.Create(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnrollmentHandlerGetNotFound(t *testing.T) {
	h, _ := newEnrollmentTestContext(t)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/enrollments/missing", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "missing"}}

	h.Get(c)
	require.Equal(t, http.StatusNotFound, w.Code)
	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}
