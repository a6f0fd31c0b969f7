package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/EduOpsSolutions/EduOps-sub002/internal/accounts"
	"github.com/EduOpsSolutions/EduOps-sub002/internal/models"
	"github.com/EduOpsSolutions/EduOps-sub002/internal/repository"
	appErrors "github.com/EduOpsSolutions/EduOps-sub002/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	CommitTransition(ctx context.Context, commit repository.TransitionCommit) (*models.Enrollment, error)
	SetAccountLinked(ctx context.Context, id string, linked bool) error
	SetPaymentProof(ctx context.Context, id string, hasProof bool) error
	SoftDelete(ctx context.Context, id string) error
}

type activeIntentReader interface {
	FindActiveByEnrollment(ctx context.Context, enrollmentID string) (*models.PaymentIntent, error)
}

type transitionReader interface {
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.TransitionRecord, error)
}

type accountProvisioner interface {
	CreateAccount(ctx context.Context, profile accounts.Profile) (string, error)
}

// CreateEnrollmentRequest describes a new enrollment application.
type CreateEnrollmentRequest struct {
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
}

// TransitionRequest asks the workflow to move an enrollment forward.
type TransitionRequest struct {
	Target  models.EnrollmentStatus `json:"target" validate:"required"`
	Remarks string                  `json:"remarks"`
}

// EnrollmentService is the workflow governing an enrollment's lifecycle. It
// is the only component that mutates enrollment status, and it serializes
// guard-check-then-write per enrollment ID.
type EnrollmentService struct {
	repo        enrollmentRepository
	intents     activeIntentReader
	transitions transitionReader
	accounts    accountProvisioner
	cache       *CacheService
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	locks       *keyedMutex
}

// NewEnrollmentService constructs the workflow service.
func NewEnrollmentService(repo enrollmentRepository, intents activeIntentReader, transitions transitionReader, provisioner accountProvisioner, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		repo:        repo,
		intents:     intents,
		transitions: transitions,
		accounts:    provisioner,
		cache:       cache,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		locks:       newKeyedMutex(),
	}
}

// Create registers a new enrollment application in the pending state.
func (s *EnrollmentService) Create(ctx context.Context, req CreateEnrollmentRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	enrollment := &models.Enrollment{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Status:    models.EnrollmentStatusPending,
	}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	return enrollment, nil
}

// Get loads one enrollment, preferring the cache when enabled.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.Enrollment, error) {
	var cached models.Enrollment
	if hit, _ := s.cache.Get(ctx, enrollmentCacheKey(id), &cached); hit {
		return &cached, nil
	}

	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	_ = s.cache.Set(ctx, enrollmentCacheKey(id), enrollment, 0)
	return enrollment, nil
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return enrollments, pagination, nil
}

// History returns the append-only transition trail in commit order.
func (s *EnrollmentService) History(ctx context.Context, id string) ([]models.TransitionRecord, error) {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	records, err := s.transitions.ListByEnrollment(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load transition history")
	}
	return records, nil
}

// RequestTransition moves an enrollment to the target status when the guard
// allows it. Guard denials are terminal for the request and come back as
// typed errors carrying the specific deny reason.
func (s *EnrollmentService) RequestTransition(ctx context.Context, enrollmentID string, target models.EnrollmentStatus, actor, remarks string) (*models.Enrollment, error) {
	if !target.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown target status")
	}
	if target == models.EnrollmentStatusRejected && remarks == "" {
		// Missing remarks is a caller error, not a state-machine denial.
		return nil, appErrors.ErrRemarksRequired
	}
	return s.transition(ctx, enrollmentID, target, actor, remarks, false)
}

// ApplyPaymentOutcome consumes the orchestrator's or poller's verdict. A
// succeeded payment marks the proof flag and advances to approved in one
// atomic commit; a failed payment never changes enrollment status.
func (s *EnrollmentService) ApplyPaymentOutcome(ctx context.Context, enrollmentID string, outcome models.PaymentOutcome, detail string) error {
	switch outcome {
	case models.PaymentOutcomeSucceeded:
		if _, err := s.transition(ctx, enrollmentID, models.EnrollmentStatusApproved, models.ActorSystem, "", true); err != nil {
			return err
		}
		return nil
	case models.PaymentOutcomeFailed:
		// Failure is recorded on the intent by its owner; the enrollment is
		// left for manual retry.
		s.logger.Warn("payment failed, enrollment unchanged",
			zap.String("enrollment_id", enrollmentID),
			zap.String("detail", detail),
		)
		if s.metrics != nil {
			s.metrics.RecordPaymentOutcome(string(outcome))
		}
		return nil
	default:
		return appErrors.Clone(appErrors.ErrValidation, "unknown payment outcome")
	}
}

// CreateAccountAndAdvance provisions a user account through the external
// account service, links it, and attempts the verified transition. The
// network call happens before any lock is taken.
func (s *EnrollmentService) CreateAccountAndAdvance(ctx context.Context, enrollmentID string, profile accounts.Profile) (*models.Enrollment, error) {
	enrollment, err := s.Get(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if enrollment.AccountLinked {
		return nil, appErrors.Clone(appErrors.ErrConflict, "account already linked")
	}

	profile.EnrollmentID = enrollmentID
	if profile.FirstName == "" {
		profile.FirstName = enrollment.FirstName
	}
	if profile.LastName == "" {
		profile.LastName = enrollment.LastName
	}
	if profile.Email == "" {
		profile.Email = enrollment.Email
	}
	accountID, err := s.accounts.CreateAccount(ctx, profile)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "account provisioning failed")
	}
	s.logger.Info("account provisioned",
		zap.String("enrollment_id", enrollmentID),
		zap.String("account_id", accountID),
	)

	// The account exists now regardless of what the guard says next, so the
	// flag update stands on its own.
	if err := s.repo.SetAccountLinked(ctx, enrollmentID, true); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to link account")
	}
	_ = s.cache.Invalidate(ctx, enrollmentCacheKey(enrollmentID))

	return s.transition(ctx, enrollmentID, models.EnrollmentStatusVerified, models.ActorSystem, "", false)
}

// Archive soft-deletes an enrollment; payment records keep referencing it.
func (s *EnrollmentService) Archive(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	if err := s.repo.SoftDelete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to archive enrollment")
	}
	_ = s.cache.Invalidate(ctx, enrollmentCacheKey(id))
	return nil
}

// transition holds the per-enrollment lock across guard check and commit.
// No network I/O happens inside.
func (s *EnrollmentService) transition(ctx context.Context, enrollmentID string, target models.EnrollmentStatus, actor, remarks string, markProof bool) (*models.Enrollment, error) {
	unlock := s.locks.Lock(enrollmentID)
	defer unlock()

	enrollment, err := s.repo.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	guardCtx := GuardContext{
		AccountLinked:       enrollment.AccountLinked,
		HasPaymentProof:     enrollment.HasPaymentProof,
		HadProofAtRejection: enrollment.HadProofAtRejection,
	}
	intent, err := s.intents.FindActiveByEnrollment(ctx, enrollmentID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment intent")
	}
	if intent != nil {
		guardCtx.HasActiveIntent = true
		guardCtx.IntentSucceeded = intent.Status == models.PaymentIntentStatusSucceeded
	}

	allowed, reason := CanTransition(enrollment.Status, target, guardCtx)
	if !allowed {
		s.logger.Info("transition denied",
			zap.String("enrollment_id", enrollmentID),
			zap.String("from", string(enrollment.Status)),
			zap.String("target", string(target)),
			zap.String("reason", string(reason)),
		)
		return nil, denyError(reason)
	}

	commit := repository.TransitionCommit{
		EnrollmentID:      enrollmentID,
		From:              enrollment.Status,
		To:                target,
		Actor:             actor,
		SnapshotProofFlag: target == models.EnrollmentStatusRejected,
	}
	if remarks != "" {
		commit.Remarks = &remarks
		commit.Reason = &remarks
	}
	if markProof {
		// A settled intent counts as proof of payment; the flag lands in the
		// same atomic commit as the status change.
		settled := true
		commit.SetHasProof = &settled
	}

	updated, err := s.repo.CommitTransition(ctx, commit)
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "enrollment was modified concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit transition")
	}

	if s.metrics != nil {
		s.metrics.RecordTransition(string(enrollment.Status), string(target))
	}
	_ = s.cache.Invalidate(ctx, enrollmentCacheKey(enrollmentID))

	s.logger.Info("transition committed",
		zap.String("enrollment_id", enrollmentID),
		zap.String("from", string(enrollment.Status)),
		zap.String("to", string(target)),
		zap.String("actor", actor),
	)
	return updated, nil
}

func denyError(reason DenyReason) error {
	switch reason {
	case DenyAccountRequired:
		return appErrors.ErrAccountRequired
	case DenyPaymentNotSettled:
		return appErrors.ErrPaymentNotSettled
	default:
		return appErrors.ErrSkipNotAllowed
	}
}

func enrollmentCacheKey(id string) string {
	return "enrollment:" + id
}
