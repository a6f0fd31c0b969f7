package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/EduOpsSolutions/EduOps-sub002/internal/gateway"
	"github.com/EduOpsSolutions/EduOps-sub002/internal/models"
	appErrors "github.com/EduOpsSolutions/EduOps-sub002/pkg/errors"
)

type paymentGateway interface {
	CreateIntent(ctx context.Context, amount int64, currency, description string) (*gateway.Intent, error)
	CreatePaymentMethod(ctx context.Context, methodType string, billing gateway.BillingInfo, card *gateway.CardDetails) (*gateway.Method, error)
	AttachMethod(ctx context.Context, intentID, methodID, returnURL string) (*gateway.Intent, error)
}

type paymentIntentStore interface {
	Create(ctx context.Context, intent *models.PaymentIntent) error
	FindByID(ctx context.Context, id string) (*models.PaymentIntent, error)
	FindActiveByEnrollment(ctx context.Context, enrollmentID string) (*models.PaymentIntent, error)
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.PaymentIntent, error)
	UpdateStatus(ctx context.Context, id string, status models.PaymentIntentStatus, methodID *string) error
	MarkFailed(ctx context.Context, id, lastError string) error
}

type outcomeApplier interface {
	ApplyPaymentOutcome(ctx context.Context, enrollmentID string, outcome models.PaymentOutcome, detail string) error
}

type enrollmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
}

// StartPaymentRequest describes one payment attempt for an enrollment.
type StartPaymentRequest struct {
	Amount      int64                `json:"amount" validate:"required,gt=0"`
	Currency    string               `json:"currency"`
	Description string               `json:"description"`
	MethodType  string               `json:"method_type" validate:"required,oneof=card gcash grab_pay"`
	Billing     gateway.BillingInfo  `json:"billing"`
	Card        *gateway.CardDetails `json:"card,omitempty"`
}

// PaymentService owns the lifecycle of one payment attempt: intent creation,
// method attachment, and the branch between synchronous and redirect-based
// confirmation. It never retries gateway calls itself; each failure kind is
// surfaced distinctly so callers can choose the right recovery.
type PaymentService struct {
	gateway     paymentGateway
	intents     paymentIntentStore
	enrollments enrollmentReader
	workflow    outcomeApplier
	receipts    *ReceiptService
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	returnURL   string
	// slots serializes Start per enrollment so two rapid calls cannot both
	// pass the active-intent check. Distinct from the workflow's state lock,
	// which is never held across gateway I/O.
	slots *keyedMutex
}

// NewPaymentService constructs the orchestrator.
func NewPaymentService(gw paymentGateway, intents paymentIntentStore, enrollments enrollmentReader, workflow outcomeApplier, receipts *ReceiptService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, returnURL string) *PaymentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentService{
		gateway:     gw,
		intents:     intents,
		enrollments: enrollments,
		workflow:    workflow,
		receipts:    receipts,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		returnURL:   returnURL,
		slots:       newKeyedMutex(),
	}
}

// Start drives a complete payment attempt for the enrollment. It returns a
// handle describing either the settled intent or the redirect the payer must
// complete before reconciliation.
func (s *PaymentService) Start(ctx context.Context, enrollmentID string, req StartPaymentRequest) (*models.IntentHandle, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	if req.Currency == "" {
		req.Currency = "PHP"
	}
	if req.Description == "" {
		req.Description = fmt.Sprintf("Enrollment fees for %s", enrollmentID)
	}

	if _, err := s.enrollments.FindByID(ctx, enrollmentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	unlock := s.slots.Lock(enrollmentID)
	defer unlock()

	// Idempotency boundary: at most one non-failed intent per enrollment.
	if existing, err := s.intents.FindActiveByEnrollment(ctx, enrollmentID); err == nil && existing != nil {
		return nil, appErrors.Clone(appErrors.ErrIntentActive, "an active payment intent already exists for this enrollment")
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check active intents")
	}

	// Nothing is committed locally yet, so any create failure is safe for
	// the caller to retry wholesale.
	created, err := s.observeGateway("create_intent", func() (*gateway.Intent, error) {
		return s.gateway.CreateIntent(ctx, req.Amount, req.Currency, req.Description)
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrGatewayUnreachable.Code, appErrors.ErrGatewayUnreachable.Status, "payment gateway unreachable")
	}

	method, err := s.createMethod(ctx, req)
	if err != nil {
		return nil, err
	}

	// Persist before attach: if the attach response is lost, the intent row
	// plus client key still allows reconciliation, and money movement is
	// never assumed to have failed.
	intent := &models.PaymentIntent{
		ID:              created.ID,
		EnrollmentID:    enrollmentID,
		ClientKey:       created.ClientKey,
		Amount:          req.Amount,
		Currency:        req.Currency,
		Description:     req.Description,
		Status:          models.PaymentIntentStatusRequiresMethod,
		PaymentMethodID: &method.ID,
	}
	if err := s.intents.Create(ctx, intent); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist payment intent")
	}

	attached, err := s.observeGateway("attach_method", func() (*gateway.Intent, error) {
		return s.gateway.AttachMethod(ctx, created.ID, method.ID, s.returnURL)
	})
	if err != nil {
		var apiErr *gateway.APIError
		if errors.As(err, &apiErr) {
			detail := apiErr.Detail
			if markErr := s.intents.MarkFailed(ctx, created.ID, detail); markErr != nil {
				s.logger.Error("failed to record attach failure", zap.String("intent_id", created.ID), zap.Error(markErr))
			}
			return nil, appErrors.Wrap(err, appErrors.ErrPaymentUnexpected.Code, appErrors.ErrPaymentUnexpected.Status, detail)
		}
		// Transport failure after attach was issued: the gateway may have
		// settled the payment. Leave the intent open and hand back the
		// correlation handle for reconciliation.
		s.logger.Warn("attach result unknown, reconciliation required",
			zap.String("enrollment_id", enrollmentID),
			zap.String("intent_id", created.ID),
			zap.Error(err),
		)
		return &models.IntentHandle{
			IntentID:  created.ID,
			ClientKey: created.ClientKey,
			Status:    string(models.PaymentOutcomeStillPending),
		}, nil
	}

	return s.settleAttach(ctx, enrollmentID, intent, method.ID, attached)
}

// ListIntents returns every payment attempt recorded for an enrollment.
func (s *PaymentService) ListIntents(ctx context.Context, enrollmentID string) ([]models.PaymentIntent, error) {
	intents, err := s.intents.ListByEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payment intents")
	}
	return intents, nil
}

func (s *PaymentService) createMethod(ctx context.Context, req StartPaymentRequest) (*gateway.Method, error) {
	method, err := s.observeGatewayMethod("create_method", func() (*gateway.Method, error) {
		return s.gateway.CreatePaymentMethod(ctx, req.MethodType, req.Billing, req.Card)
	})
	if err == nil {
		return method, nil
	}

	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) {
		// Gateway-side validation: the payer must supply different details.
		return nil, appErrors.Wrap(err, appErrors.ErrMethodRejected.Code, appErrors.ErrMethodRejected.Status, apiErr.Detail)
	}
	return nil, appErrors.Wrap(err, appErrors.ErrGatewayUnreachable.Code, appErrors.ErrGatewayUnreachable.Status, "payment gateway unreachable")
}

func (s *PaymentService) settleAttach(ctx context.Context, enrollmentID string, intent *models.PaymentIntent, methodID string, attached *gateway.Intent) (*models.IntentHandle, error) {
	switch attached.Status {
	case gateway.IntentStatusSucceeded:
		if err := s.intents.UpdateStatus(ctx, intent.ID, models.PaymentIntentStatusSucceeded, &methodID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist settled intent")
		}
		if err := s.workflow.ApplyPaymentOutcome(ctx, enrollmentID, models.PaymentOutcomeSucceeded, ""); err != nil {
			s.logger.Error("settled payment could not advance enrollment",
				zap.String("enrollment_id", enrollmentID),
				zap.String("intent_id", intent.ID),
				zap.Error(err),
			)
		}
		s.generateReceipt(ctx, intent)
		return &models.IntentHandle{
			IntentID:  intent.ID,
			ClientKey: intent.ClientKey,
			Status:    string(models.PaymentIntentStatusSucceeded),
		}, nil

	case gateway.IntentStatusAwaitingNextAction:
		if err := s.intents.UpdateStatus(ctx, intent.ID, models.PaymentIntentStatusAwaitingNextAction, &methodID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist pending intent")
		}
		return &models.IntentHandle{
			IntentID:    intent.ID,
			ClientKey:   intent.ClientKey,
			Status:      string(models.PaymentIntentStatusAwaitingNextAction),
			RedirectURL: attached.RedirectURL,
		}, nil

	default:
		detail := attached.LastError
		if detail == "" {
			detail = fmt.Sprintf("unexpected gateway status %q", attached.Status)
		}
		if err := s.intents.MarkFailed(ctx, intent.ID, detail); err != nil {
			s.logger.Error("failed to record intent failure", zap.String("intent_id", intent.ID), zap.Error(err))
		}
		if err := s.workflow.ApplyPaymentOutcome(ctx, enrollmentID, models.PaymentOutcomeFailed, detail); err != nil {
			s.logger.Error("failed to report payment failure", zap.String("enrollment_id", enrollmentID), zap.Error(err))
		}
		return nil, appErrors.Wrap(fmt.Errorf("gateway status %s", attached.Status), appErrors.ErrPaymentUnexpected.Code, appErrors.ErrPaymentUnexpected.Status, detail)
	}
}

func (s *PaymentService) generateReceipt(ctx context.Context, intent *models.PaymentIntent) {
	if s.receipts == nil {
		return
	}
	if _, err := s.receipts.Generate(ctx, *intent); err != nil {
		s.logger.Warn("receipt generation failed",
			zap.String("intent_id", intent.ID),
			zap.Error(err),
		)
	}
}

func (s *PaymentService) observeGateway(operation string, call func() (*gateway.Intent, error)) (*gateway.Intent, error) {
	start := time.Now()
	intent, err := call()
	s.recordGateway(operation, start, err)
	return intent, err
}

func (s *PaymentService) observeGatewayMethod(operation string, call func() (*gateway.Method, error)) (*gateway.Method, error) {
	start := time.Now()
	method, err := call()
	s.recordGateway(operation, start, err)
	return method, err
}

func (s *PaymentService) recordGateway(operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.ObserveGatewayCall(operation, outcome, time.Since(start))
}
