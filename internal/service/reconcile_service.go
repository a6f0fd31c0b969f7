package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/EduOpsSolutions/EduOps-sub002/internal/gateway"
	"github.com/EduOpsSolutions/EduOps-sub002/internal/models"
	"github.com/EduOpsSolutions/EduOps-sub002/pkg/config"
	appErrors "github.com/EduOpsSolutions/EduOps-sub002/pkg/errors"
)

type intentRetriever interface {
	RetrieveIntent(ctx context.Context, intentID, clientKey string) (*gateway.Intent, error)
}

// ReconcileResult reports what the poll loop concluded about an intent.
type ReconcileResult struct {
	IntentID string                `json:"intent_id"`
	Outcome  models.PaymentOutcome `json:"outcome"`
	Detail   string                `json:"detail,omitempty"`
}

// ReconcileService polls the gateway to resolve intents whose attach result
// was lost, typically after a redirect flow or a dropped connection. The loop
// is bounded by both an attempt count and a wall-clock ceiling; exhausting
// either yields still_pending, never a fabricated failure.
type ReconcileService struct {
	gateway  intentRetriever
	intents  paymentIntentStore
	workflow outcomeApplier
	receipts *ReceiptService
	metrics  *MetricsService
	logger   *zap.Logger
	cfg      config.PollerConfig
}

// NewReconcileService constructs the poller.
func NewReconcileService(gw intentRetriever, intents paymentIntentStore, workflow outcomeApplier, receipts *ReceiptService, metrics *MetricsService, logger *zap.Logger, cfg config.PollerConfig) *ReconcileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 5
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = 30 * time.Second
	}
	return &ReconcileService{
		gateway:  gw,
		intents:  intents,
		workflow: workflow,
		receipts: receipts,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
	}
}

// Reconcile resolves the given intent against the gateway's view of it. A
// non-empty clientKey must match the stored correlation key; redirect returns
// carry it so a caller cannot reconcile someone else's intent by ID alone.
func (s *ReconcileService) Reconcile(ctx context.Context, intentID, clientKey string) (*ReconcileResult, error) {
	intent, err := s.intents.FindByID(ctx, intentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment intent not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment intent")
	}
	if clientKey != "" && clientKey != intent.ClientKey {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "client key does not match the payment intent")
	}

	// Already terminal locally, nothing left to ask the gateway.
	switch intent.Status {
	case models.PaymentIntentStatusSucceeded:
		return s.finish(intentID, models.PaymentOutcomeSucceeded, ""), nil
	case models.PaymentIntentStatusFailed:
		detail := ""
		if intent.LastError != nil {
			detail = *intent.LastError
		}
		return s.finish(intentID, models.PaymentOutcomeFailed, detail), nil
	}

	return s.poll(ctx, intent)
}

func (s *ReconcileService) poll(ctx context.Context, intent *models.PaymentIntent) (*ReconcileResult, error) {
	deadline := time.Now().Add(s.cfg.Ceiling)
	remaining := s.cfg.Attempts

	for remaining > 0 && time.Now().Before(deadline) {
		if s.metrics != nil {
			s.metrics.RecordPollAttempt()
		}

		remote, err := s.gateway.RetrieveIntent(ctx, intent.ID, intent.ClientKey)
		switch {
		case err == nil:
			if result, done := s.classify(ctx, intent, remote); done {
				return result, nil
			}
			remaining--
		default:
			var apiErr *gateway.APIError
			if errors.As(err, &apiErr) && apiErr.NotFound() {
				// The gateway may simply not have propagated the intent yet.
				// Restart the attempt countdown; the wall-clock ceiling still
				// bounds the whole loop.
				s.logger.Debug("intent not yet visible at gateway, resetting attempts",
					zap.String("intent_id", intent.ID),
				)
				remaining = s.cfg.Attempts
			} else {
				s.logger.Warn("reconciliation poll failed",
					zap.String("intent_id", intent.ID),
					zap.Error(err),
				)
				remaining--
			}
		}

		if remaining == 0 || !time.Now().Add(s.cfg.Interval).Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			// The caller stopped waiting; that says nothing about the payment,
			// so report an inconclusive poll rather than an error.
			s.logger.Info("reconciliation cancelled by caller",
				zap.String("intent_id", intent.ID),
			)
			return s.finish(intent.ID, models.PaymentOutcomeStillPending, ""), nil
		case <-time.After(s.cfg.Interval):
		}
	}

	s.logger.Info("reconciliation inconclusive",
		zap.String("intent_id", intent.ID),
		zap.String("enrollment_id", intent.EnrollmentID),
	)
	return s.finish(intent.ID, models.PaymentOutcomeStillPending, ""), nil
}

// classify maps the gateway's view onto a terminal outcome, or reports that
// the intent is still in flight.
func (s *ReconcileService) classify(ctx context.Context, intent *models.PaymentIntent, remote *gateway.Intent) (*ReconcileResult, bool) {
	switch {
	case remote.Status == gateway.IntentStatusSucceeded:
		if err := s.intents.UpdateStatus(ctx, intent.ID, models.PaymentIntentStatusSucceeded, intent.PaymentMethodID); err != nil {
			s.logger.Error("failed to persist settled intent", zap.String("intent_id", intent.ID), zap.Error(err))
		}
		if err := s.workflow.ApplyPaymentOutcome(ctx, intent.EnrollmentID, models.PaymentOutcomeSucceeded, ""); err != nil {
			s.logger.Error("settled payment could not advance enrollment",
				zap.String("enrollment_id", intent.EnrollmentID),
				zap.Error(err),
			)
		}
		if s.receipts != nil {
			if _, err := s.receipts.Generate(ctx, *intent); err != nil {
				s.logger.Warn("receipt generation failed", zap.String("intent_id", intent.ID), zap.Error(err))
			}
		}
		return s.finish(intent.ID, models.PaymentOutcomeSucceeded, ""), true

	case remote.LastError != "":
		if err := s.intents.MarkFailed(ctx, intent.ID, remote.LastError); err != nil {
			s.logger.Error("failed to record intent failure", zap.String("intent_id", intent.ID), zap.Error(err))
		}
		if err := s.workflow.ApplyPaymentOutcome(ctx, intent.EnrollmentID, models.PaymentOutcomeFailed, remote.LastError); err != nil {
			s.logger.Error("failed to report payment failure", zap.String("enrollment_id", intent.EnrollmentID), zap.Error(err))
		}
		return s.finish(intent.ID, models.PaymentOutcomeFailed, remote.LastError), true

	default:
		// awaiting_payment_method, awaiting_next_action, processing: the
		// payer has not finished yet. Keep polling.
		return nil, false
	}
}

func (s *ReconcileService) finish(intentID string, outcome models.PaymentOutcome, detail string) *ReconcileResult {
	if s.metrics != nil {
		s.metrics.RecordPollOutcome(string(outcome))
	}
	return &ReconcileResult{IntentID: intentID, Outcome: outcome, Detail: detail}
}
