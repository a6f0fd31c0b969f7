package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EduOpsSolutions/EduOps-sub002/internal/gateway"
	"github.com/EduOpsSolutions/EduOps-sub002/internal/models"
	"github.com/EduOpsSolutions/EduOps-sub002/pkg/config"
	appErrors "github.com/EduOpsSolutions/EduOps-sub002/pkg/errors"
)

func fastPoller() config.PollerConfig {
	return config.PollerConfig{Attempts: 5, Interval: time.Millisecond, Ceiling: time.Second}
}

func pendingIntent() *models.PaymentIntent {
	methodID := "pm_1"
	return &models.PaymentIntent{
		ID:              "pi_1",
		EnrollmentID:    "e1",
		ClientKey:       "pi_1_client",
		Amount:          250000,
		Currency:        "PHP",
		Status:          models.PaymentIntentStatusAwaitingNextAction,
		PaymentMethodID: &methodID,
	}
}

func TestReconcileSettlesAfterPendingPolls(t *testing.T) {
	gw := &fakeGateway{
		retrieveFn: func(call int) (*gateway.Intent, error) {
			if call < 4 {
				return &gateway.Intent{ID: "pi_1", Status: gateway.IntentStatusProcessing}, nil
			}
			return &gateway.Intent{ID: "pi_1", Status: gateway.IntentStatusSucceeded}, nil
		},
	}
	store := newFakeIntentStore(pendingIntent())
	workflow := &fakeOutcomeApplier{}
	svc := NewReconcileService(gw, store, workflow, nil, nil, nil, fastPoller())

	result, err := svc.Reconcile(context.Background(), "pi_1", "")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentOutcomeSucceeded, result.Outcome)
	assert.Equal(t, 4, gw.count("retrieve_intent"))

	stored, err := store.FindByID(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentIntentStatusSucceeded, stored.Status)

	applied := workflow.outcomes()
	require.Len(t, applied, 1)
	assert.Equal(t, "e1", applied[0].enrollmentID)
	assert.Equal(t, models.PaymentOutcomeSucceeded, applied[0].outcome)
}

func TestReconcileGatewayFailureMarksIntentFailed(t *testing.T) {
	gw := &fakeGateway{
		retrieveFn: func(int) (*gateway.Intent, error) {
			return &gateway.Intent{
				ID:        "pi_1",
				Status:    gateway.IntentStatusAwaitingMethod,
				LastError: `{"code":"generic_decline","detail":"card was declined"}`,
			}, nil
		},
	}
	store := newFakeIntentStore(pendingIntent())
	workflow := &fakeOutcomeApplier{}
	svc := NewReconcileService(gw, store, workflow, nil, nil, nil, fastPoller())

	result, err := svc.Reconcile(context.Background(), "pi_1", "")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentOutcomeFailed, result.Outcome)
	assert.Contains(t, result.Detail, "generic_decline")

	stored, err := store.FindByID(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentIntentStatusFailed, stored.Status)

	applied := workflow.outcomes()
	require.Len(t, applied, 1)
	assert.Equal(t, models.PaymentOutcomeFailed, applied[0].outcome)
}

func TestReconcileNotFoundResetsAttemptCountdown(t *testing.T) {
	gw := &fakeGateway{
		retrieveFn: func(call int) (*gateway.Intent, error) {
			if call == 1 {
				return nil, &gateway.APIError{StatusCode: http.StatusNotFound, Code: "resource_not_found", Detail: "No such payment_intent"}
			}
			return &gateway.Intent{ID: "pi_1", Status: gateway.IntentStatusProcessing}, nil
		},
	}
	store := newFakeIntentStore(pendingIntent())
	cfg := fastPoller()
	cfg.Attempts = 2
	svc := NewReconcileService(gw, store, &fakeOutcomeApplier{}, nil, nil, nil, cfg)

	result, err := svc.Reconcile(context.Background(), "pi_1", "")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentOutcomeStillPending, result.Outcome)
	// Two allotted attempts plus one extra: the not-found poll restarted the
	// countdown instead of consuming it.
	assert.Equal(t, 3, gw.count("retrieve_intent"))
}

func TestReconcileCeilingBoundsTheLoop(t *testing.T) {
	gw := &fakeGateway{}
	store := newFakeIntentStore(pendingIntent())
	cfg := config.PollerConfig{Attempts: 100, Interval: 50 * time.Millisecond, Ceiling: 75 * time.Millisecond}
	workflow := &fakeOutcomeApplier{}
	svc := NewReconcileService(gw, store, workflow, nil, nil, nil, cfg)

	result, err := svc.Reconcile(context.Background(), "pi_1", "")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentOutcomeStillPending, result.Outcome)
	assert.Less(t, gw.count("retrieve_intent"), 5)

	// Inconclusive polling never fabricates a verdict.
	assert.Empty(t, workflow.outcomes())
	stored, err := store.FindByID(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentIntentStatusAwaitingNextAction, stored.Status)
}

func TestReconcileExhaustsAttemptsAsStillPending(t *testing.T) {
	gw := &fakeGateway{}
	store := newFakeIntentStore(pendingIntent())
	svc := NewReconcileService(gw, store, &fakeOutcomeApplier{}, nil, nil, nil, fastPoller())

	result, err := svc.Reconcile(context.Background(), "pi_1", "")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentOutcomeStillPending, result.Outcome)
	assert.Equal(t, 5, gw.count("retrieve_intent"))
}

func TestReconcileCancelledWaitReportsStillPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gw := &fakeGateway{
		retrieveFn: func(int) (*gateway.Intent, error) {
			// The caller gives up while the payer is still mid-flow.
			cancel()
			return &gateway.Intent{ID: "pi_1", Status: gateway.IntentStatusProcessing}, nil
		},
	}
	store := newFakeIntentStore(pendingIntent())
	workflow := &fakeOutcomeApplier{}
	cfg := config.PollerConfig{Attempts: 5, Interval: 50 * time.Millisecond, Ceiling: time.Second}
	svc := NewReconcileService(gw, store, workflow, nil, nil, nil, cfg)

	result, err := svc.Reconcile(ctx, "pi_1", "")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentOutcomeStillPending, result.Outcome)
	assert.Equal(t, 1, gw.count("retrieve_intent"))

	// Giving up on the wait is not a verdict on the payment.
	assert.Empty(t, workflow.outcomes())
	stored, err := store.FindByID(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentIntentStatusAwaitingNextAction, stored.Status)
}

func TestReconcileShortCircuitsTerminalIntent(t *testing.T) {
	gw := &fakeGateway{}
	settled := pendingIntent()
	settled.Status = models.PaymentIntentStatusSucceeded
	store := newFakeIntentStore(settled)
	svc := NewReconcileService(gw, store, &fakeOutcomeApplier{}, nil, nil, nil, fastPoller())

	result, err := svc.Reconcile(context.Background(), "pi_1", "")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentOutcomeSucceeded, result.Outcome)
	assert.Zero(t, gw.count("retrieve_intent"))
}

func TestReconcileClientKeyMismatch(t *testing.T) {
	gw := &fakeGateway{}
	store := newFakeIntentStore(pendingIntent())
	svc := NewReconcileService(gw, store, &fakeOutcomeApplier{}, nil, nil, nil, fastPoller())

	_, err := svc.Reconcile(context.Background(), "pi_1", "someone_elses_key")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "FORBIDDEN", appErr.Code)
	assert.Zero(t, gw.count("retrieve_intent"))

	result, err := svc.Reconcile(context.Background(), "pi_1", "pi_1_client")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentOutcomeStillPending, result.Outcome)
}

func TestReconcileUnknownIntent(t *testing.T) {
	svc := NewReconcileService(&fakeGateway{}, newFakeIntentStore(), &fakeOutcomeApplier{}, nil, nil, nil, fastPoller())

	_, err := svc.Reconcile(context.Background(), "pi_missing", "")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "NOT_FOUND", appErr.Code)
}
