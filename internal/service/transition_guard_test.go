package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/EduOpsSolutions/EduOps-sub002/internal/models"
)

func TestCanTransitionTable(t *testing.T) {
	tests := []struct {
		name    string
		current models.EnrollmentStatus
		target  models.EnrollmentStatus
		ctx     GuardContext
		allowed bool
		reason  DenyReason
	}{
		{
			name:    "pending to verified without account",
			current: models.EnrollmentStatusPending,
			target:  models.EnrollmentStatusVerified,
			ctx:     GuardContext{AccountLinked: false},
			allowed: false,
			reason:  DenyAccountRequired,
		},
		{
			name:    "pending to verified with account",
			current: models.EnrollmentStatusPending,
			target:  models.EnrollmentStatusVerified,
			ctx:     GuardContext{AccountLinked: true},
			allowed: true,
		},
		{
			name:    "verified to completed skips gates",
			current: models.EnrollmentStatusVerified,
			target:  models.EnrollmentStatusCompleted,
			ctx:     GuardContext{AccountLinked: true},
			allowed: false,
			reason:  DenySkipNotAllowed,
		},
		{
			name:    "pending to approved denied on account before skip",
			current: models.EnrollmentStatusPending,
			target:  models.EnrollmentStatusApproved,
			ctx:     GuardContext{},
			allowed: false,
			reason:  DenyAccountRequired,
		},
		{
			name:    "verified to payment_pending",
			current: models.EnrollmentStatusVerified,
			target:  models.EnrollmentStatusPaymentPending,
			ctx:     GuardContext{AccountLinked: true},
			allowed: true,
		},
		{
			name:    "backward move denied",
			current: models.EnrollmentStatusPaymentPending,
			target:  models.EnrollmentStatusVerified,
			ctx:     GuardContext{AccountLinked: true},
			allowed: false,
			reason:  DenySkipNotAllowed,
		},
		{
			name:    "no-op move denied",
			current: models.EnrollmentStatusVerified,
			target:  models.EnrollmentStatusVerified,
			ctx:     GuardContext{AccountLinked: true},
			allowed: false,
			reason:  DenySkipNotAllowed,
		},
		{
			name:    "reject from pending",
			current: models.EnrollmentStatusPending,
			target:  models.EnrollmentStatusRejected,
			ctx:     GuardContext{},
			allowed: true,
		},
		{
			name:    "reject from approved",
			current: models.EnrollmentStatusApproved,
			target:  models.EnrollmentStatusRejected,
			ctx:     GuardContext{AccountLinked: true},
			allowed: true,
		},
		{
			name:    "reject from completed denied",
			current: models.EnrollmentStatusCompleted,
			target:  models.EnrollmentStatusRejected,
			ctx:     GuardContext{AccountLinked: true},
			allowed: false,
			reason:  DenySkipNotAllowed,
		},
		{
			name:    "reject while already rejected denied",
			current: models.EnrollmentStatusRejected,
			target:  models.EnrollmentStatusRejected,
			ctx:     GuardContext{},
			allowed: false,
			reason:  DenySkipNotAllowed,
		},
		{
			name:    "resume after rejection without proof returns to pending",
			current: models.EnrollmentStatusRejected,
			target:  models.EnrollmentStatusPending,
			ctx:     GuardContext{HadProofAtRejection: false},
			allowed: true,
		},
		{
			name:    "resume after rejection with proof returns to payment_pending",
			current: models.EnrollmentStatusRejected,
			target:  models.EnrollmentStatusPaymentPending,
			ctx:     GuardContext{AccountLinked: true, HadProofAtRejection: true},
			allowed: true,
		},
		{
			name:    "resume after rejection with proof cannot advance past snapshot",
			current: models.EnrollmentStatusRejected,
			target:  models.EnrollmentStatusApproved,
			ctx:     GuardContext{AccountLinked: true, HadProofAtRejection: true},
			allowed: false,
			reason:  DenySkipNotAllowed,
		},
		{
			name:    "resume after rejection without proof cannot skip to verified",
			current: models.EnrollmentStatusRejected,
			target:  models.EnrollmentStatusVerified,
			ctx:     GuardContext{AccountLinked: true, HadProofAtRejection: false},
			allowed: false,
			reason:  DenySkipNotAllowed,
		},
		{
			name:    "approved to completed with settled intent",
			current: models.EnrollmentStatusApproved,
			target:  models.EnrollmentStatusCompleted,
			ctx:     GuardContext{AccountLinked: true, HasActiveIntent: true, IntentSucceeded: true},
			allowed: true,
		},
		{
			name:    "approved to completed with unsettled intent",
			current: models.EnrollmentStatusApproved,
			target:  models.EnrollmentStatusCompleted,
			ctx:     GuardContext{AccountLinked: true, HasActiveIntent: true, IntentSucceeded: false},
			allowed: false,
			reason:  DenyPaymentNotSettled,
		},
		{
			name:    "approved to completed without any intent",
			current: models.EnrollmentStatusApproved,
			target:  models.EnrollmentStatusCompleted,
			ctx:     GuardContext{AccountLinked: true, HasActiveIntent: false},
			allowed: true,
		},
		{
			name:    "completed is terminal",
			current: models.EnrollmentStatusCompleted,
			target:  models.EnrollmentStatusCompleted,
			ctx:     GuardContext{AccountLinked: true},
			allowed: false,
			reason:  DenySkipNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allowed, reason := CanTransition(tt.current, tt.target, tt.ctx)
			assert.Equal(t, tt.allowed, allowed)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestCanTransitionIsDeterministic(t *testing.T) {
	ctx := GuardContext{AccountLinked: true}
	for i := 0; i < 3; i++ {
		allowed, reason := CanTransition(models.EnrollmentStatusPending, models.EnrollmentStatusVerified, ctx)
		assert.True(t, allowed)
		assert.Empty(t, reason)
	}
}
