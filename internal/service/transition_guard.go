package service

import (
	"github.com/EduOpsSolutions/EduOps-sub002/internal/models"
)

// DenyReason identifies why a requested transition was refused. Values are
// stable API codes callers branch on.
type DenyReason string

// Possible deny reasons.
const (
	DenyAccountRequired   DenyReason = "ACCOUNT_REQUIRED"
	DenySkipNotAllowed    DenyReason = "SKIP_NOT_ALLOWED"
	DenyPaymentNotSettled DenyReason = "PAYMENT_NOT_SETTLED"
)

// GuardContext carries the enrollment facts the guard decides on. It is
// assembled by the workflow from the loaded enrollment and its payment
// intent; the guard itself performs no I/O.
type GuardContext struct {
	AccountLinked       bool
	HasPaymentProof     bool
	HadProofAtRejection bool
	HasActiveIntent     bool
	IntentSucceeded     bool
}

// CanTransition decides whether an enrollment may move from current to
// target. It is a pure function: deterministic and side-effect free.
//
// A rejected enrollment resumes from an effective position computed from the
// proof snapshot taken at rejection time, so it re-enters at the gate it had
// already reached instead of restarting or skipping ahead.
func CanTransition(current, target models.EnrollmentStatus, ctx GuardContext) (bool, DenyReason) {
	if target == models.EnrollmentStatusRejected {
		if current.IsTerminal() || current == models.EnrollmentStatusRejected {
			return false, DenySkipNotAllowed
		}
		return true, ""
	}

	effective := current
	if current == models.EnrollmentStatusRejected {
		if ctx.HadProofAtRejection {
			effective = models.EnrollmentStatusPaymentPending
		} else {
			effective = models.EnrollmentStatusPending
		}
	}

	targetIdx := target.OrderIndex()
	effectiveIdx := effective.OrderIndex()
	if targetIdx < 0 || effectiveIdx < 0 {
		return false, DenySkipNotAllowed
	}

	if targetIdx >= models.EnrollmentStatusVerified.OrderIndex() && !ctx.AccountLinked {
		return false, DenyAccountRequired
	}

	// Forward-only, one gate at a time. A rejected enrollment resumes at its
	// effective position itself, then advances one gate per transition.
	if current == models.EnrollmentStatusRejected {
		if targetIdx != effectiveIdx {
			return false, DenySkipNotAllowed
		}
	} else if targetIdx != effectiveIdx+1 {
		return false, DenySkipNotAllowed
	}

	if target == models.EnrollmentStatusCompleted && ctx.HasActiveIntent && !ctx.IntentSucceeded {
		return false, DenyPaymentNotSettled
	}

	return true, ""
}
