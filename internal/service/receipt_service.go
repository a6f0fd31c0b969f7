package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/EduOpsSolutions/EduOps-sub002/internal/models"
	"github.com/EduOpsSolutions/EduOps-sub002/pkg/export"
	"github.com/EduOpsSolutions/EduOps-sub002/pkg/storage"
)

// ReceiptService renders and stores PDF receipts for settled payments.
type ReceiptService struct {
	renderer   *export.ReceiptRenderer
	store      *storage.LocalStorage
	schoolName string
	logger     *zap.Logger
	now        func() time.Time
}

// NewReceiptService constructs the receipt service.
func NewReceiptService(renderer *export.ReceiptRenderer, store *storage.LocalStorage, schoolName string, logger *zap.Logger) *ReceiptService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReceiptService{
		renderer:   renderer,
		store:      store,
		schoolName: schoolName,
		logger:     logger,
		now:        time.Now,
	}
}

// Generate renders the receipt for a settled intent and stores it under the
// enrollment's directory. Returns the stored relative path.
func (s *ReceiptService) Generate(ctx context.Context, intent models.PaymentIntent) (string, error) {
	data, err := s.renderer.Render(export.Receipt{
		SchoolName:   s.schoolName,
		EnrollmentID: intent.EnrollmentID,
		IntentID:     intent.ID,
		Amount:       intent.Amount,
		Currency:     intent.Currency,
		Description:  intent.Description,
		SettledAt:    s.now(),
	})
	if err != nil {
		return "", fmt.Errorf("render receipt: %w", err)
	}

	filename := fmt.Sprintf("%s/receipt-%s.pdf", intent.EnrollmentID, intent.ID)
	if _, err := s.store.Save(filename, data); err != nil {
		return "", fmt.Errorf("store receipt: %w", err)
	}

	s.logger.Info("receipt generated",
		zap.String("enrollment_id", intent.EnrollmentID),
		zap.String("intent_id", intent.ID),
		zap.String("path", filename),
	)
	return filename, nil
}
