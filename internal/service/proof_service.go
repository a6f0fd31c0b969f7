package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/EduOpsSolutions/EduOps-sub002/internal/models"
	appErrors "github.com/EduOpsSolutions/EduOps-sub002/pkg/errors"
	"github.com/EduOpsSolutions/EduOps-sub002/pkg/storage"
)

type proofFlagWriter interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	SetPaymentProof(ctx context.Context, id string, hasProof bool) error
}

// StoredProof describes an uploaded proof-of-payment file and the signed
// token that authorizes downloading it.
type StoredProof struct {
	EnrollmentID string    `json:"enrollment_id"`
	Path         string    `json:"path"`
	Token        string    `json:"token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ProofService stores proof-of-payment uploads and issues time-limited signed
// download tokens for them.
type ProofService struct {
	repo    proofFlagWriter
	store   *storage.LocalStorage
	signer  *storage.SignedURLSigner
	logger  *zap.Logger
	maxSize int64
}

// NewProofService constructs the proof service.
func NewProofService(repo proofFlagWriter, store *storage.LocalStorage, signer *storage.SignedURLSigner, logger *zap.Logger, maxSize int64) *ProofService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxSize <= 0 {
		maxSize = 5 << 20
	}
	return &ProofService{
		repo:    repo,
		store:   store,
		signer:  signer,
		logger:  logger,
		maxSize: maxSize,
	}
}

// Store saves an uploaded proof file for the enrollment and flips its proof
// flag. The enrollment's workflow state is untouched; the flag only feeds the
// transition guard's evidence check.
func (s *ProofService) Store(ctx context.Context, enrollmentID, filename string, size int64, r io.Reader) (*StoredProof, error) {
	if size > s.maxSize {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds the %d byte limit", s.maxSize))
	}
	cleaned := sanitizeFilename(filename)
	if cleaned == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid filename")
	}

	if _, err := s.repo.FindByID(ctx, enrollmentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	relPath := filepath.Join(enrollmentID, cleaned)
	if _, err := s.store.SaveStream(relPath, io.LimitReader(r, s.maxSize)); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store proof file")
	}

	if err := s.repo.SetPaymentProof(ctx, enrollmentID, true); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to flag payment proof")
	}

	token, expiresAt, err := s.signer.Generate(enrollmentID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign proof token")
	}

	s.logger.Info("payment proof stored",
		zap.String("enrollment_id", enrollmentID),
		zap.String("path", relPath),
	)
	return &StoredProof{
		EnrollmentID: enrollmentID,
		Path:         relPath,
		Token:        token,
		ExpiresAt:    expiresAt,
	}, nil
}

// SignedToken issues a fresh download token for an enrollment's stored proof.
func (s *ProofService) SignedToken(ctx context.Context, enrollmentID, relPath string) (*StoredProof, error) {
	if !strings.HasPrefix(relPath, enrollmentID+string(filepath.Separator)) && !strings.HasPrefix(relPath, enrollmentID+"/") {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "path does not belong to the enrollment")
	}
	if !s.store.Exists(relPath) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "proof file not found")
	}
	token, expiresAt, err := s.signer.Generate(enrollmentID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign proof token")
	}
	return &StoredProof{
		EnrollmentID: enrollmentID,
		Path:         relPath,
		Token:        token,
		ExpiresAt:    expiresAt,
	}, nil
}

// Open validates a signed token and returns a handle on the referenced file.
// The caller owns closing the file.
func (s *ProofService) Open(token string) (*os.File, string, error) {
	_, relPath, _, err := s.signer.Parse(token)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "invalid or expired download token")
	}
	file, err := s.store.Open(relPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "proof file not found")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open proof file")
	}
	return file, filepath.Base(relPath), nil
}

// sanitizeFilename strips directory components and rejects traversal.
func sanitizeFilename(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == ".." || base == string(filepath.Separator) || base == "" {
		return ""
	}
	return base
}
