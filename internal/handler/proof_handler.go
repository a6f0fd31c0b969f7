package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EduOpsSolutions/EduOps-sub002/internal/service"
	appErrors "github.com/EduOpsSolutions/EduOps-sub002/pkg/errors"
	"github.com/EduOpsSolutions/EduOps-sub002/pkg/response"
)

// ProofHandler exposes proof-of-payment upload and download endpoints.
type ProofHandler struct {
	proofs *service.ProofService
}

// NewProofHandler constructs ProofHandler.
func NewProofHandler(proofs *service.ProofService) *ProofHandler {
	return &ProofHandler{proofs: proofs}
}

// Upload godoc
// @Summary Upload a proof-of-payment file for an enrollment
// @Tags Proofs
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param file formData file true "Proof file"
// @Success 201 {object} response.Envelope
// @Router /enrollments/{id}/proof [post]
func (h *ProofHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "file is required"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload"))
		return
	}
	defer file.Close() //nolint:errcheck

	proof, err := h.proofs.Store(c.Request.Context(), c.Param("id"), fileHeader.Filename, fileHeader.Size, file)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, proof)
}

// Download godoc
// @Summary Download a proof file using a signed token
// @Tags Proofs
// @Produce octet-stream
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /proofs/download [get]
func (h *ProofHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	file, name, err := h.proofs.Open(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	c.FileAttachment(file.Name(), name)
}
