package handlers

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/repair-service/internal/api/dto"
	"github.com/spec-kit/repair-service/internal/auth"
	"github.com/spec-kit/repair-service/internal/domain"
	"github.com/spec-kit/repair-service/internal/service"
	apperrors "github.com/spec-kit/repair-service/pkg/util"
)

// RecurrenceHandler manages recurrence adjudication endpoints.
type RecurrenceHandler struct {
	service  *service.RecurrenceService
	validate *validator.Validate
}

// NewRecurrenceHandler constructs handler.
func NewRecurrenceHandler(recurrenceService *service.RecurrenceService, validate *validator.Validate) *RecurrenceHandler {
	return &RecurrenceHandler{service: recurrenceService, validate: validate}
}

// Candidates GET /incidents/:id/recurrence/candidates.
func (h *RecurrenceHandler) Candidates(c *fiber.Ctx) error {
	incidents, err := h.service.Candidates(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.IncidentResponse, 0, len(incidents))
	for i := range incidents {
		items = append(items, incidentResponse(&incidents[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Pending GET /recurrence/pending.
func (h *RecurrenceHandler) Pending(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.Staff == nil {
		return apperrors.NewUnauthorized("staff required")
	}
	centerID := c.Query("service_center_id")
	if centerID == "" {
		centerID = principal.Staff.ServiceCenterID
	}
	limit := parseInt(c.Query("limit"), 50)
	incidents, err := h.service.PendingVerifications(c.Context(), centerID, limit)
	if err != nil {
		return err
	}
	items := make([]dto.IncidentResponse, 0, len(incidents))
	for i := range incidents {
		items = append(items, incidentResponse(&incidents[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Record POST /incidents/:id/recurrence/verification.
func (h *RecurrenceHandler) Record(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.Staff == nil {
		return apperrors.NewUnauthorized("staff required")
	}
	var req dto.RecordVerificationRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := h.validate.Struct(&req); err != nil {
		return apperrors.NewValidationError(err.Error(), nil)
	}

	verification, err := h.service.RecordVerification(c.Context(), principal.Staff, service.VerificationInput{
		IncidentID:        c.Params("id"),
		PriorIncidentID:   req.PriorIncidentID,
		IsValidRecurrence: req.IsValidRecurrence,
		AppliesReentry:    req.AppliesReentry,
		Justification:     req.Justification,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": verificationResponse(verification)})
}

func verificationResponse(verification *domain.RecurrenceVerification) dto.VerificationResponse {
	return dto.VerificationResponse{
		ID:                verification.ID,
		IncidentID:        verification.IncidentID,
		PriorIncidentID:   verification.PriorIncidentID,
		VerifiedByID:      verification.VerifiedByID,
		IsValidRecurrence: verification.IsValidRecurrence,
		AppliesReentry:    verification.AppliesReentry,
		Justification:     verification.Justification,
		CreatedAt:         verification.CreatedAt,
	}
}
