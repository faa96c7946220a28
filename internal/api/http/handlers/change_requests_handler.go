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

// ChangeRequestsHandler manages the approval workflow endpoints.
type ChangeRequestsHandler struct {
	service  *service.ChangeRequestService
	validate *validator.Validate
}

// NewChangeRequestsHandler constructs handler.
func NewChangeRequestsHandler(changeRequestService *service.ChangeRequestService, validate *validator.Validate) *ChangeRequestsHandler {
	return &ChangeRequestsHandler{service: changeRequestService, validate: validate}
}

// Submit POST /incidents/:id/change-requests.
func (h *ChangeRequestsHandler) Submit(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.Staff == nil {
		return apperrors.NewUnauthorized("staff required")
	}
	var req dto.CreateChangeRequestRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := h.validate.Struct(&req); err != nil {
		return apperrors.NewValidationError(err.Error(), nil)
	}

	request, err := h.service.Submit(c.Context(), principal.Staff, service.ChangeRequestInput{
		IncidentID:    c.Params("id"),
		Type:          domain.ChangeRequestType(req.Type),
		Justification: req.Justification,
		EvidenceKeys:  req.EvidenceKeys,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": changeRequestResponse(request)})
}

// Resolve POST /change-requests/:id/resolve.
func (h *ChangeRequestsHandler) Resolve(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.Staff == nil {
		return apperrors.NewUnauthorized("staff required")
	}
	var req dto.ResolveChangeRequestRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	request, err := h.service.Resolve(c.Context(), principal.Staff, c.Params("id"), req.Approve, req.Comments)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": changeRequestResponse(request)})
}

// ListByIncident GET /incidents/:id/change-requests.
func (h *ChangeRequestsHandler) ListByIncident(c *fiber.Ctx) error {
	requests, err := h.service.ListByIncident(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.ChangeRequestResponse, 0, len(requests))
	for i := range requests {
		items = append(items, changeRequestResponse(&requests[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

func changeRequestResponse(request *domain.ChangeRequest) dto.ChangeRequestResponse {
	return dto.ChangeRequestResponse{
		ID:            request.ID,
		IncidentID:    request.IncidentID,
		Type:          request.Type,
		Justification: request.Justification,
		EvidenceKeys:  request.EvidenceKeys,
		RequestedByID: request.RequestedByID,
		State:         request.State,
		ResolvedByID:  request.ResolvedByID,
		ResolvedAt:    request.ResolvedAt,
		Comments:      request.Comments,
		CreatedAt:     request.CreatedAt,
	}
}
