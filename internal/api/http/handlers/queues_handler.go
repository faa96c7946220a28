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

// QueuesHandler exposes queue inspection and assignment endpoints.
type QueuesHandler struct {
	service  *service.SchedulerService
	validate *validator.Validate
}

// NewQueuesHandler constructs handler.
func NewQueuesHandler(schedulerService *service.SchedulerService, validate *validator.Validate) *QueuesHandler {
	return &QueuesHandler{service: schedulerService, validate: validate}
}

// Queue GET /queues/:groupID.
func (h *QueuesHandler) Queue(c *fiber.Ctx) error {
	limit := parseInt(c.Query("limit"), 50)
	incidents, err := h.service.Queue(c.Context(), c.Params("groupID"), limit)
	if err != nil {
		return err
	}
	items := make([]dto.IncidentResponse, 0, len(incidents))
	for i := range incidents {
		items = append(items, incidentResponse(&incidents[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Depths GET /queues.
func (h *QueuesHandler) Depths(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.Staff == nil {
		return apperrors.NewUnauthorized("staff required")
	}
	centerID := c.Query("service_center_id")
	if centerID == "" {
		centerID = principal.Staff.ServiceCenterID
	}
	depths, err := h.service.QueueDepths(c.Context(), centerID)
	if err != nil {
		return err
	}
	items := make([]dto.QueueDepthResponse, 0, len(depths))
	for _, depth := range depths {
		items = append(items, dto.QueueDepthResponse{
			GroupID:   depth.Group.ID,
			GroupName: depth.Group.Name,
			Depth:     depth.Depth,
		})
	}
	return c.JSON(fiber.Map{"data": items})
}

// Assign POST /queues/:groupID/assign. The caller claims the FIFO head for
// themselves.
func (h *QueuesHandler) Assign(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.Staff == nil {
		return apperrors.NewUnauthorized("staff required")
	}
	if principal.Staff.Role != domain.StaffRoleTechnician {
		return apperrors.NewForbidden("only technicians claim queue heads")
	}

	incident, err := h.service.AssignHead(c.Context(), principal.Staff, c.Params("groupID"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": incidentResponse(incident)})
}

// Reassign POST /incidents/:id/reassign.
func (h *QueuesHandler) Reassign(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.Staff == nil {
		return apperrors.NewUnauthorized("staff required")
	}
	var req dto.ReassignRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := h.validate.Struct(&req); err != nil {
		return apperrors.NewValidationError(err.Error(), nil)
	}

	if err := h.service.Reassign(c.Context(), principal.Staff, c.Params("id"), req.FromTechnicianID, req.ToTechnicianID, req.Reason); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Unassign POST /incidents/:id/unassign.
func (h *QueuesHandler) Unassign(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.Staff == nil {
		return apperrors.NewUnauthorized("staff required")
	}
	var req dto.UnassignRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	if err := h.service.Unassign(c.Context(), principal.Staff, c.Params("id"), req.Reason); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}
