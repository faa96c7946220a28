package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/repair-service/internal/api/dto"
	"github.com/spec-kit/repair-service/internal/auth"
	"github.com/spec-kit/repair-service/internal/domain"
	"github.com/spec-kit/repair-service/internal/service"
	apperrors "github.com/spec-kit/repair-service/pkg/util"
)

// IncidentsHandler manages incident intake and lifecycle endpoints.
type IncidentsHandler struct {
	service  *service.IncidentService
	validate *validator.Validate
}

// NewIncidentsHandler constructs handler.
func NewIncidentsHandler(incidentService *service.IncidentService, validate *validator.Validate) *IncidentsHandler {
	return &IncidentsHandler{service: incidentService, validate: validate}
}

// Create POST /incidents.
func (h *IncidentsHandler) Create(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.Staff == nil {
		return apperrors.NewUnauthorized("staff required")
	}
	var req dto.CreateIncidentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := h.validate.Struct(&req); err != nil {
		return apperrors.NewValidationError(err.Error(), nil)
	}

	incident, err := h.service.CreateIncident(c.Context(), principal.Staff, service.IncidentCreateInput{
		ProductID:          req.ProductID,
		CustomerID:         req.CustomerID,
		ServiceCenterID:    req.ServiceCenterID,
		IsRecurrence:       req.IsRecurrence,
		ProblemDescription: req.ProblemDescription,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": incidentResponse(incident)})
}

// Get GET /incidents/:id.
func (h *IncidentsHandler) Get(c *fiber.Ctx) error {
	incident, err := h.service.GetIncident(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": incidentResponse(incident)})
}

// History GET /incidents/:id/history.
func (h *IncidentsHandler) History(c *fiber.Ctx) error {
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 50)
	entries, err := h.service.History(c.Context(), c.Params("id"), pageSize, (page-1)*pageSize)
	if err != nil {
		return err
	}
	items := make([]dto.IncidentHistoryResponse, 0, len(entries))
	for i := range entries {
		items = append(items, historyResponse(&entries[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Transition POST /incidents/:id/transitions.
func (h *IncidentsHandler) Transition(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.Staff == nil {
		return apperrors.NewUnauthorized("staff required")
	}
	var req dto.TransitionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := h.validate.Struct(&req); err != nil {
		return apperrors.NewValidationError(err.Error(), nil)
	}

	incident, err := h.service.ApplyTransition(c.Context(), principal.Staff, c.Params("id"), domain.IncidentEvent(req.Event), req.Comment)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": incidentResponse(incident)})
}

// AddObservation POST /incidents/:id/observations.
func (h *IncidentsHandler) AddObservation(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.Staff == nil {
		return apperrors.NewUnauthorized("staff required")
	}
	var req dto.ObservationRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := h.validate.Struct(&req); err != nil {
		return apperrors.NewValidationError(err.Error(), nil)
	}

	if err := h.service.AppendObservation(c.Context(), principal.Staff, c.Params("id"), req.Note); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func incidentResponse(incident *domain.Incident) dto.IncidentResponse {
	return dto.IncidentResponse{
		ID:                  incident.ID,
		Code:                incident.Code,
		State:               incident.State,
		ProductID:           incident.ProductID,
		CustomerID:          incident.CustomerID,
		ServiceCenterID:     incident.ServiceCenterID,
		GrandparentFamilyID: incident.GrandparentFamilyID,
		TechnicianID:        incident.TechnicianID,
		IsRecurrence:        incident.IsRecurrence,
		WarrantyApplies:     incident.WarrantyApplies,
		ProblemDescription:  incident.ProblemDescription,
		Observations:        incident.Observations,
		CreatedAt:           incident.CreatedAt,
		UpdatedAt:           incident.UpdatedAt,
		DeliveredAt:         incident.DeliveredAt,
	}
}

func historyResponse(entry *domain.IncidentHistory) dto.IncidentHistoryResponse {
	return dto.IncidentHistoryResponse{
		ID:          entry.ID,
		ChangeType:  entry.ChangeType,
		ChangedByID: entry.ChangedByID,
		OldValue:    entry.OldValue,
		NewValue:    entry.NewValue,
		CreatedAt:   entry.CreatedAt,
	}
}
