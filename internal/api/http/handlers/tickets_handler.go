package handlers

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/civicdesk/grievance-service/internal/api/dto"
	"github.com/civicdesk/grievance-service/internal/auth"
	"github.com/civicdesk/grievance-service/internal/domain"
	"github.com/civicdesk/grievance-service/internal/service"
	apperrors "github.com/civicdesk/grievance-service/pkg/util/errorutil"
)

const maxPageSize = 200

// TicketsHandler exposes the grievance lifecycle.
type TicketsHandler struct {
	lifecycle *service.LifecycleManager
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(lifecycle *service.LifecycleManager) *TicketsHandler {
	return &TicketsHandler{lifecycle: lifecycle}
}

// CreateTicket POST /api/tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.lifecycle.CreateTicket(c.UserContext(), principal, service.CreateTicketInput{
		Title:         req.Title,
		Description:   req.Description,
		Category:      req.Category,
		AttachmentRef: req.AttachmentRef,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// ListAll GET /api/tickets.
func (h *TicketsHandler) ListAll(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	opts, err := parseListOptions(c)
	if err != nil {
		return err
	}
	tickets, err := h.lifecycle.ListAll(c.UserContext(), principal, opts)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketList(tickets)})
}

// ListByOwner GET /api/users/:id/tickets.
func (h *TicketsHandler) ListByOwner(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	opts, err := parseListOptions(c)
	if err != nil {
		return err
	}
	tickets, err := h.lifecycle.ListMyTickets(c.UserContext(), principal, c.Params("id"), opts)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketList(tickets)})
}

// UpdateTicket PUT /api/tickets/:id.
func (h *TicketsHandler) UpdateTicket(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.UpdateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.lifecycle.UpdateTicket(c.UserContext(), principal, c.Params("id"), service.UpdateRequest{
		Status:           req.Status,
		Priority:         req.Priority,
		AssignedWorkerID: req.AssignedWorkerID,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// DeleteTicket DELETE /api/tickets/:id.
func (h *TicketsHandler) DeleteTicket(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	if err := h.lifecycle.DeleteTicket(c.UserContext(), principal, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// GetHistory GET /api/tickets/:id/history.
func (h *TicketsHandler) GetHistory(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	entries, err := h.lifecycle.GetHistory(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewHistoryList(entries)})
}

// GetAttachment GET /api/tickets/:id/attachment.
func (h *TicketsHandler) GetAttachment(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	ref, err := h.lifecycle.GetAttachment(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.AttachmentResponse{TicketID: c.Params("id"), AttachmentRef: ref}})
}

func requirePrincipal(c *fiber.Ctx) (domain.Principal, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return domain.Principal{}, apperrors.NewUnauthorized("authentication required")
	}
	return principal, nil
}

// parseListOptions reads page/page_size. Without page_size the whole list is returned.
func parseListOptions(c *fiber.Ctx) (service.ListOptions, error) {
	raw := c.Query("page_size")
	if raw == "" {
		return service.ListOptions{}, nil
	}
	pageSize, err := strconv.Atoi(raw)
	if err != nil || pageSize <= 0 || pageSize > maxPageSize {
		return service.ListOptions{}, apperrors.NewValidationError("page_size must be between 1 and 200", nil)
	}
	page := 1
	if rawPage := c.Query("page"); rawPage != "" {
		page, err = strconv.Atoi(rawPage)
		if err != nil || page <= 0 {
			return service.ListOptions{}, apperrors.NewValidationError("page must be a positive integer", nil)
		}
	}
	return service.ListOptions{Limit: pageSize, Offset: (page - 1) * pageSize}, nil
}
