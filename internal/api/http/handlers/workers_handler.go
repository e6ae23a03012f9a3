package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/civicdesk/grievance-service/internal/api/dto"
	"github.com/civicdesk/grievance-service/internal/service"
)

// WorkersHandler serves worker queues and the directory listing.
type WorkersHandler struct {
	lifecycle *service.LifecycleManager
}

// NewWorkersHandler constructs handler.
func NewWorkersHandler(lifecycle *service.LifecycleManager) *WorkersHandler {
	return &WorkersHandler{lifecycle: lifecycle}
}

// ListAssigned GET /api/workers/:id/tickets.
func (h *WorkersHandler) ListAssigned(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	opts, err := parseListOptions(c)
	if err != nil {
		return err
	}
	tickets, err := h.lifecycle.ListAssigned(c.UserContext(), principal, c.Params("id"), opts)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketList(tickets)})
}

// ListWorkers GET /api/workers.
func (h *WorkersHandler) ListWorkers(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	workers, err := h.lifecycle.ListWorkers(c.UserContext(), principal)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewWorkerList(workers)})
}
