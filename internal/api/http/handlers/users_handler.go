package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/civicdesk/grievance-service/internal/service"
)

// UsersHandler handles account-removal cleanup.
type UsersHandler struct {
	lifecycle *service.LifecycleManager
}

// NewUsersHandler constructs handler.
func NewUsersHandler(lifecycle *service.LifecycleManager) *UsersHandler {
	return &UsersHandler{lifecycle: lifecycle}
}

// Purge handles DELETE /api/users/:id.
func (h *UsersHandler) Purge(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	result, err := h.lifecycle.PurgeUser(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": result})
}
