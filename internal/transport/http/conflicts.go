package http

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"sheetsync-service/pkg/models"
)

func (h *Handler) ListConflicts(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid config id"})
	}
	var resolved *bool
	switch c.Query("resolved") {
	case "":
	case "true":
		v := true
		resolved = &v
	case "false":
		v := false
		resolved = &v
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "resolved must be true or false"})
	}
	conflicts, err := h.syncService.Store().ListConflicts(c.Context(), id, resolved)
	if err != nil {
		log.Printf("❌ ListConflicts: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch conflicts"})
	}
	return c.JSON(fiber.Map{"conflicts": conflicts})
}

// ResolveConflict applies a user-chosen strategy to one conflict.
func (h *Handler) ResolveConflict(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid conflict id"})
	}
	var req struct {
		Strategy   models.ResolutionStrategy `json:"strategy"`
		Value      string                    `json:"value"`
		ResolvedBy string                    `json:"resolved_by"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if req.Strategy == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "strategy required"})
	}
	if req.Strategy == models.ResolveCustom && req.Value == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "value required for custom resolution"})
	}
	if req.ResolvedBy == "" {
		req.ResolvedBy = c.Get("X-User-Email", "api")
	}

	conflict, err := h.syncService.ResolveConflict(c.Context(), id, req.Strategy, req.Value, req.ResolvedBy)
	if err != nil {
		log.Printf("❌ ResolveConflict %s failed: %v", id, err)
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"status":   "success",
		"conflict": conflict,
	})
}

// ResolveRow applies one strategy to all open conflicts of a row.
func (h *Handler) ResolveRow(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid config id"})
	}
	row := getQueryInt(c, "row", 0, 0, 1000000)
	if row == 0 {
		row, _ = c.ParamsInt("row")
	}
	if row < 2 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "row must be a data row (>= 2)"})
	}
	var req struct {
		Strategy   models.ResolutionStrategy `json:"strategy"`
		Value      string                    `json:"value"`
		ResolvedBy string                    `json:"resolved_by"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if req.Strategy == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "strategy required"})
	}
	if req.ResolvedBy == "" {
		req.ResolvedBy = c.Get("X-User-Email", "api")
	}

	res, err := h.syncService.ResolveRow(c.Context(), id, row, req.Strategy, req.Value, req.ResolvedBy)
	if err != nil {
		log.Printf("❌ ResolveRow %s row %d failed: %v", id, row, err)
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"status": "success",
		"result": res,
	})
}
