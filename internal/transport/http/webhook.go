package http

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"sheetsync-service/internal/service"
)

// HandleWebhook receives edit notifications pushed by the spreadsheet's
// bound script and reconciles the affected row immediately.
func (h *Handler) HandleWebhook(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid config id"})
	}
	var payload service.WebhookPayload
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if err := payload.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	log.Printf("📥 [WEBHOOK] config=%s event=%s row=%d", id, payload.Event, payload.RowID)

	outcome, err := h.syncService.HandleWebhook(c.Context(), id, payload)
	if err != nil {
		log.Printf("❌ HandleWebhook %s failed: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status":  "accepted",
		"outcome": outcome,
	})
}
