// internal/transport/http/handlers.go
package http

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"sheetsync-service/internal/service"
)

type Handler struct {
	syncService *service.SyncService
}

func NewHandler(syncService *service.SyncService) *Handler {
	return &Handler{syncService: syncService}
}

// Helper
func getQueryInt(c *fiber.Ctx, key string, def, min, max int) int {
	s := c.Query(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
