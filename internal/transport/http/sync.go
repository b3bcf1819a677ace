package http

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"sheetsync-service/pkg/models"
)

// CreateConfig registers a spreadsheet↔CRM pair for syncing.
func (h *Handler) CreateConfig(c *fiber.Ctx) error {
	var req struct {
		Name          string               `json:"name"`
		SpreadsheetID string               `json:"spreadsheet_id"`
		SheetRange    string               `json:"sheet_range"`
		EntityType    string               `json:"entity_type"`
		Direction     models.SyncDirection `json:"direction"`
		PollInterval  int                  `json:"poll_interval"`
		OwnerEmail    string               `json:"owner_email"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if req.Name == "" || req.SpreadsheetID == "" || req.EntityType == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name, spreadsheet_id and entity_type are required"})
	}
	if req.Direction == "" {
		req.Direction = models.DirectionSheetToCRM
	}
	if req.Direction != models.DirectionSheetToCRM && req.Direction != models.DirectionBidirectional {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "direction must be sheet_to_crm or bidirectional"})
	}

	cfg := &models.SyncConfig{
		Name:          req.Name,
		SpreadsheetID: req.SpreadsheetID,
		SheetRange:    req.SheetRange,
		EntityType:    req.EntityType,
		Direction:     req.Direction,
		PollInterval:  req.PollInterval,
		OwnerEmail:    req.OwnerEmail,
		Enabled:       true,
	}
	if err := h.syncService.Store().CreateConfig(c.Context(), cfg); err != nil {
		log.Printf("❌ CreateConfig failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to create sync config"})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status": "success",
		"config": cfg,
	})
}

func (h *Handler) ListConfigs(c *fiber.Ctx) error {
	configs, err := h.syncService.Store().ListConfigs(c.Context())
	if err != nil {
		log.Printf("❌ ListConfigs: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch configs"})
	}
	return c.JSON(fiber.Map{"configs": configs})
}

func (h *Handler) GetConfig(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid config id"})
	}
	cfg, err := h.syncService.Store().GetConfig(c.Context(), id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "config not found"})
	}
	return c.JSON(fiber.Map{"config": cfg})
}

func (h *Handler) SetConfigEnabled(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid config id"})
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if err := h.syncService.Store().SetConfigEnabled(c.Context(), id, req.Enabled); err != nil {
		log.Printf("❌ SetConfigEnabled %s failed: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to update config"})
	}
	return c.JSON(fiber.Map{"status": "success", "enabled": req.Enabled})
}

// TriggerSync runs one reconciliation pass synchronously and returns
// the batch accounting.
func (h *Handler) TriggerSync(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid config id"})
	}
	result, err := h.syncService.RunPass(c.Context(), id)
	if err != nil {
		log.Printf("❌ TriggerSync %s failed: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"status": "success",
		"result": result,
	})
}

func (h *Handler) GetLogs(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid config id"})
	}
	limit := getQueryInt(c, "limit", 50, 1, 200)
	offset := getQueryInt(c, "offset", 0, 0, 10000)

	status := models.SyncStatus(c.Query("status"))
	switch status {
	case "", models.SyncStatusPending, models.SyncStatusSyncing, models.SyncStatusCompleted,
		models.SyncStatusFailed, models.SyncStatusRetrying:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown status filter"})
	}

	logs, err := h.syncService.Store().LogsByStatus(c.Context(), id, status, limit, offset)
	if err != nil {
		log.Printf("❌ GetLogs: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch logs"})
	}
	return c.JSON(fiber.Map{"logs": logs})
}

func (h *Handler) RetryLog(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid log id"})
	}
	result, err := h.syncService.RetryLog(c.Context(), id)
	if err != nil {
		log.Printf("❌ RetryLog %s failed: %v", id, err)
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"status": "success",
		"result": result,
	})
}

func (h *Handler) RetryAllFailed(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid config id"})
	}
	result, err := h.syncService.RetryAllFailed(c.Context(), id)
	if err != nil {
		log.Printf("❌ RetryAllFailed %s failed: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"status": "success",
		"result": result,
	})
}

// DetectMappings re-reads the header row and refreshes the column map.
func (h *Handler) DetectMappings(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid config id"})
	}
	resolution, err := h.syncService.DetectMappings(c.Context(), id)
	if err != nil {
		log.Printf("❌ DetectMappings %s failed: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"status":     "success",
		"resolution": resolution,
	})
}

func (h *Handler) ListMappings(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid config id"})
	}
	mappings, err := h.syncService.Store().MappingsFor(c.Context(), id)
	if err != nil {
		log.Printf("❌ ListMappings: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch mappings"})
	}
	return c.JSON(fiber.Map{"mappings": mappings})
}

func (h *Handler) OverrideMapping(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid mapping id"})
	}
	var req struct {
		CRMField string          `json:"crm_field"`
		DataType models.DataType `json:"data_type"`
		Editable bool            `json:"editable"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if req.CRMField == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "crm_field required"})
	}
	if req.DataType == "" {
		req.DataType = models.DataTypeString
	}
	m, err := h.syncService.OverrideMapping(c.Context(), id, req.CRMField, req.DataType, req.Editable)
	if err != nil {
		log.Printf("❌ OverrideMapping %s failed: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"status":  "success",
		"mapping": m,
	})
}
