package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"sheetsync-service/internal/bitrix"
	"sheetsync-service/internal/config"
	"sheetsync-service/internal/email"
	"sheetsync-service/internal/service"
	"sheetsync-service/internal/sheets"
	"sheetsync-service/internal/store"
	"sheetsync-service/internal/transport/http"
	"sheetsync-service/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

var startTime time.Time

func main() {
	startTime = time.Now()
	cfg := config.Load()
	store.InitDB(cfg)
	st := store.New(store.GetDB())

	if cfg.BitrixBaseURL == "" {
		log.Fatalf("❌ BITRIX_BASE_URL is required")
	}
	crmClient := bitrix.NewClient(cfg.BitrixBaseURL, time.Duration(cfg.RequestTimeoutS)*time.Second)
	log.Printf("✅ [CRM] Bitrix client initialized (%s)", maskURL(cfg.BitrixBaseURL))

	var sheetClient service.SheetClient
	if cfg.SheetsCredentialsJSON != "" || cfg.SheetsCredentialsFile != "" {
		sc, err := sheets.NewClient(context.Background(), cfg.SheetsCredentialsJSON, cfg.SheetsCredentialsFile)
		if err != nil {
			log.Fatalf("❌ [SHEETS] Failed to initialize client: %v", err)
		}
		sheetClient = sc
		log.Println("✅ [SHEETS] Google Sheets client initialized")
	} else {
		log.Println("⚠️ [SHEETS] Disabled (no SHEETS_CREDENTIALS_JSON or SHEETS_CREDENTIALS_FILE)")
	}

	var alerts service.AlertSender
	emailSender := email.NewSender(cfg)
	if emailSender.Enabled() {
		alerts = emailSender
		log.Println("✅ [EMAIL] Conflict alert sender initialized")
	} else {
		log.Println("⚠️ [EMAIL] Conflict alerts disabled (no SMTP_HOST)")
	}

	var archiver service.ReportArchiver
	if cfg.R2AccountID != "" {
		r2Client, err := utils.NewReportR2Client(utils.ReportR2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			AccessKeySecret: cfg.R2AccessKeySecret,
			BucketName:      cfg.R2BucketName,
			PublicURL:       cfg.R2PublicURL,
		})
		if err != nil {
			log.Fatalf("❌ [R2] Failed to initialize client: %v", err)
		}
		archiver = r2Client
		log.Printf("✅ [R2] Report archive initialized (bucket: %s)", cfg.R2BucketName)
	} else {
		log.Println("⚠️ [R2] Report archival disabled (no R2_ACCOUNT_ID)")
	}

	syncService := service.NewSyncService(st, crmClient, sheetClient, alerts, archiver, cfg)
	handler := http.NewHandler(syncService)
	log.Println("✅ [SERVICE] SyncService & Handler initialized")

	syncService.StartScheduler()

	app := fiber.New(fiber.Config{
		AppName:      "sheetsync-service",
		ErrorHandler: customErrorHandler,
	})

	app.Use(recover.New())

	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Requested-With,X-Service-Token,X-User-Email,Cache-Control",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	app.Use(logger.New(logger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path} | ${ua}\n",
	}))

	// Service-to-service routes
	serviceRoutes := app.Group("/svc/v1", serviceAuth(cfg))

	serviceRoutes.Post("/configs", handler.CreateConfig)
	serviceRoutes.Get("/configs", handler.ListConfigs)
	serviceRoutes.Get("/configs/:id", handler.GetConfig)
	serviceRoutes.Patch("/configs/:id/enabled", handler.SetConfigEnabled)
	serviceRoutes.Post("/configs/:id/sync", handler.TriggerSync)
	log.Println("✅ [ROUTES] Registered config routes: /svc/v1/configs*")

	serviceRoutes.Post("/configs/:id/mappings/detect", handler.DetectMappings)
	serviceRoutes.Get("/configs/:id/mappings", handler.ListMappings)
	serviceRoutes.Put("/mappings/:id", handler.OverrideMapping)
	log.Println("✅ [ROUTES] Registered mapping routes: /svc/v1/configs/:id/mappings*")

	serviceRoutes.Get("/configs/:id/logs", handler.GetLogs)
	serviceRoutes.Post("/logs/:id/retry", handler.RetryLog)
	serviceRoutes.Post("/configs/:id/retry-failed", handler.RetryAllFailed)
	log.Println("✅ [ROUTES] Registered log routes: /svc/v1/configs/:id/logs, /svc/v1/logs/:id/retry")

	serviceRoutes.Get("/configs/:id/conflicts", handler.ListConflicts)
	serviceRoutes.Post("/conflicts/:id/resolve", handler.ResolveConflict)
	serviceRoutes.Post("/configs/:id/rows/:row/resolve", handler.ResolveRow)
	log.Println("✅ [ROUTES] Registered conflict routes: /svc/v1/conflicts/:id/resolve")

	serviceRoutes.Post("/configs/:id/webhook", handler.HandleWebhook)
	log.Println("✅ [ROUTES] Registered webhook route: /svc/v1/configs/:id/webhook")

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		uptime := time.Since(startTime).Round(time.Second)
		return c.JSON(fiber.Map{
			"status":         "ok",
			"service":        "sheetsync-service",
			"uptime":         uptime.String(),
			"timestamp":      time.Now().UTC().Format(time.RFC3339),
			"sheets_enabled": sheetClient != nil,
			"alerts_enabled": alerts != nil,
			"r2_enabled":     archiver != nil,
		})
	})
	log.Println("✅ [ROUTES] Registered /health")

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-c
		log.Println("🛑 [SHUTDOWN] Graceful shutdown initiated...")
		syncService.StopScheduler()
		if err := app.Shutdown(); err != nil {
			log.Printf("❌ [SHUTDOWN] Error: %v", err)
		}
	}()

	log.Printf("🚀 sheetsync-service starting...")
	log.Printf("   🔗 Listening on port: %s", cfg.ServerPort)
	log.Printf("   🌐 CORS allowed origins: %s", cfg.AllowedOrigins)
	log.Printf("   ⚙️ Batch concurrency: %d, delay: %dms, timeout: %ds, retries: %d",
		cfg.BatchConcurrency, cfg.BatchDelayMS, cfg.RequestTimeoutS, cfg.MaxRetries)
	log.Println("✅ Server ready.")

	if err := app.Listen(":" + cfg.ServerPort); err != nil {
		log.Fatalf("❌ [STARTUP] Server failed to start: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var errMsg string
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		errMsg = e.Message
	} else {
		errMsg = err.Error()
	}
	log.Printf("🔥 [ERROR] [%d] %s %s → %v | IP=%s | UA=%s",
		code,
		c.Method(),
		c.Path(),
		errMsg,
		c.IP(),
		c.Get("User-Agent"),
	)
	return c.Status(code).JSON(fiber.Map{
		"error":      "something went wrong",
		"request_id": c.Get("X-Request-ID"),
	})
}

func serviceAuth(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Get("X-Service-Token")
		if token == "" {
			authHeader := c.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				token = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}
		if token != cfg.ServiceExpectedToken {
			log.Printf("[SERVICE-AUTH] ❌ REJECTED | IP=%s | Path=%s", c.IP(), c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized: invalid or missing service token",
			})
		}
		return c.Next()
	}
}

// maskURL trims the webhook token off a Bitrix inbound URL for logs.
func maskURL(raw string) string {
	parts := strings.Split(strings.TrimRight(raw, "/"), "/")
	if len(parts) < 2 {
		return raw
	}
	last := parts[len(parts)-1]
	if len(last) > 4 {
		parts[len(parts)-1] = last[:4] + "******"
	}
	return strings.Join(parts, "/")
}
