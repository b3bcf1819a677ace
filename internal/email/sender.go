// internal/email/sender.go
package email

import (
	"context"
	"fmt"
	"log"
	"time"

	"gopkg.in/gomail.v2"

	"sheetsync-service/internal/config"
	"sheetsync-service/internal/email/templates"
	"sheetsync-service/pkg/models"
)

type Sender struct {
	cfg *config.Config
}

func NewSender(cfg *config.Config) *Sender {
	return &Sender{cfg: cfg}
}

// Enabled reports whether SMTP is configured at all; alerts are optional.
func (s *Sender) Enabled() bool {
	return s.cfg.SMTPHost != "" && s.cfg.SMTPFrom != ""
}

func (s *Sender) Send(ctx context.Context, to, subject, body string) error {
	log.Printf("📧 [SEND] To: %s | Subject: %s", to, subject)

	m := gomail.NewMessage()
	m.SetHeader("From", fmt.Sprintf("%s <%s>", s.cfg.SMTPFromName, s.cfg.SMTPFrom))
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	dialer := gomail.NewDialer(s.cfg.SMTPHost, s.cfg.SMTPPort, s.cfg.SMTPUser, s.cfg.SMTPPass)

	// Exponential backoff: 1s, 2s, 4s → max 3 retries
	for attempt := 0; attempt < 3; attempt++ {
		if err := dialer.DialAndSend(m); err != nil {
			delay := time.Duration(1<<attempt) * time.Second
			log.Printf("❌ [ATTEMPT %d] Failed to send email to %s: %v → retrying in %v", attempt+1, to, err, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("email send cancelled: %w", ctx.Err())
			}
			continue
		}
		log.Printf("✅ [SUCCESS] Email sent to %s (Subject: %s)", to, subject)
		return nil
	}

	log.Printf("💥 [FAILED] All retries exhausted for %s", to)
	return fmt.Errorf("failed to send email to %s after 3 attempts", to)
}

// SendConflictAlert renders and queues the conflict digest for a config
// owner. Delivery is async; a pass never blocks on SMTP.
func (s *Sender) SendConflictAlert(cfg *models.SyncConfig, conflicts []models.ConflictRecord) {
	if !s.Enabled() || cfg.OwnerEmail == "" || len(conflicts) == 0 {
		return
	}

	data := templates.ConflictAlertData{
		ConfigName: cfg.Name,
		EntityType: cfg.EntityType,
	}
	for _, c := range conflicts {
		field := c.CRMField
		if field == "" {
			field = string(c.Type) // row-level deletion conflicts have no single field
		}
		data.Conflicts = append(data.Conflicts, templates.ConflictLine{
			RowNumber:  c.RowNumber,
			Field:      field,
			SheetValue: c.SheetValue,
			CRMValue:   c.CRMValue,
			Suggested:  string(c.Suggested),
		})
	}

	body, err := templates.RenderConflictAlert(data)
	if err != nil {
		log.Printf("❌ [ALERT] Render conflict alert for %s failed: %v", cfg.Name, err)
		return
	}
	subject := fmt.Sprintf("⚠️ %d sync conflict(s) in %s", len(conflicts), cfg.Name)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Send(ctx, cfg.OwnerEmail, subject, body); err != nil {
			log.Printf("⚠️ [ALERT] Background conflict alert failed for %s: %v", cfg.Name, err)
		}
	}()
}
