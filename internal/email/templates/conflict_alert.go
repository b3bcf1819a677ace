// internal/email/templates/conflict_alert.go
package templates

import (
	_ "embed"
	"fmt"
	"html/template"
	"strings"
	"time"
)

//go:embed conflict_alert.html
var conflictAlertHTML string

var conflictAlertTmpl = template.Must(template.New("conflict_alert").Parse(conflictAlertHTML))

// ConflictLine is one row of the alert table.
type ConflictLine struct {
	RowNumber  int
	Field      string
	SheetValue string
	CRMValue   string
	Suggested  string
}

type ConflictAlertData struct {
	ConfigName string
	EntityType string
	Conflicts  []ConflictLine
	Year       int
}

// RenderConflictAlert renders the sync-conflict alert email body.
func RenderConflictAlert(data ConflictAlertData) (string, error) {
	if data.Year == 0 {
		data.Year = time.Now().Year()
	}

	var buf strings.Builder
	if err := conflictAlertTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("template execution failed: %w", err)
	}
	return buf.String(), nil
}
