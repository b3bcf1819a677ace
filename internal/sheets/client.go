// internal/sheets/client.go
package sheets

import (
	"context"
	"fmt"
	"log"
	"strings"

	sheetsapi "google.golang.org/api/sheets/v4"
	"google.golang.org/api/option"
)

// Client wraps the Google Sheets v4 API for the two operations the sync
// engine needs: reading a range (headers + data rows) and writing a
// single resolved cell back.
type Client struct {
	svc *sheetsapi.Service
}

// NewClient builds a Sheets client from a service-account key, inline
// JSON winning over a key file path.
func NewClient(ctx context.Context, credentialsJSON, credentialsFile string) (*Client, error) {
	var opts []option.ClientOption
	switch {
	case credentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	case credentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	default:
		return nil, fmt.Errorf("sheets: no credentials configured")
	}
	opts = append(opts, option.WithScopes(sheetsapi.SpreadsheetsScope))

	svc, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets: init service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// ReadRange fetches a range and splits it into the header row and data
// rows. An empty range yields no headers and no rows, not an error.
func (c *Client) ReadRange(ctx context.Context, spreadsheetID, readRange string) ([]string, [][]interface{}, error) {
	resp, err := c.svc.Spreadsheets.Values.Get(spreadsheetID, readRange).Context(ctx).Do()
	if err != nil {
		return nil, nil, fmt.Errorf("sheets: read %s!%s: %w", spreadsheetID, readRange, err)
	}
	if len(resp.Values) == 0 {
		return nil, nil, nil
	}

	headers := make([]string, 0, len(resp.Values[0]))
	for _, h := range resp.Values[0] {
		headers = append(headers, fmt.Sprintf("%v", h))
	}
	return headers, resp.Values[1:], nil
}

// UpdateCell writes one value into the sheet at (rowNumber, columnIndex).
// rowNumber is 1-based including the header row, columnIndex 0-based.
func (c *Client) UpdateCell(ctx context.Context, spreadsheetID, sheetRange string, rowNumber, columnIndex int, value string) error {
	cell := fmt.Sprintf("%s%d", ColumnLetter(columnIndex), rowNumber)
	if sheet := sheetName(sheetRange); sheet != "" {
		cell = sheet + "!" + cell
	}

	vr := &sheetsapi.ValueRange{Values: [][]interface{}{{value}}}
	_, err := c.svc.Spreadsheets.Values.Update(spreadsheetID, cell, vr).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("sheets: update %s: %w", cell, err)
	}
	log.Printf("✏️ [SHEETS] Wrote %q to %s", value, cell)
	return nil
}

// ColumnLetter converts a 0-based column index to A1 letters (0→A, 25→Z,
// 26→AA).
func ColumnLetter(index int) string {
	letters := ""
	for index >= 0 {
		letters = string(rune('A'+index%26)) + letters
		index = index/26 - 1
	}
	return letters
}

// sheetName extracts the tab name from an A1 range like "Leads!A:Z".
func sheetName(a1Range string) string {
	if i := strings.Index(a1Range, "!"); i > 0 {
		return a1Range[:i]
	}
	return ""
}
