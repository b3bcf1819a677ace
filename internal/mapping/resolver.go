// internal/mapping/resolver.go
package mapping

import (
	"regexp"
	"strings"

	"sheetsync-service/internal/engine"
	"sheetsync-service/pkg/models"
)

// canonicalFields maps normalized header names to Bitrix CRM fields.
// Keys are in normalized form (lowercase, separator runs collapsed to a
// single space), exact match wins over substring fallback.
var canonicalFields = map[string]string{
	"id":            "ID",
	"title":         "TITLE",
	"deal name":     "TITLE",
	"name":          "NAME",
	"first name":    "NAME",
	"last name":     "LAST_NAME",
	"surname":       "LAST_NAME",
	"email":         "EMAIL",
	"e mail":        "EMAIL",
	"phone":         "PHONE",
	"telephone":     "PHONE",
	"mobile":        "PHONE",
	"company":       "COMPANY_TITLE",
	"company name":  "COMPANY_TITLE",
	"amount":        "OPPORTUNITY",
	"sum":           "OPPORTUNITY",
	"opportunity":   "OPPORTUNITY",
	"budget":        "OPPORTUNITY",
	"deal amount":   "OPPORTUNITY",
	"currency":      "CURRENCY_ID",
	"status":        "STATUS_ID",
	"stage":         "STAGE_ID",
	"source":        "SOURCE_ID",
	"comment":       "COMMENTS",
	"comments":      "COMMENTS",
	"notes":         "COMMENTS",
	"website":       "WEB",
	"site":          "WEB",
	"address":       "ADDRESS",
	"city":          "ADDRESS_CITY",
	"responsible":   "ASSIGNED_BY_ID",
	"manager":       "ASSIGNED_BY_ID",
	"assigned":      "ASSIGNED_BY_ID",
	"position":      "POST",
	"created":       "DATE_CREATE",
	"date created":  "DATE_CREATE",
	"modified":      "DATE_MODIFY",
	"date modified": "DATE_MODIFY",
	"closed":        "CLOSED",
	"close date":    "CLOSEDATE",
	"birthday":      "BIRTHDATE",
}

// typeKeywords drives data type inference off the normalized header.
// First match wins in the order date, number, boolean; default is string.
var typeKeywords = map[models.DataType][]string{
	models.DataTypeDate:    {"date", "created", "modified", "birthday", "deadline", "updated"},
	models.DataTypeNumber:  {"amount", "sum", "price", "opportunity", "budget", "quantity", "qty", "count", "total"},
	models.DataTypeBoolean: {"active", "enabled", "checked", "confirmed", "closed", "is ", "has "},
}

var separatorRun = regexp.MustCompile(`[\s_\-]+`)

// NormalizeHeader lowercases a column header and collapses whitespace,
// hyphen and underscore runs into single spaces.
func NormalizeHeader(header string) string {
	lower := strings.ToLower(strings.TrimSpace(header))
	return strings.TrimSpace(separatorRun.ReplaceAllString(lower, " "))
}

const (
	confidenceExact     = 1.0
	confidenceSubstring = 0.7
)

// ColumnMapping is one header's resolution before persistence.
type ColumnMapping struct {
	ColumnIndex int             `json:"column_index"`
	Header      string          `json:"header"`
	CRMField    string          `json:"crm_field"`
	DataType    models.DataType `json:"data_type"`
	Editable    bool            `json:"editable"`
	Mapped      bool            `json:"mapped"`
	Confidence  float64         `json:"confidence"`
}

// Summary aggregates one detection run.
type Summary struct {
	Total         int     `json:"total"`
	Mapped        int     `json:"mapped"`
	Unmapped      int     `json:"unmapped"`
	AvgConfidence float64 `json:"average_confidence"`
}

// Resolution is the full output of a detection run.
type Resolution struct {
	Mappings []ColumnMapping `json:"mappings"`
	Summary  Summary         `json:"summary"`
}

// Resolver maps sheet headers onto canonical CRM fields. Detection is
// pure; persistence and the user-confirmed guard live in the service.
type Resolver struct{}

func NewResolver() *Resolver {
	return &Resolver{}
}

// Detect resolves an ordered header list. Exact dictionary hits score
// 1.0, substring hits 0.7, misses stay unmapped with the raw header kept
// for manual correction.
func (r *Resolver) Detect(headers []string) Resolution {
	res := Resolution{Summary: Summary{Total: len(headers)}}
	var confidenceSum float64

	for i, header := range headers {
		cm := ColumnMapping{
			ColumnIndex: i,
			Header:      header,
			DataType:    models.DataTypeString,
			Editable:    true,
		}

		normalized := NormalizeHeader(header)
		if field, ok := canonicalFields[normalized]; ok {
			cm.CRMField = field
			cm.Mapped = true
			cm.Confidence = confidenceExact
		} else if field := substringMatch(normalized); field != "" {
			cm.CRMField = field
			cm.Mapped = true
			cm.Confidence = confidenceSubstring
		}

		if cm.Mapped {
			cm.DataType = inferType(normalized)
			cm.Editable = !engine.IsReservedField(cm.CRMField)
			res.Summary.Mapped++
		} else {
			res.Summary.Unmapped++
		}
		confidenceSum += cm.Confidence
		res.Mappings = append(res.Mappings, cm)
	}

	if res.Summary.Total > 0 {
		res.Summary.AvgConfidence = confidenceSum / float64(res.Summary.Total)
	}
	return res
}

// substringMatch is the fallback lookup: the normalized header contains a
// dictionary key or a dictionary key contains the header. Longer keys are
// preferred so "deal amount" beats "amount".
func substringMatch(normalized string) string {
	if normalized == "" {
		return ""
	}
	var bestKey, bestField string
	for key, field := range canonicalFields {
		if strings.Contains(normalized, key) || strings.Contains(key, normalized) {
			if len(key) > len(bestKey) {
				bestKey, bestField = key, field
			}
		}
	}
	return bestField
}

func inferType(normalized string) models.DataType {
	for _, dt := range []models.DataType{models.DataTypeDate, models.DataTypeNumber, models.DataTypeBoolean} {
		for _, kw := range typeKeywords[dt] {
			if strings.Contains(normalized, kw) {
				return dt
			}
		}
	}
	return models.DataTypeString
}
