// internal/engine/processor.go
package engine

import (
	"log"
	"sort"
)

// reservedFields are never sent to the CRM regardless of what the field
// metadata claims — identity and bookkeeping columns the portal owns.
var reservedFields = map[string]bool{
	"ID":            true,
	"DATE_CREATE":   true,
	"DATE_MODIFY":   true,
	"CREATED_BY_ID": true,
	"MODIFY_BY_ID":  true,
}

// IsReservedField reports whether a canonical field is on the static
// do-not-send list.
func IsReservedField(name string) bool {
	return reservedFields[name]
}

// UpdatePayload is one row's validated, type-converted CRM update.
type UpdatePayload struct {
	EntityID  string                 `json:"entity_id"`
	RowNumber int                    `json:"row_number"`
	Fields    map[string]interface{} `json:"fields"`
}

// Empty reports that nothing survived filtering and no call should be made.
func (p UpdatePayload) Empty() bool {
	return len(p.Fields) == 0
}

// FieldNames returns the payload's field set in stable order, for logs
// and tests.
func (p UpdatePayload) FieldNames() []string {
	names := make([]string, 0, len(p.Fields))
	for k := range p.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Processor turns accepted field changes into update payloads. Building
// is deterministic: the same change set always yields the same payload,
// so a retried delivery is safe.
type Processor struct{}

func NewProcessor() *Processor {
	return &Processor{}
}

// Build filters and converts one row's clean changes. Non-editable
// fields, reserved fields and fields the remote metadata marks read-only,
// immutable or computed are dropped up front; a value that fails its
// declared type's converter drops only that field.
func (p *Processor) Build(entityID string, rowNumber int, changes []ChangeRecord, meta map[string]FieldMeta) UpdatePayload {
	payload := UpdatePayload{
		EntityID:  entityID,
		RowNumber: rowNumber,
		Fields:    map[string]interface{}{},
	}

	for _, change := range changes {
		if !change.Editable {
			continue
		}
		if IsReservedField(change.CRMField) {
			continue
		}
		if fm, ok := meta[change.CRMField]; ok && !fm.Sendable() {
			log.Printf("🔒 [PROCESS] Row %d: %s is read-only per CRM metadata, skipping", rowNumber, change.CRMField)
			continue
		}

		value, err := Convert(change.DataType, change.NewValue)
		if err != nil {
			// One bad cell must not sink the row: drop the field,
			// keep the rest of the payload.
			log.Printf("⚠️ [PROCESS] Row %d: dropping %s: %v", rowNumber, change.CRMField, err)
			continue
		}
		payload.Fields[change.CRMField] = value
	}

	return payload
}
