// internal/engine/normalize.go
package engine

import (
	"fmt"
	"strconv"
	"strings"

	"sheetsync-service/pkg/models"
)

// Normalize brings a raw cell or CRM value into the canonical string form
// both diff stages compare on: trimmed, booleans as "true"/"false",
// nil/absent as "". Numbers coming back from the Sheets API as float64
// are printed without a trailing ".0" so 150 and 150.0 compare equal.
func Normalize(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", t))
	}
}

// truthy / falsy token sets for boolean conversion. Anything else is a
// conversion error and drops the field, not the payload.
var truthyTokens = map[string]bool{
	"true": true, "1": true, "yes": true, "y": true, "on": true, "checked": true, "да": true,
}

var falsyTokens = map[string]bool{
	"false": true, "0": true, "no": true, "n": true, "off": true, "нет": true, "": true,
}

// Convert casts a normalized string value to the wire type declared for
// its column. The DataType switch is exhaustive over the closed enum; an
// unknown type is an error rather than a silent passthrough.
func Convert(dt models.DataType, raw string) (interface{}, error) {
	raw = strings.TrimSpace(raw)
	switch dt {
	case models.DataTypeString:
		return raw, nil
	case models.DataTypeNumber:
		if raw == "" {
			return float64(0), nil
		}
		cleaned := strings.ReplaceAll(raw, " ", "")
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
		n, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to number: %w", raw, err)
		}
		return n, nil
	case models.DataTypeBoolean:
		lower := strings.ToLower(raw)
		if truthyTokens[lower] {
			return true, nil
		}
		if falsyTokens[lower] {
			return false, nil
		}
		return nil, fmt.Errorf("cannot convert %q to boolean", raw)
	case models.DataTypeDate:
		// Bitrix accepts date strings as-is; parsing/reformatting here
		// would lose sheet-local formats the portal already understands.
		return raw, nil
	default:
		return nil, fmt.Errorf("unknown data type %q", dt)
	}
}
