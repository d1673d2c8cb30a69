package models

import (
	"encoding/json"
)

// scanJSONB decodes a JSONB column value into dst.
// pgx may hand the value over as []byte or string; NULL and empty values leave dst untouched.
func scanJSONB(value interface{}, dst interface{}) (bool, error) {
	if value == nil {
		return false, nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return false, nil
	}

	if len(bytes) == 0 {
		return false, nil
	}

	return true, json.Unmarshal(bytes, dst)
}
