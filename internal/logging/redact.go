package logging

import "strings"

// PHI-bearing keys that must never reach a serialized log record. The
// denylist is fixed; it is matched case-insensitively against field names
// and their snake_case variants.
var phiDenylist = []string{
	"name",
	"first_name",
	"last_name",
	"full_name",
	"patient_name",
	"address",
	"street",
	"city",
	"postcode",
	"zip",
	"phone",
	"email",
	"dob",
	"date_of_birth",
	"birth_date",
	"mrn",
	"medical_record_number",
	"national_id",
	"ssn",
	"passport",
	"identifier",
	"patient_id",
}

const redactedPlaceholder = "[REDACTED]"

// Redact returns a copy of fields with every PHI-denylisted key replaced by
// a placeholder. Nested maps are redacted recursively. The input map is not
// modified.
func Redact(fields map[string]interface{}) map[string]interface{} {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if isDenied(k) {
			out[k] = redactedPlaceholder
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = Redact(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func isDenied(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	for _, denied := range phiDenylist {
		if k == denied {
			return true
		}
	}
	return false
}
