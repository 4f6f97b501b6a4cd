package infra

import (
	"bytes"
	"encoding/json"

	"github.com/osdi23p228/azhlf/pkg/fab"
)

// ParseTransient turns a JSON object into a transient map. String values are
// taken verbatim; anything else is stored as its JSON encoding.
func ParseTransient(raw string) (map[string][]byte, error) {
	if raw == "" {
		return nil, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, &fab.DecodingError{Schema: "transient", Err: err}
	}

	transient := make(map[string][]byte, len(fields))
	for k, v := range fields {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			transient[k] = []byte(s)
			continue
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, v); err != nil {
			return nil, &fab.DecodingError{Schema: "transient", Err: err}
		}
		transient[k] = compact.Bytes()
	}
	return transient, nil
}
