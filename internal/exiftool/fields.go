package exiftool

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DecodeJSON parses the output of "exiftool -J" and returns the tags of the
// first file as strings.
func DecodeJSON(raw string) (map[string]string, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var files []map[string]any
	if err := dec.Decode(&files); err != nil {
		return nil, fmt.Errorf("failed to parse exiftool JSON: %w", err)
	}
	if len(files) == 0 {
		return map[string]string{}, nil
	}
	return Flatten(files[0]), nil
}

// Flatten renders every value of an exiftool record as a string.
func Flatten(record map[string]any) map[string]string {
	out := make(map[string]string, len(record))
	for k, v := range record {
		out[k] = stringify(v)
	}
	return out
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}
