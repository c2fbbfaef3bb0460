package extract

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// FlattenJSON parses message as a JSON object and flattens its keys
// with "." path separators; arrays are re-encoded as JSON strings
// rather than expanded (spec.md §4.6 JSON layer). Returns ok=false if
// message does not start with '{' or fails to parse as an object.
func FlattenJSON(message string) (map[string]string, bool) {
	trimmed := strings.TrimSpace(message)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return nil, false
	}
	out := make(map[string]string)
	flattenInto(out, "", obj)
	return out, true
}

func flattenInto(out map[string]string, prefix string, v interface{}) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			flattenInto(out, path, val[k])
		}
	case []interface{}:
		b, _ := json.Marshal(val)
		out[prefix] = string(b)
	case string:
		out[prefix] = val
	case float64:
		out[prefix] = strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		out[prefix] = strconv.FormatBool(val)
	case nil:
		out[prefix] = ""
	default:
		out[prefix] = fmt.Sprintf("%v", val)
	}
}
