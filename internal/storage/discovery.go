package storage

import (
	"database/sql"
	"encoding/json"

	lognogerrors "github.com/taskmasterpeace/lognog/pkg/errors"
)

// discoverFromJSONRows scans a bounded random sample of structured_data
// JSON blobs and returns each observed field's majority-voted type
// ("string", "number", "bool") across the sample (spec.md §4.7: a field
// seen with conflicting types across the sample is resolved by simple
// majority vote, ties broken toward "string").
func discoverFromJSONRows(rows *sql.Rows) (map[string]string, error) {
	votes := make(map[string]map[string]int)

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, &lognogerrors.StorageError{Backend: "discovery", Operation: "scan_structured_data", Cause: err}
		}
		if raw == "" || raw == "null" {
			continue
		}
		var fields map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			continue
		}
		for k, v := range fields {
			if votes[k] == nil {
				votes[k] = make(map[string]int)
			}
			votes[k][valueKind(v)]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &lognogerrors.StorageError{Backend: "discovery", Operation: "iterate", Cause: err}
	}

	result := make(map[string]string, len(votes))
	for field, kinds := range votes {
		best := "string"
		bestCount := -1
		for kind, count := range kinds {
			if count > bestCount || (count == bestCount && kind == "string") {
				best, bestCount = kind, count
			}
		}
		result[field] = best
	}
	return result, nil
}

func valueKind(v interface{}) string {
	switch v.(type) {
	case float64:
		return "number"
	case bool:
		return "bool"
	default:
		return "string"
	}
}
