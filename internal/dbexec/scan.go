package dbexec

import (
	"context"
	"fmt"
)

// QueryRows runs query and scans every row into a map. When fields is
// non-empty, the i-th selected column is stored under fields[i]; otherwise the
// driver-reported column names are used.
func QueryRows(ctx context.Context, exec QueryExecutor, query string, args []interface{}, fields []string) ([]map[string]interface{}, error) {
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return ScanRows(rows, fields)
}

// ScanRows drains rows into maps keyed by fields (or column names when fields is empty).
func ScanRows(rows Rows, fields []string) ([]map[string]interface{}, error) {
	keys := fields
	if len(keys) == 0 {
		cols, err := rows.Columns()
		if err != nil {
			return nil, err
		}
		keys = cols
	}

	results := make([]map[string]interface{}, 0)
	for rows.Next() {
		values := make([]interface{}, len(keys))
		valuePtrs := make([]interface{}, len(keys))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		row := make(map[string]interface{}, len(keys))
		for i, key := range keys {
			row[key] = ConvertValue(values[i])
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// ConvertValue normalizes driver values; []byte becomes string.
func ConvertValue(val interface{}) interface{} {
	if val == nil {
		return nil
	}
	if b, ok := val.([]byte); ok {
		return string(b)
	}
	return val
}
