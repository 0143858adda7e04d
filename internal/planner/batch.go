package planner

import "fmt"

// Reference chunk sizes for batched writes and IN lists.
const (
	InsertChunkSize   = 100
	MutationChunkSize = 50
	MaxInClause       = 1000
)

// Chunk splits items into consecutive slices of at most size elements.
// A size of zero or less returns a single chunk.
func Chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 || len(items) <= size {
		return [][]T{items}
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// KeyOf normalizes a key value for in-memory matching so that driver
// representations of the same key (int64 1, "1", []byte("1")) compare equal.
func KeyOf(value interface{}) string {
	if b, ok := value.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(value)
}

// UniqueValues collects the distinct non-nil values of key across rows in
// first-seen order.
func UniqueValues(rows []map[string]interface{}, key string) []interface{} {
	seen := make(map[string]struct{})
	values := make([]interface{}, 0, len(rows))
	for _, row := range rows {
		raw := row[key]
		if raw == nil {
			continue
		}
		normalized := KeyOf(raw)
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		values = append(values, raw)
	}
	return values
}

// GroupByField buckets rows by the normalized value of field. Rows where the
// field is nil are skipped.
func GroupByField(rows []map[string]interface{}, field string) map[string][]map[string]interface{} {
	grouped := make(map[string][]map[string]interface{})
	for _, row := range rows {
		raw := row[field]
		if raw == nil {
			continue
		}
		key := KeyOf(raw)
		grouped[key] = append(grouped[key], row)
	}
	return grouped
}
