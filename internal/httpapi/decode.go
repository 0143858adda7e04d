package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	"sqlprovider/internal/apperr"
	"sqlprovider/internal/sqltype"
)

// decodeBody reads a JSON object into dst. Numbers are kept exact and
// converted to int64 where they are integral.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body := r.Body
	if h.maxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}
	dec := json.NewDecoder(body)
	dec.UseNumber()

	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return apperr.Validation("request body exceeds %d bytes", tooLarge.Limit)
		case errors.Is(err, io.EOF):
			return apperr.Validation("request body is empty")
		default:
			return apperr.Validation("request body is not valid JSON: %v", err)
		}
	}
	if dec.More() {
		return apperr.Validation("request body must hold a single JSON value")
	}

	switch typed := dst.(type) {
	case *interface{}:
		*typed = normalizeNumbers(raw)
		return nil
	case *map[string]interface{}:
		obj, ok := normalizeNumbers(raw).(map[string]interface{})
		if !ok {
			return apperr.Validation("request body must be a JSON object")
		}
		*typed = obj
		return nil
	}

	obj, ok := normalizeNumbers(raw).(map[string]interface{})
	if !ok {
		return apperr.Validation("request body must be a JSON object")
	}
	return decodeInto(obj, dst)
}

// decodeInto maps a normalized object onto a request struct by its json
// tags. Nested values such as filters and variables keep the int64 types
// normalizeNumbers produced.
func decodeInto(obj map[string]interface{}, dst interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		ErrorUnused: true,
		Result:      dst,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(obj); err != nil {
		return apperr.Validation("request body is invalid: %v", err)
	}
	return nil
}

func normalizeNumbers(v interface{}) interface{} {
	switch typed := v.(type) {
	case json.Number:
		if i, err := typed.Int64(); err == nil {
			return i
		}
		if f, err := typed.Float64(); err == nil {
			return f
		}
		return typed.String()
	case map[string]interface{}:
		for k, item := range typed {
			typed[k] = normalizeNumbers(item)
		}
		return typed
	case []interface{}:
		for i, item := range typed {
			typed[i] = normalizeNumbers(item)
		}
		return typed
	default:
		return v
	}
}

// pathKey reads the {id} path value and parses it by the declared type of
// the resource's primary key. Keys without a declared type become int64 when
// numeric. Unknown resources fall through so the provider reports them.
func (h *Handler) pathKey(r *http.Request) (interface{}, error) {
	raw := r.PathValue("id")
	table, ok := h.provider.Schema().Table(r.PathValue("resource"))
	if !ok {
		return raw, nil
	}
	pk, err := table.PrimaryKeyColumn()
	if err != nil {
		return raw, nil
	}
	if pk.DataType == "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return id, nil
		}
		return raw, nil
	}
	id, err := sqltype.ParseKey(sqltype.Classify(pk.DataType), raw)
	if err != nil {
		return nil, apperr.Validation("%s: %v", pk.Name, err)
	}
	return id, nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
