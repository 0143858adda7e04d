package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"sqlprovider/internal/apperr"
	"sqlprovider/internal/dialect"
	"sqlprovider/internal/logging"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// statusFor maps a provider error to an HTTP status.
func statusFor(err error) int {
	e, ok := apperr.As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case apperr.KindValidation, apperr.KindSchema:
		return http.StatusBadRequest
	case apperr.KindConfiguration:
		return http.StatusInternalServerError
	}
	switch {
	case e.Code == apperr.CodeNotFound:
		return http.StatusNotFound
	case dialect.IsConstraintCode(e.Code):
		return http.StatusConflict
	case e.Code == apperr.CodeAccessDenied:
		return http.StatusForbidden
	default:
		return http.StatusBadGateway
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	detail := errorDetail{Kind: "internal", Message: "internal error"}
	if e, ok := apperr.As(err); ok {
		detail = errorDetail{Kind: string(e.Kind), Code: e.Code, Message: e.Message}
	}
	if e, ok := apperr.As(err); ok && e.Kind == apperr.KindQuery && status == http.StatusBadGateway {
		// Driver messages can carry SQL and values.
		detail.Message = "query failed"
	}

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.requestLogger(r).Log(r.Context(), level, "request failed",
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)
	writeJSON(w, status, errorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// requestLogger prefers the request-scoped logger installed by the logging
// middleware.
func (h *Handler) requestLogger(r *http.Request) *slog.Logger {
	if logging.GetRequestID(r.Context()) != "" {
		return logging.FromContext(r.Context()).Logger
	}
	return h.logger
}
