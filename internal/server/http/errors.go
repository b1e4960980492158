package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nadeko0/wschat/internal/errs"
	"go.uber.org/zap"
)

type errorBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

// statusFor maps domain errors to HTTP statuses and client-safe details.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errs.ErrInvalidInput):
		return http.StatusBadRequest, "Invalid request"
	case errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusBadRequest, "User already exists"
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized, "Not authorized"
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests, "Too many requests"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, detail := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeDetail(w, code, detail)
}
