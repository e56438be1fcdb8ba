package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"campuscart/chat-service/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logrus.WithError(err).Error("Failed to encode response")
	}
}

func writeErrorStatus(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}

// statusFor maps an error kind to its HTTP status and error code.
func statusFor(err error) (int, string) {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest, "invalid_argument"
	case apperr.KindNotFound:
		return http.StatusNotFound, "not_found"
	case apperr.KindAuth:
		return http.StatusUnauthorized, "unauthorized"
	case apperr.KindForbidden:
		return http.StatusForbidden, "forbidden"
	case apperr.KindStorage:
		return http.StatusServiceUnavailable, "unavailable"
	case apperr.KindChannel:
		return http.StatusBadGateway, "channel_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)

	message := apperr.MessageOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"path":   r.URL.Path,
			"status": status,
		}).Error("Request failed")
		if status == http.StatusInternalServerError {
			message = "an unexpected error occurred"
		}
	}

	writeErrorStatus(w, status, code, message)
}
