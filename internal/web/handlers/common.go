package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strings"

	"github.com/kozaktomas/face-auth/internal/faceauth"
)

// errInvalidRequestBody is a shared error message for malformed multipart bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// ErrorResponse is the body of a failed API call.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	Field   string `json:"field,omitempty"`
}

// NotRecognizedResponse is the body of a rejected login. Distance is null
// when there was nothing enrolled to compare against.
type NotRecognizedResponse struct {
	Status   string   `json:"status"`
	Message  string   `json:"message"`
	Kind     string   `json:"kind"`
	Distance *float64 `json:"distance"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Status: "error", Message: message})
}

// statusFor maps a coordinator error kind onto an HTTP status.
func statusFor(kind faceauth.Kind) int {
	switch kind {
	case faceauth.KindIncompleteInput,
		faceauth.KindInvalidImageFormat,
		faceauth.KindInsufficientValidSamples,
		faceauth.KindDuplicateField,
		faceauth.KindNoFaceDetected:
		return http.StatusBadRequest
	case faceauth.KindNotRecognized:
		return http.StatusUnauthorized
	case faceauth.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// respondFaceAuthError renders a coordinator error. Internal failures do not
// expose their cause.
func respondFaceAuthError(w http.ResponseWriter, err error) {
	var e *faceauth.Error
	if !errors.As(err, &e) {
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	status := statusFor(e.Kind)
	if e.Kind == faceauth.KindNotRecognized {
		resp := NotRecognizedResponse{Status: "error", Message: e.Message, Kind: string(e.Kind)}
		if e.HasDistance() {
			d := roundDistance(e.Distance)
			resp.Distance = &d
		}
		respondJSON(w, status, resp)
		return
	}

	resp := ErrorResponse{Status: "error", Kind: string(e.Kind), Message: e.Message, Field: string(e.Field)}
	if status == http.StatusInternalServerError {
		resp.Message = "internal server error"
	}
	respondJSON(w, status, resp)
}

func roundDistance(d float64) float64 {
	return math.Round(d*1e4) / 1e4
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
