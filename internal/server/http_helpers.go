package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
)

func readJSON(body io.Reader, dest any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeAPIError maps a domain error onto the wire: the error kind picks the
// HTTP status, and external-service errors carry their cause.
func writeAPIError(w http.ResponseWriter, err error) {
	kind := errorKind(err)
	body := map[string]string{
		"error": err.Error(),
		"kind":  kind,
	}
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.cause != "" {
		body["cause"] = apiErr.cause
	}
	writeJSON(w, statusForKind(kind), body)
}

func parseRoomID(value string) (uint, bool) {
	id, err := strconv.ParseUint(value, 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
