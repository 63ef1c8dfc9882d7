package util

import (
	"encoding/json"
	"net/http"
)

// WriteJSONError writes {"error": code, "error_description": description}
// with the given status.
func WriteJSONError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}
