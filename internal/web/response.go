package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// Pre-marshaled fallback so an encoding failure still yields valid JSON.
var fallbackErrorResponse []byte

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(errorResponse{Error: "Internal server error"})
	if err != nil {
		panic(fmt.Sprintf("marshal fallback error response: %v", err))
	}
}

// writeJSON marshals before writing headers so that a failure can still
// change the status code.
func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("Failed to marshal JSON response", zap.Error(err))
		data = fallbackErrorResponse
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logger.Warn("Failed to write JSON response", zap.Error(err))
	}
}
