package gateway

import (
	"encoding/json"
	"net/http"
)

// Enforcement error codes surfaced to clients. Responses never carry
// internal detail beyond these codes.
const (
	CodeTenantRequired    = "TenantRequired"
	CodePluginDisabled    = "PluginDisabled"
	CodeFeatureDisabled   = "E_FEATURE_DISABLED"
	CodePluginNotFound    = "PluginNotFound"
	CodePluginQuarantined = "PluginQuarantined"
	CodePluginNotActive   = "PluginNotActive"
	CodeInternalError     = "InternalError"
)

// errorBody is the JSON envelope for enforcement denials.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
