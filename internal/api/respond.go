package api

import (
	"encoding/json"
	"log"
	"net/http"
)

// Error codes surfaced to the operator console.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeDuplicateChecksum = "DUPLICATE_CHECKSUM"
	CodeNetwork           = "NETWORK_ERROR"
	CodeInternal          = "INTERNAL_ERROR"
)

type successEnvelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(successEnvelope{Success: true, Data: data}); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorEnvelope{Error: errorBody{Code: code, Message: message}}); err != nil {
		log.Printf("[api] encode error response: %v", err)
	}
}
