package auth

import (
	"encoding/json"
	"net/http"
)

type envelope struct {
	Success bool    `json:"success"`
	Code    string  `json:"code,omitempty"`
	Message string  `json:"message"`
	Data    any     `json:"data,omitempty"`
	Tokens  *Tokens `json:"tokens,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any, tokens *Tokens) {
	writeJSON(w, status, envelope{Success: true, Message: message, Data: data, Tokens: tokens})
}

func writeFailure(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, envelope{Success: false, Code: code, Message: message})
}

// WriteError renders err the way every auth endpoint reports failures.
func WriteError(w http.ResponseWriter, err error) {
	outcome := Describe(err)
	writeFailure(w, outcome.Status, outcome.Code, outcome.Message)
}
