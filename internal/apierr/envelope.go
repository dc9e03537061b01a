package apierr

import (
	"net/http"

	"github.com/goccy/go-json"
)

// Envelope is the wire shape of every error response.
type Envelope struct {
	Error Detail `json:"error"`
}

// Detail is the body of Envelope.Error.
type Detail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// Write serializes err as an Envelope with the matching HTTP status code.
func Write(w http.ResponseWriter, err error) {
	e := AsError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode())
	_ = json.NewEncoder(w).Encode(Envelope{Error: Detail{
		Message: e.Message,
		Type:    string(e.Type),
		Code:    e.Code,
	}})
}
